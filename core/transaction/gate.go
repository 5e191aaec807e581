package transaction

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// TransactionGate is a fair, transaction-scoped mutual-exclusion
// primitive. It serializes the Prepare-through-finish critical sections of
// every shadow sharing a backing store, granting ownership to waiters in
// strict FIFO arrival order.
//
// The waiter queue is a mutex-protected slice of waiters, each parked on
// its own channel, woken one at a time by whoever releases ownership.
type TransactionGate struct {
	mu      sync.Mutex
	owned   bool
	owner   TxnHandle
	waiters []*gateWaiter

	logger  *zap.Logger
	metrics *Metrics
}

type gateWaiter struct {
	txn     TxnHandle
	granted chan bool // true: ownership granted; false: cancelled
}

// NewTransactionGate constructs an unowned gate. logger and metrics may be
// nil; a nil logger is replaced with a no-op logger.
func NewTransactionGate(logger *zap.Logger, metrics *Metrics) *TransactionGate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TransactionGate{logger: logger, metrics: metrics}
}

// Lock requests ownership on behalf of txn, blocking the caller until
// ownership is granted or the wait is cancelled (see Cancel). It returns
// true if txn now owns the gate, false if the wait was cancelled before
// ownership was granted — in which case the gate's state is exactly as if
// txn had never called Lock.
//
// Lock is reentrant: if txn already owns the gate, it returns true
// immediately.
func (g *TransactionGate) Lock(txn TxnHandle) bool {
	g.mu.Lock()
	if !g.owned {
		g.owned = true
		g.owner = txn
		g.mu.Unlock()
		g.logger.Debug("gate acquired uncontended", zap.Stringer("txn", txn))
		return true
	}
	if g.owner == txn {
		g.mu.Unlock()
		return true
	}

	w := &gateWaiter{txn: txn, granted: make(chan bool, 1)}
	g.waiters = append(g.waiters, w)
	g.mu.Unlock()

	g.logger.Debug("gate contended, waiting", zap.Stringer("txn", txn), zap.Stringer("owner", g.owner))
	start := time.Now()
	granted := <-w.granted
	g.metrics.recordGateWait(time.Since(start))
	return granted
}

// Unlock releases ownership. If waiters are queued, the head of the queue
// (in FIFO arrival order) is granted ownership and woken; otherwise the gate
// becomes unowned. Ownership transfer happens inside the gate's mutex so no
// other goroutine can observe an unowned gate with waiters still queued.
func (g *TransactionGate) Unlock() {
	g.mu.Lock()
	if len(g.waiters) > 0 {
		next := g.waiters[0]
		g.waiters = g.waiters[1:]
		g.owner = next.txn
		g.mu.Unlock()
		next.granted <- true
		g.logger.Debug("gate handed off", zap.Stringer("txn", next.txn))
		return
	}
	g.owned = false
	g.owner = NoTransaction
	g.mu.Unlock()
}

// Cancel removes txn's waiter record from the pending queue, if present,
// and wakes it with a false result. This is the external-cancellation
// path: when a TxnManager aborts a transaction that is still enqueued
// waiting for the gate (its shadow's Prepare has not yet been granted
// ownership), Cancel guarantees that blocked Lock call returns instead of
// waiting forever for a grant that will never come.
//
// Cancel is a no-op if txn is not currently enqueued (it may already own
// the gate, or may never have called Lock).
func (g *TransactionGate) Cancel(txn TxnHandle) {
	g.mu.Lock()
	for i, w := range g.waiters {
		if w.txn == txn {
			g.waiters = append(g.waiters[:i], g.waiters[i+1:]...)
			g.mu.Unlock()
			w.granted <- false
			g.logger.Debug("gate wait cancelled", zap.Stringer("txn", txn))
			return
		}
	}
	g.mu.Unlock()
}

// IsLocked reports whether any transaction currently owns the gate.
func (g *TransactionGate) IsLocked() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.owned
}

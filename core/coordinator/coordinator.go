// Package coordinator provides an in-process, in-memory TxnManager: a
// reference implementation kept minimal enough to drive the transactional
// core through its 2PC contract in tests and examples. It never persists a
// transaction log, never times out a participant, and never spans
// processes; it is not a substitute for a real distributed transaction
// manager.
package coordinator

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/sushant-115/txndict/core/transaction"
)

type txnEntry struct {
	participants []transaction.Participant
	onCompleted  []func()
}

// Manager is a single-process TxnManager backed by transaction.AmbientContext
// for "current transaction" lookup and an in-memory registry of enlisted
// participants. Complete and Abort drive the enlisted Participants through
// their 2PC callbacks directly, with no write-ahead log or replicated
// state behind them.
type Manager struct {
	ambient *transaction.AmbientContext

	mu      sync.Mutex
	entries map[transaction.TxnHandle]*txnEntry

	logger *zap.Logger
}

// New constructs an empty Manager. logger may be nil.
func New(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		ambient: transaction.NewAmbientContext(),
		entries: make(map[transaction.TxnHandle]*txnEntry),
		logger:  logger,
	}
}

// Begin mints a new transaction handle, binds it as the calling goroutine's
// ambient transaction, and opens its participant registry entry.
func (m *Manager) Begin() transaction.TxnHandle {
	txn := transaction.NewTxnHandle()
	m.ambient.Bind(txn)

	m.mu.Lock()
	m.entries[txn] = &txnEntry{}
	m.mu.Unlock()

	m.logger.Debug("transaction begun", zap.Stringer("txn", txn))
	return txn
}

// Current returns the calling goroutine's ambient transaction.
func (m *Manager) Current() (transaction.TxnHandle, bool) {
	return m.ambient.Current()
}

// EnlistVolatile registers p to receive txn's 2PC callbacks.
func (m *Manager) EnlistVolatile(txn transaction.TxnHandle, p transaction.Participant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[txn]
	if !ok {
		return transaction.ErrUnknownTransaction
	}
	e.participants = append(e.participants, p)
	return nil
}

// OnCompleted registers fn to run once, after txn terminates by Complete or
// Abort. Callbacks run synchronously, in registration order, on the
// goroutine that calls Complete/Abort.
func (m *Manager) OnCompleted(txn transaction.TxnHandle, fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[txn]
	if !ok {
		return
	}
	e.onCompleted = append(e.onCompleted, fn)
}

// Complete runs the two-phase commit protocol over every participant
// enlisted with txn: Prepare all of them concurrently, and only if every
// vote is Prepared does it proceed to Commit all of them; a single
// ForceRollback rolls every participant back instead, including ones that
// already voted to prepare.
func (m *Manager) Complete(ctx context.Context) error {
	txn, ok := m.Current()
	if !ok {
		return transaction.ErrNoAmbientTransaction
	}
	return m.complete(txn)
}

func (m *Manager) complete(txn transaction.TxnHandle) error {
	e, err := m.takeEntry(txn)
	if err != nil {
		return err
	}

	if prepErr := runPrepare(e.participants); prepErr != nil {
		m.logger.Warn("prepare failed, rolling back", zap.Stringer("txn", txn), zap.Error(prepErr))
		runPhase(e.participants, func(p transaction.Participant, en transaction.Enlistment) { p.Rollback(en) })
		m.finish(txn, e)
		return fmt.Errorf("coordinator: prepare failed: %w", prepErr)
	}

	runPhase(e.participants, func(p transaction.Participant, en transaction.Enlistment) { p.Commit(en) })
	m.logger.Debug("transaction committed", zap.Stringer("txn", txn), zap.Int("participants", len(e.participants)))
	m.finish(txn, e)
	return nil
}

// Abort rolls every enlisted participant back without attempting Prepare,
// then finishes txn, which runs its OnCompleted callbacks. The coordinator
// itself has no visibility into gates, which belong to core/store's façade:
// a Prepare already blocked inside some other goroutine's gate wait is
// released by the TransactionGate.Cancel callback that the façade registers
// through OnCompleted for every transaction it enlists.
func (m *Manager) Abort(txn transaction.TxnHandle) error {
	e, err := m.takeEntry(txn)
	if err != nil {
		return err
	}
	runPhase(e.participants, func(p transaction.Participant, en transaction.Enlistment) { p.Rollback(en) })
	m.logger.Debug("transaction aborted", zap.Stringer("txn", txn), zap.Int("participants", len(e.participants)))
	m.finish(txn, e)
	return nil
}

func (m *Manager) takeEntry(txn transaction.TxnHandle) (*txnEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[txn]
	if !ok {
		return nil, transaction.ErrUnknownTransaction
	}
	delete(m.entries, txn)
	return e, nil
}

func (m *Manager) finish(txn transaction.TxnHandle, e *txnEntry) {
	m.ambient.Unbind()
	for _, fn := range e.onCompleted {
		fn()
	}
}

// enlistment is a one-shot transaction.Enlistment: whichever of its methods
// the participant calls, it publishes exactly one outcome and returns.
type enlistment struct {
	done    chan struct{}
	prepare chan error
}

func newPrepareEnlistment() *enlistment {
	return &enlistment{prepare: make(chan error, 1)}
}

func newPhaseEnlistment() *enlistment {
	return &enlistment{done: make(chan struct{})}
}

func (e *enlistment) Done()                   { close(e.done) }
func (e *enlistment) Prepared()               { e.prepare <- nil }
func (e *enlistment) ForceRollback(err error) { e.prepare <- err }

// runPrepare calls Prepare on every participant concurrently and waits for
// every vote. It returns the first non-nil ForceRollback error, if any.
func runPrepare(participants []transaction.Participant) error {
	var wg sync.WaitGroup
	errs := make([]error, len(participants))
	for i, p := range participants {
		wg.Add(1)
		go func(i int, p transaction.Participant) {
			defer wg.Done()
			en := newPrepareEnlistment()
			p.Prepare(en)
			errs[i] = <-en.prepare
		}(i, p)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// runPhase calls fn on every participant concurrently with a fresh
// Done-only enlistment, and waits for every one to finish.
func runPhase(participants []transaction.Participant, fn func(transaction.Participant, transaction.Enlistment)) {
	var wg sync.WaitGroup
	for _, p := range participants {
		wg.Add(1)
		go func(p transaction.Participant) {
			defer wg.Done()
			en := newPhaseEnlistment()
			fn(p, en)
			<-en.done
		}(p)
	}
	wg.Wait()
}

var _ transaction.TxnManager = (*Manager)(nil)

package transaction

import (
	"sync"

	"github.com/google/uuid"

	commonutils "github.com/sushant-115/txndict/internal/common_utils"
)

// TxnHandle identifies a single ambient transaction. It is comparable, so it
// can key a map (the façade's shadow registry, the gate's owner field) or be
// compared with ==. The zero value is the "no-transaction" sentinel that
// TransactionGate.Lock and TxnManager.Current use to mean "no ambient
// transaction is in scope".
type TxnHandle struct {
	id uuid.UUID
}

// NoTransaction is the sentinel handle representing "no ambient transaction".
var NoTransaction = TxnHandle{}

// NewTxnHandle mints a fresh, globally unique transaction handle.
func NewTxnHandle() TxnHandle {
	return TxnHandle{id: uuid.New()}
}

// IsZero reports whether h is the NoTransaction sentinel.
func (h TxnHandle) IsZero() bool {
	return h.id == uuid.Nil
}

// String returns the handle's UUID text form, satisfying fmt.Stringer so it
// prints cleanly in zap fields (zap.Stringer("txn", h)).
func (h TxnHandle) String() string {
	return h.id.String()
}

// AmbientContext tracks the calling goroutine's current transaction, the
// way a thread-local would in a language that has one: Go has no
// thread-local storage, but a goroutine is pinned to one OS thread for the
// lifetime of a blocking call, so goroutine identity (commonutils.GoID) is
// a serviceable stand-in for "the calling worker".
//
// Callers that need transactions to survive across goroutines (e.g. a
// request handled by a worker pool) should propagate the TxnHandle
// explicitly instead of relying on this; AmbientContext exists so callers
// can ask for "the current transaction" without threading a
// context.Context through every call.
type AmbientContext struct {
	mu      sync.Mutex
	current map[int64]TxnHandle
}

// NewAmbientContext returns an empty ambient-transaction table.
func NewAmbientContext() *AmbientContext {
	return &AmbientContext{current: make(map[int64]TxnHandle)}
}

// Bind associates the calling goroutine with txn until Unbind is called.
func (a *AmbientContext) Bind(txn TxnHandle) {
	gid := commonutils.GoID()
	a.mu.Lock()
	a.current[gid] = txn
	a.mu.Unlock()
}

// Unbind clears the calling goroutine's ambient transaction, if any.
func (a *AmbientContext) Unbind() {
	gid := commonutils.GoID()
	a.mu.Lock()
	delete(a.current, gid)
	a.mu.Unlock()
}

// Current returns the calling goroutine's ambient transaction handle, or
// (NoTransaction, false) if none is bound.
func (a *AmbientContext) Current() (TxnHandle, bool) {
	gid := commonutils.GoID()
	a.mu.Lock()
	txn, ok := a.current[gid]
	a.mu.Unlock()
	return txn, ok
}

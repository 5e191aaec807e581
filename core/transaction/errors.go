package transaction

import "errors"

// --- Error Definitions ---
//
// Sentinel errors, compared with errors.Is by callers.

var (
	// ErrNoAmbientTransaction is returned when a shadow is constructed
	// outside of any ambient transaction.
	ErrNoAmbientTransaction = errors.New("transaction: no ambient transaction")
	// ErrReadOnlyBackingStore is returned when a shadow is constructed over
	// a read-only backing store.
	ErrReadOnlyBackingStore = errors.New("transaction: backing store is read-only")
	// ErrKeyNotFound is returned by lookup-or-fail operations on an absent key.
	ErrKeyNotFound = errors.New("transaction: key not found")
	// ErrUnknownTransaction is returned by TxnManager operations addressed
	// to a transaction handle the manager has no record of.
	ErrUnknownTransaction = errors.New("transaction: unknown transaction handle")
	// ErrTransactionAborted is used internally to force a rollback when a
	// shadow's Prepare loses the race against an external abort while
	// blocked acquiring the gate.
	ErrTransactionAborted = errors.New("transaction: aborted while waiting for gate")
)

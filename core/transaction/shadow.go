package transaction

import (
	"sync"

	"go.uber.org/zap"
)

// entryState distinguishes a tentative write from a tentative removal in a
// shadow's overlay.
type entryState int

const (
	entrySet entryState = iota
	entryTombstone
)

type overlayEntry[V any] struct {
	state entryState
	value V
}

// undoRecord is one (key, prior-state) pair: priorPresent distinguishes
// Set(v_old) from Absent.
type undoRecord[K comparable, V any] struct {
	key          K
	priorPresent bool
	priorValue   V
}

// BackingStore is the external, single-thread-safe mutable mapping the
// core mutates at commit time.
type BackingStore[K comparable, V any] interface {
	ContainsKey(key K) bool
	TryGet(key K) (V, bool)
	Set(key K, value V)
	Remove(key K) bool
	// Enumerate returns a snapshot of every key/value pair currently in
	// the store. The shadow never mutates the returned map.
	Enumerate() map[K]V
	IsReadOnly() bool
}

// TransactionShadow is a per-transaction overlay and 2PC participant. The
// type itself is exported, but its constructor and overlay operations are
// not: the façade (core/store) reaches them only through facade.go, and
// only the 2PC callbacks are exported methods.
type TransactionShadow[K comparable, V any] struct {
	mu sync.Mutex

	txn   TxnHandle
	store BackingStore[K, V]
	gate  *TransactionGate

	overlay map[K]overlayEntry[V]
	undo    []undoRecord[K, V]
	// prepared is monotonic: once true it is never reset.
	prepared bool
	// hasGate records whether this shadow's Prepare actually acquired the
	// gate, so finished() only releases it when it does.
	hasGate bool
	// finishedOnce guarantees the registry-entry removal happens exactly
	// once.
	finishedOnce sync.Once

	logger  *zap.Logger
	metrics *Metrics

	// onFinished is the façade's eviction hook: it removes this shadow
	// from the registry. Called after the gate (if held) is released.
	onFinished func(TxnHandle)
}

// newTransactionShadow constructs a shadow for txn over store, guarded by
// gate. Fails with ErrNoAmbientTransaction if txn is the zero value, or
// ErrReadOnlyBackingStore if store is read-only.
func newTransactionShadow[K comparable, V any](
	txn TxnHandle,
	store BackingStore[K, V],
	gate *TransactionGate,
	logger *zap.Logger,
	metrics *Metrics,
	onFinished func(TxnHandle),
) (*TransactionShadow[K, V], error) {
	if txn.IsZero() {
		return nil, ErrNoAmbientTransaction
	}
	if store.IsReadOnly() {
		return nil, ErrReadOnlyBackingStore
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TransactionShadow[K, V]{
		txn:        txn,
		store:      store,
		gate:       gate,
		overlay:    make(map[K]overlayEntry[V]),
		logger:     logger,
		metrics:    metrics,
		onFinished: onFinished,
	}, nil
}

// --- Read path ---

func (s *TransactionShadow[K, V]) get(key K) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(key)
}

func (s *TransactionShadow[K, V]) getLocked(key K) (V, bool) {
	if e, ok := s.overlay[key]; ok {
		if e.state == entryTombstone {
			var zero V
			return zero, false
		}
		return e.value, true
	}
	return s.store.TryGet(key)
}

func (s *TransactionShadow[K, V]) containsKey(key K) bool {
	_, ok := s.get(key)
	return ok
}

func (s *TransactionShadow[K, V]) contains(key K, value V, equal func(V, V) bool) bool {
	cur, ok := s.get(key)
	return ok && equal(cur, value)
}

// materialize copies the backing store, then folds the overlay in (Set
// overwrites, Tombstone removes). Iteration order over the result is
// unspecified.
func (s *TransactionShadow[K, V]) materialize() map[K]V {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.materializeLocked()
}

func (s *TransactionShadow[K, V]) materializeLocked() map[K]V {
	view := s.store.Enumerate()
	for k, e := range s.overlay {
		switch e.state {
		case entrySet:
			view[k] = e.value
		case entryTombstone:
			delete(view, k)
		}
	}
	return view
}

func (s *TransactionShadow[K, V]) count() int {
	return len(s.materialize())
}

// --- Write path ---

func (s *TransactionShadow[K, V]) set(key K, value V) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overlay[key] = overlayEntry[V]{state: entrySet, value: value}
}

func (s *TransactionShadow[K, V]) remove(key K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, wasPresent := s.getLocked(key)
	s.overlay[key] = overlayEntry[V]{state: entryTombstone}
	return wasPresent
}

// removeEntry implements remove-by-pair. A Tombstone is written even when
// the stored value does not match value; only the returned boolean
// reflects the match. This preserves a quirk of the reference behavior
// deliberately rather than silently "fixing" it.
func (s *TransactionShadow[K, V]) removeEntry(key K, value V, equal func(V, V) bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.getLocked(key)
	matched := ok && equal(cur, value)
	s.overlay[key] = overlayEntry[V]{state: entryTombstone}
	return matched
}

func (s *TransactionShadow[K, V]) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	view := s.materializeLocked()
	for k := range view {
		s.overlay[k] = overlayEntry[V]{state: entryTombstone}
	}
}

// --- 2PC participant contract ---

// Prepare applies the overlay to the backing store under gate ownership,
// recording undo information for each mutated key. If the gate wait is
// cancelled (the owning transaction was aborted externally while this
// Prepare was still queued), Prepare never touches the backing store and
// force-rolls-back instead.
func (s *TransactionShadow[K, V]) Prepare(e Enlistment) {
	if !s.applyOverlay() {
		s.logger.Debug("prepare lost the gate race, forcing rollback", zap.Stringer("txn", s.txn))
		e.ForceRollback(ErrTransactionAborted)
		return
	}
	s.metrics.recordPrepared()
	s.logger.Debug("prepared", zap.Stringer("txn", s.txn))
	e.Prepared()
}

// Commit applies the overlay if Prepare has not already run (single-phase
// commit), then evicts the shadow. If that single-phase apply loses the
// gate race (txn was aborted out from under a caller that skipped Prepare),
// nothing was written to the backing store and this reports no committed
// entries rather than pretending the commit succeeded.
func (s *TransactionShadow[K, V]) Commit(e Enlistment) {
	s.mu.Lock()
	prepared := s.prepared
	s.mu.Unlock()
	if !prepared && !s.applyOverlay() {
		s.logger.Warn("commit lost the gate race, nothing was applied", zap.Stringer("txn", s.txn))
		s.finished()
		e.Done()
		return
	}
	s.metrics.recordCommitted()
	s.logger.Debug("committed", zap.Stringer("txn", s.txn))
	s.finished()
	e.Done()
}

// applyOverlay is the forward-mutation body shared by Prepare and Commit's
// single-phase path: it acquires the gate, applies every overlay entry to
// the backing store, and records undo information before returning.
// Returns false without touching the backing store if the gate wait was
// cancelled out from under it.
func (s *TransactionShadow[K, V]) applyOverlay() bool {
	if !s.gate.Lock(s.txn) {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hasGate = true
	for k, entry := range s.overlay {
		old, existed := s.store.TryGet(k)
		switch entry.state {
		case entrySet:
			s.store.Set(k, entry.value)
		case entryTombstone:
			s.store.Remove(k)
		}
		s.undo = append(s.undo, undoRecord[K, V]{key: k, priorPresent: existed, priorValue: old})
	}
	s.prepared = true
	return true
}

// Rollback reverses whatever Prepare applied, in order, then evicts the
// shadow. If Prepare never ran, undo is empty and this is a no-op besides
// eviction.
func (s *TransactionShadow[K, V]) Rollback(e Enlistment) {
	s.mu.Lock()
	undo := s.undo
	s.undo = nil
	s.mu.Unlock()

	for _, rec := range undo {
		if rec.priorPresent {
			s.store.Set(rec.key, rec.priorValue)
		} else {
			s.store.Remove(rec.key)
		}
	}
	s.metrics.recordRolledBack()
	s.logger.Debug("rolled back", zap.Stringer("txn", s.txn), zap.Int("undone", len(undo)))
	s.finished()
	e.Done()
}

// InDoubt accepts the outcome silently: no automatic recovery is
// attempted, and the backing store is left exactly as the most recent
// callback left it.
func (s *TransactionShadow[K, V]) InDoubt(e Enlistment) {
	s.metrics.recordInDoubt()
	s.logger.Warn("transaction in doubt, leaving state as-is", zap.Stringer("txn", s.txn))
	s.finished()
	e.Done()
}

// finished releases the gate (if held) and evicts this shadow from the
// façade's registry, in that order: releasing the gate first means the
// next transaction's shadow construction never blocks behind the registry
// mutex while this shadow still holds the gate mutex. Runs at most once.
func (s *TransactionShadow[K, V]) finished() {
	s.finishedOnce.Do(func() {
		s.mu.Lock()
		hasGate := s.hasGate
		s.mu.Unlock()
		if hasGate {
			s.gate.Unlock()
		}
		if s.onFinished != nil {
			s.onFinished(s.txn)
		}
		s.metrics.recordEvicted()
	})
}

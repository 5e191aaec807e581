package transaction

import "go.uber.org/zap"

// This file is the seam between TransactionShadow's unexported constructor
// and methods and core/store's façade, which lives in a different package
// and therefore cannot reach shadow.go's lowercase methods directly. Every
// Shadow* function here is a one-line pass-through; NewShadowForFacade also
// records the enlistment metric. The actual overlay and 2PC logic all stays
// in shadow.go.

// NewShadowForFacade constructs and returns a shadow ready to be enlisted
// with a TxnManager. onFinished is invoked once, after the gate (if held)
// has been released, so the façade can safely evict the shadow from its
// registry without contending with gate ownership handoff.
func NewShadowForFacade[K comparable, V any](
	txn TxnHandle,
	store BackingStore[K, V],
	gate *TransactionGate,
	logger *zap.Logger,
	metrics *Metrics,
	onFinished func(TxnHandle),
) (*TransactionShadow[K, V], error) {
	s, err := newTransactionShadow(txn, store, gate, logger, metrics, onFinished)
	if err != nil {
		return nil, err
	}
	metrics.recordEnlisted()
	return s, nil
}

// ShadowGet returns the shadow's effective value for key.
func ShadowGet[K comparable, V any](s *TransactionShadow[K, V], key K) (V, bool) {
	return s.get(key)
}

// ShadowContainsKey reports whether key is present in the shadow's effective
// view.
func ShadowContainsKey[K comparable, V any](s *TransactionShadow[K, V], key K) bool {
	return s.containsKey(key)
}

// ShadowContains reports whether key is present with a value equal to value
// under equal.
func ShadowContains[K comparable, V any](s *TransactionShadow[K, V], key K, value V, equal func(V, V) bool) bool {
	return s.contains(key, value, equal)
}

// ShadowSet overlays key to Set(value).
func ShadowSet[K comparable, V any](s *TransactionShadow[K, V], key K, value V) {
	s.set(key, value)
}

// ShadowRemove overlays key to Tombstone, returning whether it was present
// beforehand.
func ShadowRemove[K comparable, V any](s *TransactionShadow[K, V], key K) bool {
	return s.remove(key)
}

// ShadowRemoveEntry overlays key to Tombstone unconditionally, returning
// whether the effective value matched value beforehand.
func ShadowRemoveEntry[K comparable, V any](s *TransactionShadow[K, V], key K, value V, equal func(V, V) bool) bool {
	return s.removeEntry(key, value, equal)
}

// ShadowClear overlays every currently-effective key to Tombstone.
func ShadowClear[K comparable, V any](s *TransactionShadow[K, V]) {
	s.clear()
}

// ShadowCount returns the number of keys in the shadow's effective view.
func ShadowCount[K comparable, V any](s *TransactionShadow[K, V]) int {
	return s.count()
}

// ShadowMaterialize returns a snapshot of the shadow's effective view.
func ShadowMaterialize[K comparable, V any](s *TransactionShadow[K, V]) map[K]V {
	return s.materialize()
}

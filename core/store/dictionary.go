package store

import (
	"sync"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/sushant-115/txndict/core/transaction"
)

// TransactionalDictionary is the public façade: a mutable K→V mapping that
// routes every operation either straight to the backing store (no ambient
// transaction) or through the calling transaction's shadow, creating that
// shadow lazily on first touch.
//
// It is safe for concurrent use only when different goroutines are acting
// under different transactions (or no transaction) — this is not a
// general-purpose concurrent map.
type TransactionalDictionary[K comparable, V any] struct {
	// registryMu protects shadows only. It is never held across a gate
	// acquisition, and is released before control returns to caller code
	// that will operate on the shadow.
	registryMu sync.Mutex
	shadows    map[transaction.TxnHandle]*transaction.TransactionShadow[K, V]

	store   transaction.BackingStore[K, V]
	gate    *transaction.TransactionGate
	manager transaction.TxnManager
	equal   func(a, b V) bool
	logger  *zap.Logger
	metrics *transaction.Metrics
}

// Option configures a TransactionalDictionary at construction time.
type Option[K comparable, V any] func(*TransactionalDictionary[K, V])

// WithLogger attaches a *zap.Logger. Nil is equivalent to not calling this.
func WithLogger[K comparable, V any](logger *zap.Logger) Option[K, V] {
	return func(d *TransactionalDictionary[K, V]) { d.logger = logger }
}

// WithMeter attaches an OTel metric.Meter, instrumenting the gate and every
// shadow this dictionary creates.
func WithMeter[K comparable, V any](meter metric.Meter) Option[K, V] {
	return func(d *TransactionalDictionary[K, V]) {
		if metrics, err := transaction.NewMetrics(meter); err == nil {
			d.metrics = metrics
		}
	}
}

// WithEqual overrides the value-equality relation used by Contains and
// RemoveEntry. The default is reflect.DeepEqual-free: callers of a
// TransactionalDictionary over a non-comparable V must supply one.
func WithEqual[K comparable, V any](equal func(a, b V) bool) Option[K, V] {
	return func(d *TransactionalDictionary[K, V]) { d.equal = equal }
}

// New constructs a façade over store, driven by manager. A fresh
// TransactionGate is created and owned by this dictionary: one gate per
// backing store.
func New[K comparable, V any](store transaction.BackingStore[K, V], manager transaction.TxnManager, opts ...Option[K, V]) *TransactionalDictionary[K, V] {
	d := &TransactionalDictionary[K, V]{
		shadows: make(map[transaction.TxnHandle]*transaction.TransactionShadow[K, V]),
		store:   store,
		manager: manager,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = zap.NewNop()
	}
	if d.equal == nil {
		d.equal = defaultEqual[V]
	}
	d.gate = transaction.NewTransactionGate(d.logger, d.metrics)
	return d
}

// defaultEqual compares via ==, which panics at runtime for non-comparable
// V; callers with such a V must supply WithEqual.
func defaultEqual[V any](a, b V) bool {
	return any(a) == any(b)
}

// shadowFor resolves the ambient transaction and returns its shadow,
// creating and enlisting one on first touch. Returns (nil, nil) when there
// is no ambient transaction, signaling direct backing-store dispatch.
func (d *TransactionalDictionary[K, V]) shadowFor() (*transaction.TransactionShadow[K, V], error) {
	txn, ok := d.manager.Current()
	if !ok {
		return nil, nil
	}

	d.registryMu.Lock()
	if s, ok := d.shadows[txn]; ok {
		d.registryMu.Unlock()
		return s, nil
	}

	s, err := transaction.NewShadowForFacade(txn, d.store, d.gate, d.logger, d.metrics, d.evict)
	if err != nil {
		d.registryMu.Unlock()
		return nil, err
	}
	d.shadows[txn] = s
	d.registryMu.Unlock()

	if err := d.manager.EnlistVolatile(txn, s); err != nil {
		d.registryMu.Lock()
		delete(d.shadows, txn)
		d.registryMu.Unlock()
		return nil, err
	}
	// Cancel is a no-op once s already owns the gate or was never enqueued,
	// so it is always safe to register: this is what unblocks a Prepare
	// stuck in gate.Lock when txn is aborted by a different goroutine while
	// that Prepare is still queued.
	d.manager.OnCompleted(txn, func() { d.gate.Cancel(txn) })
	d.logger.Debug("enlisted new shadow", zap.Stringer("txn", txn))
	return s, nil
}

// evict is the façade's registry-cleanup hook, called by a shadow's
// finished() after it releases the gate (if it held one). It runs under the
// registry mutex only — never the gate.
func (d *TransactionalDictionary[K, V]) evict(txn transaction.TxnHandle) {
	d.registryMu.Lock()
	delete(d.shadows, txn)
	d.registryMu.Unlock()
}

// --- Container surface ---

// Get is the lookup-or-fail operation: it returns transaction.ErrKeyNotFound
// if key is absent, or the underlying error if the ambient transaction's
// shadow could not be resolved at all (e.g. ErrReadOnlyBackingStore).
func (d *TransactionalDictionary[K, V]) Get(key K) (V, error) {
	v, ok, err := d.tryGet(key)
	if err != nil {
		var zero V
		return zero, err
	}
	if ok {
		return v, nil
	}
	var zero V
	return zero, transaction.ErrKeyNotFound
}

// GetOrDefault is the lookup-default operation: def on either a genuinely
// absent key or a shadowFor error, since GetOrDefault's signature carries
// no error to report the latter through.
func (d *TransactionalDictionary[K, V]) GetOrDefault(key K, def V) V {
	v, ok, err := d.tryGet(key)
	if err != nil || !ok {
		return def
	}
	return v
}

func (d *TransactionalDictionary[K, V]) tryGet(key K) (V, bool, error) {
	s, err := d.shadowFor()
	if err != nil {
		var zero V
		return zero, false, err
	}
	if s == nil {
		v, ok := d.store.TryGet(key)
		return v, ok, nil
	}
	v, ok := transaction.ShadowGet(s, key)
	return v, ok, nil
}

// ContainsKey reports whether key is present in the effective view.
func (d *TransactionalDictionary[K, V]) ContainsKey(key K) bool {
	s, err := d.shadowFor()
	if err != nil {
		return false
	}
	if s == nil {
		return d.store.ContainsKey(key)
	}
	return transaction.ShadowContainsKey(s, key)
}

// Contains reports whether key is present and its effective value equals
// value under the configured equality relation.
func (d *TransactionalDictionary[K, V]) Contains(key K, value V) bool {
	s, err := d.shadowFor()
	if err != nil {
		return false
	}
	if s == nil {
		v, ok := d.store.TryGet(key)
		return ok && d.equal(v, value)
	}
	return transaction.ShadowContains(s, key, value, d.equal)
}

// Set inserts or updates key→value.
func (d *TransactionalDictionary[K, V]) Set(key K, value V) error {
	s, err := d.shadowFor()
	if err != nil {
		return err
	}
	if s == nil {
		d.store.Set(key, value)
		return nil
	}
	transaction.ShadowSet(s, key, value)
	return nil
}

// Remove deletes key, returning whether it was present beforehand.
func (d *TransactionalDictionary[K, V]) Remove(key K) (bool, error) {
	s, err := d.shadowFor()
	if err != nil {
		return false, err
	}
	if s == nil {
		return d.store.Remove(key), nil
	}
	return transaction.ShadowRemove(s, key), nil
}

// RemoveEntry deletes key only if its effective value equals value,
// returning whether the removal matched. When a transaction is active this
// still writes a Tombstone to the shadow's overlay even when the value
// does not match; see TransactionShadow.removeEntry.
func (d *TransactionalDictionary[K, V]) RemoveEntry(key K, value V) (bool, error) {
	s, err := d.shadowFor()
	if err != nil {
		return false, err
	}
	if s == nil {
		cur, ok := d.store.TryGet(key)
		if !ok || !d.equal(cur, value) {
			return false, nil
		}
		d.store.Remove(key)
		return true, nil
	}
	return transaction.ShadowRemoveEntry(s, key, value, d.equal), nil
}

// Clear removes every key from the effective view.
func (d *TransactionalDictionary[K, V]) Clear() error {
	s, err := d.shadowFor()
	if err != nil {
		return err
	}
	if s == nil {
		for k := range d.store.Enumerate() {
			d.store.Remove(k)
		}
		return nil
	}
	transaction.ShadowClear(s)
	return nil
}

// Count returns the number of keys in the effective view.
func (d *TransactionalDictionary[K, V]) Count() (int, error) {
	s, err := d.shadowFor()
	if err != nil {
		return 0, err
	}
	if s == nil {
		return len(d.store.Enumerate()), nil
	}
	return transaction.ShadowCount(s), nil
}

// Entries returns a snapshot of the effective key/value pairs.
func (d *TransactionalDictionary[K, V]) Entries() (map[K]V, error) {
	s, err := d.shadowFor()
	if err != nil {
		return nil, err
	}
	if s == nil {
		return d.store.Enumerate(), nil
	}
	return transaction.ShadowMaterialize(s), nil
}

// Keys returns the keys of the effective view.
func (d *TransactionalDictionary[K, V]) Keys() ([]K, error) {
	entries, err := d.Entries()
	if err != nil {
		return nil, err
	}
	keys := make([]K, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	return keys, nil
}

// Values returns the values of the effective view.
func (d *TransactionalDictionary[K, V]) Values() ([]V, error) {
	entries, err := d.Entries()
	if err != nil {
		return nil, err
	}
	values := make([]V, 0, len(entries))
	for _, v := range entries {
		values = append(values, v)
	}
	return values, nil
}

// CopyTo copies every effective entry into dst.
func (d *TransactionalDictionary[K, V]) CopyTo(dst map[K]V) error {
	entries, err := d.Entries()
	if err != nil {
		return err
	}
	for k, v := range entries {
		dst[k] = v
	}
	return nil
}

// IsReadOnly is always false: a TransactionalDictionary is always mutable
// from the caller's perspective.
func (d *TransactionalDictionary[K, V]) IsReadOnly() bool {
	return false
}

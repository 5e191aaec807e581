package transaction

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// memStore is a minimal BackingStore for exercising TransactionShadow
// directly, without going through core/store's façade.
type memStore struct {
	data     map[string]int
	readOnly bool
}

func newMemStore(seed map[string]int) *memStore {
	data := make(map[string]int, len(seed))
	for k, v := range seed {
		data[k] = v
	}
	return &memStore{data: data}
}

func (m *memStore) ContainsKey(key string) bool   { _, ok := m.data[key]; return ok }
func (m *memStore) TryGet(key string) (int, bool) { v, ok := m.data[key]; return v, ok }
func (m *memStore) Set(key string, value int)     { m.data[key] = value }
func (m *memStore) Remove(key string) bool {
	_, ok := m.data[key]
	delete(m.data, key)
	return ok
}
func (m *memStore) Enumerate() map[string]int {
	out := make(map[string]int, len(m.data))
	for k, v := range m.data {
		out[k] = v
	}
	return out
}
func (m *memStore) IsReadOnly() bool { return m.readOnly }

func equalInt(a, b int) bool { return a == b }

// fakeEnlistment records which callback the shadow invoked, standing in for
// a TxnManager driving the 2PC contract in isolation.
type fakeEnlistment struct {
	done         bool
	prepared     bool
	rollbackErr  error
	rollbackCall bool
}

func (e *fakeEnlistment) Done()     { e.done = true }
func (e *fakeEnlistment) Prepared() { e.prepared = true }
func (e *fakeEnlistment) ForceRollback(err error) {
	e.rollbackCall = true
	e.rollbackErr = err
}

func setupShadow(t *testing.T, store BackingStore[string, int]) (*TransactionShadow[string, int], *TransactionGate) {
	t.Helper()
	gate := NewTransactionGate(nil, nil)
	txn := NewTxnHandle()
	s, err := newTransactionShadow[string, int](txn, store, gate, nil, nil, nil)
	require.NoError(t, err)
	return s, gate
}

// TestShadow_EmptyView is S1: a shadow over an empty store starts with
// count 0.
func TestShadow_EmptyView(t *testing.T) {
	s, _ := setupShadow(t, newMemStore(nil))
	require.Equal(t, 0, s.count())
}

// TestShadow_ReadAfterWriteSameTxn is S2.
func TestShadow_ReadAfterWriteSameTxn(t *testing.T) {
	s, _ := setupShadow(t, newMemStore(nil))
	s.set("1", 2)
	v, ok := s.get("1")
	require.True(t, ok)
	require.Equal(t, 2, v)
	require.Equal(t, 1, s.count())
}

// TestShadow_RollbackRestoresBacking is S3: a store pre-populated outside
// any transaction is untouched once a shadow's writes are rolled back.
func TestShadow_RollbackRestoresBacking(t *testing.T) {
	store := newMemStore(map[string]int{"1": 2})
	s, gate := setupShadow(t, store)

	s.set("1", 5)

	en := &fakeEnlistment{}
	s.Prepare(en)
	require.True(t, en.prepared)
	v, _ := store.TryGet("1")
	require.Equal(t, 5, v, "prepare applies the overlay to the backing store")

	rollbackEn := &fakeEnlistment{}
	s.Rollback(rollbackEn)
	require.True(t, rollbackEn.done)

	v, ok := store.TryGet("1")
	require.True(t, ok)
	require.Equal(t, 2, v)
	require.False(t, gate.IsLocked(), "rollback releases the gate")
}

// TestShadow_CommitPersists is S4.
func TestShadow_CommitPersists(t *testing.T) {
	store := newMemStore(map[string]int{"1": 2})
	s, gate := setupShadow(t, store)

	s.set("1", 5)

	en := &fakeEnlistment{}
	s.Commit(en)
	require.True(t, en.done)

	v, ok := store.TryGet("1")
	require.True(t, ok)
	require.Equal(t, 5, v)
	require.False(t, gate.IsLocked())
}

func TestShadow_RemoveTombstonesOverlay(t *testing.T) {
	s, _ := setupShadow(t, newMemStore(map[string]int{"1": 2}))
	wasPresent := s.remove("1")
	require.True(t, wasPresent)

	_, ok := s.get("1")
	require.False(t, ok)
	require.Equal(t, 0, s.count())
}

// TestShadow_RemoveEntryTombstonesEvenOnMismatch checks the deliberate
// quirk of removeEntry: the overlay is tombstoned regardless of whether
// value matched, only the returned bool differs.
func TestShadow_RemoveEntryTombstonesEvenOnMismatch(t *testing.T) {
	s, _ := setupShadow(t, newMemStore(map[string]int{"1": 2}))

	matched := s.removeEntry("1", 999, equalInt)
	require.False(t, matched)

	_, ok := s.get("1")
	require.False(t, ok, "overlay is tombstoned even though the value did not match")
}

func TestShadow_ClearTombstonesEveryEffectiveKey(t *testing.T) {
	s, _ := setupShadow(t, newMemStore(map[string]int{"1": 2, "2": 3}))
	s.set("3", 4)
	s.clear()
	require.Equal(t, 0, s.count())
}

func TestShadow_ConstructorRejectsNoTransaction(t *testing.T) {
	_, err := newTransactionShadow[string, int](NoTransaction, newMemStore(nil), NewTransactionGate(nil, nil), nil, nil, nil)
	require.ErrorIs(t, err, ErrNoAmbientTransaction)
}

func TestShadow_ConstructorRejectsReadOnlyStore(t *testing.T) {
	store := &memStore{data: map[string]int{}, readOnly: true}
	_, err := newTransactionShadow[string, int](NewTxnHandle(), store, NewTransactionGate(nil, nil), nil, nil, nil)
	require.ErrorIs(t, err, ErrReadOnlyBackingStore)
}

// TestShadow_PrepareLosesGateRaceForcesRollback exercises the external
// cancellation path: a Prepare blocked on the gate whose wait is cancelled
// never touches the backing store and asks its enlistment to roll back.
func TestShadow_PrepareLosesGateRaceForcesRollback(t *testing.T) {
	store := newMemStore(map[string]int{"1": 2})
	gate := NewTransactionGate(nil, nil)
	owner := NewTxnHandle()
	require.True(t, gate.Lock(owner))

	txn := NewTxnHandle()
	s, err := newTransactionShadow[string, int](txn, store, gate, nil, nil, nil)
	require.NoError(t, err)
	s.set("1", 99)

	en := &fakeEnlistment{}
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Prepare(en)
	}()

	require.Eventually(t, func() bool {
		gate.mu.Lock()
		defer gate.mu.Unlock()
		return len(gate.waiters) == 1
	}, time.Second, time.Millisecond)

	gate.Cancel(txn)
	<-done

	require.True(t, en.rollbackCall)
	require.ErrorIs(t, en.rollbackErr, ErrTransactionAborted)
	v, _ := store.TryGet("1")
	require.Equal(t, 2, v, "cancelled prepare must never touch the backing store")
}

package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sushant-115/txndict/core/transaction"
)

// spyParticipant records which 2PC callbacks it received and lets tests
// force a Prepare failure.
type spyParticipant struct {
	mu                                       sync.Mutex
	prepared, committed, rolledBack, inDoubt bool
	failPrepare                              error
}

func (p *spyParticipant) Prepare(e transaction.Enlistment) {
	p.mu.Lock()
	fail := p.failPrepare
	p.mu.Unlock()
	if fail != nil {
		e.ForceRollback(fail)
		return
	}
	p.mu.Lock()
	p.prepared = true
	p.mu.Unlock()
	e.Prepared()
}

func (p *spyParticipant) Commit(e transaction.Enlistment) {
	p.mu.Lock()
	p.committed = true
	p.mu.Unlock()
	e.Done()
}

func (p *spyParticipant) Rollback(e transaction.Enlistment) {
	p.mu.Lock()
	p.rolledBack = true
	p.mu.Unlock()
	e.Done()
}

func (p *spyParticipant) InDoubt(e transaction.Enlistment) {
	p.mu.Lock()
	p.inDoubt = true
	p.mu.Unlock()
	e.Done()
}

func TestManager_BeginBindsAmbientTransaction(t *testing.T) {
	mgr := New(nil)
	txn := mgr.Begin()

	current, ok := mgr.Current()
	require.True(t, ok)
	require.Equal(t, txn, current)
}

func TestManager_CompleteCommitsAllPreparedParticipants(t *testing.T) {
	mgr := New(nil)
	txn := mgr.Begin()

	p1, p2 := &spyParticipant{}, &spyParticipant{}
	require.NoError(t, mgr.EnlistVolatile(txn, p1))
	require.NoError(t, mgr.EnlistVolatile(txn, p2))

	require.NoError(t, mgr.Complete(context.Background()))

	require.True(t, p1.prepared)
	require.True(t, p1.committed)
	require.True(t, p2.prepared)
	require.True(t, p2.committed)
}

func TestManager_CompleteRollsBackEveryoneIfAnyPrepareFails(t *testing.T) {
	mgr := New(nil)
	txn := mgr.Begin()

	ok := &spyParticipant{}
	failing := &spyParticipant{failPrepare: errors.New("boom")}
	require.NoError(t, mgr.EnlistVolatile(txn, ok))
	require.NoError(t, mgr.EnlistVolatile(txn, failing))

	err := mgr.Complete(context.Background())
	require.Error(t, err)

	require.True(t, ok.rolledBack)
	require.False(t, ok.committed)
	require.False(t, failing.committed)
}

func TestManager_AbortRollsBackWithoutPreparing(t *testing.T) {
	mgr := New(nil)
	txn := mgr.Begin()

	p := &spyParticipant{}
	require.NoError(t, mgr.EnlistVolatile(txn, p))

	require.NoError(t, mgr.Abort(txn))
	require.True(t, p.rolledBack)
	require.False(t, p.prepared)
}

func TestManager_OnCompletedFiresAfterCommit(t *testing.T) {
	mgr := New(nil)
	txn := mgr.Begin()

	fired := false
	mgr.OnCompleted(txn, func() { fired = true })

	require.NoError(t, mgr.EnlistVolatile(txn, &spyParticipant{}))
	require.NoError(t, mgr.Complete(context.Background()))
	require.True(t, fired)
}

func TestManager_EnlistOnUnknownTransactionFails(t *testing.T) {
	mgr := New(nil)
	err := mgr.EnlistVolatile(transaction.NewTxnHandle(), &spyParticipant{})
	require.ErrorIs(t, err, transaction.ErrUnknownTransaction)
}

func TestManager_CompleteOnUnknownTransactionFails(t *testing.T) {
	mgr := New(nil)
	err := mgr.complete(transaction.NewTxnHandle())
	require.ErrorIs(t, err, transaction.ErrUnknownTransaction)
}

func TestManager_CurrentWithoutBeginReportsNoTransaction(t *testing.T) {
	mgr := New(nil)
	_, ok := mgr.Current()
	require.False(t, ok)
}

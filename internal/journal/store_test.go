package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	clierr "github.com/ggonzalez94/sendflow/internal/errors"
	"github.com/ggonzalez94/sendflow/internal/send"
)

const account = "tz1VSUr8wwNhLAzempoch5d6hLRiTh8Cjcjb"

func openStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	store, err := OpenStore(filepath.Join(dir, "journal.db"), filepath.Join(dir, "journal.lock"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStoreSaveGetList(t *testing.T) {
	store := openStore(t)
	now := time.Now().UTC()
	older := Record{ID: "inv_1", Account: account, Path: PathRequest, Status: StatusSuccess, OpHash: "oo1",
		CreatedAt: now.Add(-time.Hour).Format(time.RFC3339), UpdatedAt: now.Add(-time.Hour).Format(time.RFC3339)}
	newer := Record{ID: "inv_2", Account: "tz1other", Path: PathTransfer, Status: StatusFailure, ErrorKind: send.ErrBroadcast,
		CreatedAt: now.Format(time.RFC3339), UpdatedAt: now.Format(time.RFC3339)}
	require.NoError(t, store.Save(older))
	require.NoError(t, store.Save(newer))

	got, err := store.Get("inv_1")
	require.NoError(t, err)
	assert.Equal(t, older, got)

	all, err := store.List(Filter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "inv_2", all[0].ID)

	byAccount, err := store.List(Filter{Account: account})
	require.NoError(t, err)
	require.Len(t, byAccount, 1)
	assert.Equal(t, "inv_1", byAccount[0].ID)

	failed, err := store.List(Filter{Status: StatusFailure, Limit: 5})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, send.ErrBroadcast, failed[0].ErrorKind)
}

func TestStoreGetMissingInvocation(t *testing.T) {
	store := openStore(t)
	_, err := store.Get("inv_missing")
	require.Error(t, err)
	assert.Equal(t, int(clierr.CodeUsage), clierr.ExitCode(err))
}

func TestStoreSaveRequiresID(t *testing.T) {
	store := openStore(t)
	require.Error(t, store.Save(Record{Account: account}))
}

func TestTrackRecordsSessionResult(t *testing.T) {
	store := openStore(t)
	pipeline := send.New(send.Deps{})
	session := pipeline.NewSession(send.Account{Pkh: account}, nil)

	rec, finished := store.Track(context.Background(), session, PathTransfer)
	assert.Equal(t, StatusPending, rec.Status)
	pending, err := store.Get(session.ID())
	require.NoError(t, err)
	assert.Equal(t, StatusPending, pending.Status)

	_, err = session.Prepare("", "XTZ")
	require.NoError(t, err)
	require.NoError(t, session.HandlePrepareResponse([]send.FullyPreparedTransaction{{}}))
	require.NoError(t, session.HandleConfirmResponse("ooHash"))

	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("journal did not record the result")
	}
	done, err := store.Get(session.ID())
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, done.Status)
	assert.Equal(t, "ooHash", done.OpHash)
	assert.Equal(t, PathTransfer, done.Path)
}

func TestTrackRecordsCancellation(t *testing.T) {
	store := openStore(t)
	session := send.New(send.Deps{}).NewSession(send.Account{Pkh: account}, &send.Template{Name: "pay"})

	ctx, cancel := context.WithCancel(context.Background())
	_, finished := store.Track(ctx, session, PathRequest)
	cancel()
	<-finished

	rec, err := store.Get(session.ID())
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, rec.Status)
	assert.Equal(t, PathTemplate, rec.Path)
	assert.Equal(t, "pay", rec.Template)
}

func TestRecordApply(t *testing.T) {
	var rec Record
	rec.Apply(send.Failure(send.ErrInvalidParameters, "bad"))
	assert.Equal(t, StatusFailure, rec.Status)
	assert.Equal(t, "bad", rec.ErrorMessage)

	rec = Record{}
	rec.Apply(send.Declined())
	assert.Equal(t, StatusDeclined, rec.Status)
}

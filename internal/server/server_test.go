package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ggonzalez94/sendflow/internal/journal"
	"github.com/ggonzalez94/sendflow/internal/micheline"
	"github.com/ggonzalez94/sendflow/internal/send"
	"github.com/ggonzalez94/sendflow/internal/tokens"
)

const (
	sender    = "tz1VSUr8wwNhLAzempoch5d6hLRiTh8Cjcjb"
	recipient = "tz1aWXP237BLwNHJcCD4b3DutCevhqq2T1Z9"
)

type stubOracle struct{}

func (stubOracle) PreLoadData(context.Context, string, string) error { return nil }

func (stubOracle) EstimateTransactions(_ context.Context, txs []send.PartiallyPreparedTransaction, _, _ string) (*send.SimulationResult, error) {
	limits := make([]send.CustomLimit, len(txs))
	for i := range limits {
		limits[i] = send.CustomLimit{GasLimit: "1420", StorageLimit: "0"}
	}
	return &send.SimulationResult{Fee: "0.001", CustomLimits: limits}, nil
}

func (stubOracle) CostPerByte() string { return "250" }

type stubSigner struct{}

func (stubSigner) GetKeys(_ context.Context, _, pkh string) (*send.Keys, error) {
	return &send.Keys{Pkh: pkh}, nil
}

type stubChannel struct{}

func (stubChannel) Transfer(context.Context, string, []send.FullyPreparedTransaction, string, *send.Keys, string) (send.TransferAnswer, error) {
	return send.TransferAnswer{Success: true, OpHash: "ooServerHash"}, nil
}

type stubWallet struct{}

func (stubWallet) Capability() send.SigningCapability { return send.Embedded{PrivateKeyMaterial: true} }

func (stubWallet) ExchangeRate(context.Context) (decimal.Decimal, bool) { return decimal.Zero, false }

func (stubWallet) Mainnet() bool { return false }

func (stubWallet) AddressExists(string) bool { return false }

type rpcResponse struct {
	Result *SessionReply `json:"result"`
	Error  any           `json:"error"`
}

func newTestService(t *testing.T) (*Send, *journal.Store) {
	t.Helper()
	registry, err := tokens.NewRegistry(nil)
	require.NoError(t, err)
	pipeline := send.New(send.Deps{
		Oracle:    stubOracle{},
		Registry:  registry,
		Parser:    tokens.NewParser(registry),
		Validator: micheline.Validator{},
		Signer:    stubSigner{},
		Channel:   stubChannel{},
		Messages:  send.NewZapMessageLog(nil, 10),
		Wallet:    stubWallet{},
	})
	dir := t.TempDir()
	store, err := journal.OpenStore(filepath.Join(dir, "journal.db"), filepath.Join(dir, "journal.lock"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return NewSend(context.Background(), pipeline, store, nil), store
}

func newTestServer(t *testing.T) (*httptest.Server, *journal.Store) {
	t.Helper()
	svc, store := newTestService(t)
	router, err := NewRouter(svc, nil)
	require.NoError(t, err)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, store
}

func call(t *testing.T, srv *httptest.Server, method string, params any) rpcResponse {
	t.Helper()
	body, err := json.Marshal(map[string]any{"method": method, "params": []any{params}, "id": 1})
	require.NoError(t, err)
	resp, err := http.Post(srv.URL+"/rpc", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out rpcResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func nativeRequest() RequestArgs {
	return RequestArgs{
		Account:    send.Account{Pkh: sender},
		Operations: json.RawMessage(`[{"kind":"transaction","destination":"` + recipient + `","amount":"1000000"}]`),
	}
}

func TestRequestThenConfirm(t *testing.T) {
	srv, store := newTestServer(t)

	requested := call(t, srv, "Send.Request", nativeRequest())
	require.Nil(t, requested.Error)
	require.NotNil(t, requested.Result)
	assert.Equal(t, "confirm", requested.Result.Pending)
	require.NotNil(t, requested.Result.Confirm)
	assert.True(t, requested.Result.Confirm.ExternalReq)
	assert.False(t, requested.Result.Done)

	confirmed := call(t, srv, "Send.Confirm", SessionArgs{ID: requested.Result.ID})
	require.Nil(t, confirmed.Error)
	assert.True(t, confirmed.Result.Done)
	assert.Equal(t, send.OutcomeSuccess, confirmed.Result.Outcome)
	assert.JSONEq(t, `"ooServerHash"`, string(confirmed.Result.Result))

	status := call(t, srv, "Send.Status", SessionArgs{ID: requested.Result.ID})
	require.Nil(t, status.Error)
	assert.True(t, status.Result.Done)

	require.Eventually(t, func() bool {
		rec, err := store.Get(requested.Result.ID)
		return err == nil && rec.Status == journal.StatusSuccess
	}, 5*time.Second, 20*time.Millisecond)
}

func TestRequestThenDecline(t *testing.T) {
	srv, _ := newTestServer(t)

	requested := call(t, srv, "Send.Request", nativeRequest())
	require.Nil(t, requested.Error)

	declined := call(t, srv, "Send.Decline", SessionArgs{ID: requested.Result.ID})
	require.Nil(t, declined.Error)
	assert.Equal(t, send.OutcomeDeclined, declined.Result.Outcome)
	assert.Equal(t, "null", string(declined.Result.Result))

	again := call(t, srv, "Send.Confirm", SessionArgs{ID: requested.Result.ID})
	assert.NotNil(t, again.Error)
}

func TestRequestRejectsInvalidInput(t *testing.T) {
	srv, _ := newTestServer(t)

	missingAccount := nativeRequest()
	missingAccount.Account = send.Account{}
	assert.NotNil(t, call(t, srv, "Send.Request", missingAccount).Error)

	badOps := nativeRequest()
	badOps.Operations = json.RawMessage(`"nope"`)
	assert.NotNil(t, call(t, srv, "Send.Request", badOps).Error)

	assert.NotNil(t, call(t, srv, "Send.Status", SessionArgs{ID: "inv_missing"}).Error)
}

func TestRequestWithInvalidParametersFailsSession(t *testing.T) {
	srv, _ := newTestServer(t)
	args := nativeRequest()
	args.Operations = json.RawMessage(`[{"kind":"transaction","destination":"` + recipient + `","amount":"0","parameters":{"entrypoint":"do","value":{"prim":"Banana"}}}]`)

	reply := call(t, srv, "Send.Request", args)
	require.Nil(t, reply.Error)
	assert.True(t, reply.Result.Done)
	assert.Equal(t, send.OutcomeFailure, reply.Result.Outcome)
	assert.JSONEq(t, `"invalid_parameters"`, string(reply.Result.Result))
}

func TestHealthAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	call(t, srv, "Send.Request", nativeRequest())
	metrics, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer metrics.Body.Close()
	body, err := io.ReadAll(metrics.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "sendflow_stage_duration_seconds")
}

func TestAbandonedSessionsAreCancelledAndEvicted(t *testing.T) {
	svc, store := newTestService(t)
	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return clock }
	r := httptest.NewRequest(http.MethodPost, "/rpc", nil)

	var waiting SessionReply
	require.NoError(t, svc.Request(r, ptr(nativeRequest()), &waiting))
	require.Equal(t, "confirm", waiting.Pending)
	session, err := svc.lookup(waiting.ID)
	require.NoError(t, err)

	clock = clock.Add(sessionRetention / 2)
	var fresh SessionReply
	require.NoError(t, svc.Request(r, ptr(nativeRequest()), &fresh))
	_, err = svc.lookup(waiting.ID)
	require.NoError(t, err, "session within retention must stay registered")

	clock = clock.Add(sessionRetention)
	var latest SessionReply
	require.NoError(t, svc.Request(r, ptr(nativeRequest()), &latest))

	_, err = svc.lookup(waiting.ID)
	assert.Error(t, err)
	_, err = svc.lookup(latest.ID)
	assert.NoError(t, err)
	assert.IsType(t, send.PendingNone{}, session.Pending())
	_, err = session.Confirm(context.Background())
	assert.ErrorIs(t, err, send.ErrNoPendingAction)

	require.Eventually(t, func() bool {
		rec, err := store.Get(waiting.ID)
		return err == nil && rec.Status == journal.StatusCancelled
	}, 5*time.Second, 20*time.Millisecond)
}

func ptr[T any](v T) *T { return &v }

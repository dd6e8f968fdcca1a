package broadcast

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ggonzalez94/sendflow/internal/httpx"
	"github.com/ggonzalez94/sendflow/internal/send"
)

const testPrivateKey = "59c6995e998f97a5a0044976f0945388cf9b7e5e5f4f9d2d9d8f1f5b7f6d11d1"

func testKeys(t *testing.T) *send.Keys {
	t.Helper()
	pk, err := crypto.HexToECDSA(testPrivateKey)
	require.NoError(t, err)
	return &send.Keys{Pkh: "tz1a", PublicKey: hexutil.Encode(crypto.CompressPubkey(&pk.PublicKey)), PrivateKey: pk}
}

func ops() []send.FullyPreparedTransaction {
	return []send.FullyPreparedTransaction{{
		PartiallyPreparedTransaction: send.PartiallyPreparedTransaction{Kind: send.KindTransaction, Destination: "tz1b", Amount: "1"},
		Fee:                          "0.0015",
		GasLimit:                     "1520",
		StorageLimit:                 "0",
	}}
}

func TestTransferSignsAndInjects(t *testing.T) {
	keys := testKeys(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req injectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if err := Verify(req.Payload, req.Signature, keys.PublicKey); err != nil {
			t.Errorf("verify: %v", err)
		}
		var p Payload
		_ = json.Unmarshal(req.Payload, &p)
		if p.Source != "tz1a" || p.Fee != "0.0015" || len(p.Operations) != 1 {
			t.Errorf("unexpected payload: %+v", p)
		}
		_, _ = w.Write([]byte(`{"success":true,"payload":{"opHash":"ooXyz"}}`))
	}))
	defer srv.Close()

	c := New(httpx.New(2*time.Second, 0), srv.URL, nil)
	ans, err := c.Transfer(context.Background(), "tz1a", ops(), "0.0015", keys, "")
	require.NoError(t, err)
	assert.Equal(t, send.TransferAnswer{Success: true, OpHash: "ooXyz"}, ans)
}

func TestTransferReportsRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"payload":{"msg":"counter_in_the_past"}}`))
	}))
	defer srv.Close()

	c := New(httpx.New(2*time.Second, 0), srv.URL, nil)
	ans, err := c.Transfer(context.Background(), "tz1a", ops(), "0.0015", testKeys(t), "")
	require.NoError(t, err)
	assert.False(t, ans.Success)
	assert.Equal(t, "counter_in_the_past", ans.Msg)
}

func TestTransferTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(httpx.New(2*time.Second, 0), srv.URL, nil)
	_, err := c.Transfer(context.Background(), "tz1a", ops(), "0.0015", testKeys(t), "")
	require.Error(t, err)

	_, err = c.Transfer(context.Background(), "tz1a", ops(), "0.0015", nil, "")
	require.Error(t, err)
}

func TestTransferIsNeverRetried(t *testing.T) {
	var posts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&posts, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"success":true,"payload":{"opHash":"ooDup"}}`))
	}))
	defer srv.Close()

	c := New(httpx.New(2*time.Second, 3), srv.URL, nil)
	_, err := c.Transfer(context.Background(), "tz1a", ops(), "0.0015", testKeys(t), "")
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&posts))
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	keys := testKeys(t)
	sig, err := Sign([]byte(`{"a":1}`), keys)
	require.NoError(t, err)
	require.NoError(t, Verify([]byte(`{"a":1}`), sig, keys.PublicKey))
	assert.Error(t, Verify([]byte(`{"a":2}`), sig, keys.PublicKey))
}

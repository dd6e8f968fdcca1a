// Package broadcast signs prepared batches and hands them to the injection service.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	clierr "github.com/ggonzalez94/sendflow/internal/errors"
	"github.com/ggonzalez94/sendflow/internal/httpx"
	"github.com/ggonzalez94/sendflow/internal/send"
)

type Client struct {
	http    *httpx.Client
	baseURL string
	logger  *zap.Logger
}

// New builds the injection client. Injection is never retried: a signed batch
// is posted at most once and transport failures are reported to the caller.
func New(httpClient *httpx.Client, baseURL string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{http: httpClient.NoRetry(), baseURL: strings.TrimRight(baseURL, "/"), logger: logger}
}

// Payload is the signed body of an injection request.
type Payload struct {
	Source     string                          `json:"source"`
	PublicKey  string                          `json:"publicKey"`
	Operations []send.FullyPreparedTransaction `json:"operations"`
	Fee        string                          `json:"fee"`
	Memo       string                          `json:"memo,omitempty"`
}

type injectRequest struct {
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"signature"`
}

type injectResponse struct {
	Success bool `json:"success"`
	Payload struct {
		OpHash string `json:"opHash"`
		Msg    string `json:"msg"`
	} `json:"payload"`
}

// Transfer signs and injects ops. A rejected operation is reported through the
// answer; transport failures are returned as errors.
func (c *Client) Transfer(ctx context.Context, from string, ops []send.FullyPreparedTransaction, fee string, keys *send.Keys, memo string) (send.TransferAnswer, error) {
	if keys == nil || keys.PrivateKey == nil {
		return send.TransferAnswer{}, clierr.New(clierr.CodeSigner, "missing signing key")
	}
	payload, err := json.Marshal(Payload{
		Source:     from,
		PublicKey:  keys.PublicKey,
		Operations: ops,
		Fee:        fee,
		Memo:       memo,
	})
	if err != nil {
		return send.TransferAnswer{}, clierr.Wrap(clierr.CodeInternal, "marshal injection payload", err)
	}
	sig, err := Sign(payload, keys)
	if err != nil {
		return send.TransferAnswer{}, err
	}
	body, err := json.Marshal(injectRequest{Payload: payload, Signature: sig})
	if err != nil {
		return send.TransferAnswer{}, clierr.Wrap(clierr.CodeInternal, "marshal injection request", err)
	}

	var resp injectResponse
	if _, err := httpx.DoBodyJSON(ctx, c.http, http.MethodPost, c.baseURL+"/inject", body, nil, &resp); err != nil {
		return send.TransferAnswer{}, err
	}
	if resp.Success && resp.Payload.OpHash == "" {
		return send.TransferAnswer{}, clierr.New(clierr.CodeBroadcast, "injection succeeded without an operation hash")
	}
	c.logger.Debug("injection answered", zap.Bool("success", resp.Success), zap.String("op_hash", resp.Payload.OpHash))
	return send.TransferAnswer{Success: resp.Success, OpHash: resp.Payload.OpHash, Msg: resp.Payload.Msg}, nil
}

// Sign returns the hex signature over the Keccak-256 digest of payload.
func Sign(payload []byte, keys *send.Keys) (string, error) {
	sig, err := crypto.Sign(crypto.Keccak256(payload), keys.PrivateKey)
	if err != nil {
		return "", clierr.Wrap(clierr.CodeSigner, "sign injection payload", err)
	}
	return hexutil.Encode(sig), nil
}

// Verify checks that sig over payload was produced by the holder of publicKey.
func Verify(payload []byte, sig, publicKey string) error {
	rawSig, err := hexutil.Decode(sig)
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	rawPub, err := hexutil.Decode(publicKey)
	if err != nil {
		return fmt.Errorf("decode public key: %w", err)
	}
	if len(rawSig) != crypto.SignatureLength {
		return fmt.Errorf("signature must be %d bytes", crypto.SignatureLength)
	}
	if !crypto.VerifySignature(rawPub, crypto.Keccak256(payload), rawSig[:crypto.RecoveryIDOffset]) {
		return fmt.Errorf("signature does not match public key")
	}
	return nil
}

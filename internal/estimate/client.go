// Package estimate talks to the remote estimation service that simulates
// operation batches and reports gas, storage and fee figures.
package estimate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/hashicorp/go-version"
	"go.uber.org/zap"

	clierr "github.com/ggonzalez94/sendflow/internal/errors"
	"github.com/ggonzalez94/sendflow/internal/httpx"
	"github.com/ggonzalez94/sendflow/internal/send"
)

const (
	DefaultCostPerByte = "250"
	// SupportedAPI is the range of estimator API versions this client speaks.
	SupportedAPI = ">= 1.0, < 2.0"
)

type Client struct {
	http    *httpx.Client
	baseURL string
	apiKey  string
	logger  *zap.Logger
	accept  version.Constraints

	mu          sync.RWMutex
	costPerByte string
	apiVersion  *version.Version
}

func New(httpClient *httpx.Client, baseURL, apiKey string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	accept, _ := version.NewConstraint(SupportedAPI)
	return &Client{
		http:        httpClient,
		baseURL:     strings.TrimRight(baseURL, "/"),
		apiKey:      apiKey,
		logger:      logger,
		accept:      accept,
		costPerByte: DefaultCostPerByte,
	}
}

type preloadRequest struct {
	Pkh string `json:"pkh"`
	Pk  string `json:"pk"`
}

type preloadResponse struct {
	Version     string        `json:"version"`
	CostPerByte send.Quantity `json:"costPerByte"`
}

// PreLoadData primes the estimator for an account and refreshes the
// protocol's storage cost.
func (c *Client) PreLoadData(ctx context.Context, pkh, pk string) error {
	body, err := json.Marshal(preloadRequest{Pkh: pkh, Pk: pk})
	if err != nil {
		return clierr.Wrap(clierr.CodeInternal, "marshal preload request", err)
	}
	var resp preloadResponse
	if _, err := httpx.DoBodyJSON(ctx, c.http, http.MethodPost, c.baseURL+"/preload", body, c.headers(), &resp); err != nil {
		return err
	}
	v, err := version.NewVersion(resp.Version)
	if err != nil {
		return clierr.Wrap(clierr.CodeUnsupported, fmt.Sprintf("estimator reported invalid version %q", resp.Version), err)
	}
	if !c.accept.Check(v) {
		return clierr.New(clierr.CodeUnsupported, fmt.Sprintf("estimator API %s is outside supported range %s", v, SupportedAPI))
	}
	c.mu.Lock()
	c.apiVersion = v
	if resp.CostPerByte != "" {
		c.costPerByte = resp.CostPerByte.String()
	}
	c.mu.Unlock()
	c.logger.Debug("estimator preloaded", zap.String("pkh", pkh), zap.String("api_version", v.String()))
	return nil
}

type estimateRequest struct {
	Transactions  []send.PartiallyPreparedTransaction `json:"transactions"`
	Pkh           string                              `json:"pkh"`
	TokenTransfer string                              `json:"tokenTransfer"`
}

// EstimateTransactions returns nil when the estimator answers with null.
func (c *Client) EstimateTransactions(ctx context.Context, txs []send.PartiallyPreparedTransaction, pkh, tokenTransfer string) (*send.SimulationResult, error) {
	body, err := json.Marshal(estimateRequest{Transactions: txs, Pkh: pkh, TokenTransfer: tokenTransfer})
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "marshal estimate request", err)
	}
	var res *send.SimulationResult
	if _, err := httpx.DoBodyJSON(ctx, c.http, http.MethodPost, c.baseURL+"/estimate", body, c.headers(), &res); err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Client) CostPerByte() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.costPerByte
}

// APIVersion is the version reported by the last successful preload.
func (c *Client) APIVersion() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.apiVersion == nil {
		return ""
	}
	return c.apiVersion.String()
}

func (c *Client) headers() map[string]string {
	if c.apiKey == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + c.apiKey}
}

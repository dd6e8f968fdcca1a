package send

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/ggonzalez94/sendflow/internal/micheline"
	"github.com/ggonzalez94/sendflow/internal/tokens"
)

const (
	sender      = "tz1VSUr8wwNhLAzempoch5d6hLRiTh8Cjcjb"
	recipient   = "tz1aSkwEot3L2kmUvcoxzjMomb9mvBNuzFK6"
	usdContract = "KT1XnTn74bUtxHfDtBmm2bGZAQfhPbvKWR8o"
)

type fakeOracle struct {
	mu          sync.Mutex
	preloads    int
	estimates   int
	tokenTags   []string
	received    [][]PartiallyPreparedTransaction
	result      *SimulationResult
	err         error
	preloadErr  error
	costPerByte string
	mutate      bool
}

func (o *fakeOracle) PreLoadData(ctx context.Context, pkh, pk string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.preloads++
	return o.preloadErr
}

func (o *fakeOracle) EstimateTransactions(ctx context.Context, txs []PartiallyPreparedTransaction, pkh, tokenTransfer string) (*SimulationResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.estimates++
	o.tokenTags = append(o.tokenTags, tokenTransfer)
	o.received = append(o.received, txs)
	if o.mutate {
		for i := range txs {
			txs[i].Destination = "mutated"
			if txs[i].Parameters != nil {
				txs[i].Parameters.Entrypoint = "mutated"
				if len(txs[i].Parameters.Value) > 0 {
					txs[i].Parameters.Value[0] = 'X'
				}
			}
		}
	}
	return o.result, o.err
}

func (o *fakeOracle) CostPerByte() string {
	if o.costPerByte == "" {
		return "250"
	}
	return o.costPerByte
}

func okSimulation(fee string, n int) *SimulationResult {
	limits := make([]CustomLimit, n)
	for i := range limits {
		limits[i] = CustomLimit{GasLimit: "1420", StorageLimit: "0"}
	}
	return &SimulationResult{Fee: Quantity(fee), CustomLimits: limits}
}

type fakeProgress struct {
	mu     sync.Mutex
	starts []string
	stops  int
}

func (p *fakeProgress) Start(message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.starts = append(p.starts, message)
}

func (p *fakeProgress) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stops++
}

type fakeMessages struct {
	mu   sync.Mutex
	msgs []string
}

func (m *fakeMessages) AddError(message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs = append(m.msgs, message)
}

type fakeSigner struct {
	calls int
	keys  *Keys
	err   error
}

func (s *fakeSigner) GetKeys(ctx context.Context, passphrase, pkh string) (*Keys, error) {
	s.calls++
	return s.keys, s.err
}

type fakeChannel struct {
	mu      sync.Mutex
	gate    chan struct{}
	calls   int
	from    string
	fee     string
	ops     []FullyPreparedTransaction
	answer  TransferAnswer
	err     error
	gotKeys *Keys
}

func (c *fakeChannel) Transfer(ctx context.Context, from string, ops []FullyPreparedTransaction, fee string, keys *Keys, memo string) (TransferAnswer, error) {
	c.mu.Lock()
	c.calls++
	gate := c.gate
	c.mu.Unlock()
	if gate != nil {
		<-gate
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.from = from
	c.fee = fee
	c.ops = ops
	c.gotKeys = keys
	return c.answer, c.err
}

func (c *fakeChannel) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type boostCall struct {
	address  string
	metadata *BoostMetadata
}

type fakeBooster struct {
	mu    sync.Mutex
	calls []boostCall
}

func (b *fakeBooster) Boost(ctx context.Context, address string, metadata *BoostMetadata) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, boostCall{address: address, metadata: metadata})
	return nil
}

type fakeWallet struct {
	capability SigningCapability
	rate       decimal.Decimal
	hasRate    bool
	mainnet    bool
	managed    map[string]bool
}

func (w *fakeWallet) Capability() SigningCapability { return w.capability }

func (w *fakeWallet) ExchangeRate(ctx context.Context) (decimal.Decimal, bool) {
	return w.rate, w.hasRate
}

func (w *fakeWallet) Mainnet() bool { return w.mainnet }

func (w *fakeWallet) AddressExists(address string) bool { return w.managed[address] }

type harness struct {
	oracle   *fakeOracle
	progress *fakeProgress
	messages *fakeMessages
	signer   *fakeSigner
	channel  *fakeChannel
	booster  *fakeBooster
	wallet   *fakeWallet
	registry *tokens.Registry
	pipeline *Pipeline
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	registry, err := tokens.NewRegistry([]tokens.Contract{{
		Address:  usdContract,
		Standard: tokens.StandardFA12,
		Assets:   []tokens.Asset{{Symbol: "USDt", Decimals: 6}},
	}})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	h := &harness{
		oracle:   &fakeOracle{result: okSimulation("0.001523", 1)},
		progress: &fakeProgress{},
		messages: &fakeMessages{},
		signer:   &fakeSigner{keys: &Keys{Pkh: sender}},
		channel:  &fakeChannel{answer: TransferAnswer{Success: true, OpHash: "opHash1"}},
		booster:  &fakeBooster{},
		wallet:   &fakeWallet{capability: Embedded{PrivateKeyMaterial: true}, managed: map[string]bool{}},
		registry: registry,
	}
	h.pipeline = New(Deps{
		Oracle:    h.oracle,
		Registry:  registry,
		Parser:    tokens.NewParser(registry),
		Validator: micheline.Validator{},
		Signer:    h.signer,
		Channel:   h.channel,
		Booster:   h.booster,
		Progress:  h.progress,
		Messages:  h.messages,
		Wallet:    h.wallet,
	})
	return h
}

func nativeOp(destination, amount string) RawOperation {
	return RawOperation{Kind: KindTransaction, Destination: destination, Amount: Quantity(amount)}
}

func callOp(destination, entrypoint, value string) RawOperation {
	return RawOperation{
		Kind:        KindTransaction,
		Destination: destination,
		Amount:      "0",
		Parameters:  &Parameters{Entrypoint: entrypoint, Value: json.RawMessage(value)},
	}
}

func fa12Transfer(to, amount string) string {
	return `{"prim":"Pair","args":[{"string":"` + sender + `"},{"prim":"Pair","args":[{"string":"` + to + `"},{"int":"` + amount + `"}]}]}`
}

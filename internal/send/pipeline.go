package send

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ggonzalez94/sendflow/internal/policy"
)

var (
	ErrNoPendingAction = errors.New("no pending action")
	ErrSessionClosed   = errors.New("session already finished")
	ErrNotReady        = errors.New("pending template has not been simulated")
)

// Deps are the collaborators a Pipeline drives.
type Deps struct {
	Oracle    EstimationOracle
	Registry  TokenRegistry
	Parser    OperationParser
	Validator DataValidator
	Signer    SigningOracle
	Channel   SubmissionChannel
	Booster   Booster
	Progress  ProgressIndicator
	Messages  MessageLog
	Wallet    Wallet
	Policy    policy.Engine
	Logger    *zap.Logger
}

// Pipeline holds the long-lived collaborators. Each request runs in its own Session.
type Pipeline struct {
	oracle     EstimationOracle
	wallet     Wallet
	engine     policy.Engine
	logger     *zap.Logger
	normalizer *Normalizer
	simulator  *Simulator
	submitter  *Submitter
	boosts     errgroup.Group
}

func New(deps Deps) *Pipeline {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Progress == nil {
		deps.Progress = nopProgress{}
	}
	p := &Pipeline{
		oracle: deps.Oracle,
		wallet: deps.Wallet,
		engine: policy.NewEngine(deps.Policy.Threshold, deps.Policy.FallbackRate),
		logger: deps.Logger,
	}
	p.normalizer = &Normalizer{
		Registry:  deps.Registry,
		Parser:    deps.Parser,
		Validator: deps.Validator,
		Messages:  deps.Messages,
		Logger:    deps.Logger,
	}
	p.simulator = &Simulator{
		Oracle:   deps.Oracle,
		Progress: deps.Progress,
		Messages: deps.Messages,
		Logger:   deps.Logger,
	}
	p.submitter = &Submitter{
		Wallet:     deps.Wallet,
		Signer:     deps.Signer,
		Channel:    deps.Channel,
		Booster:    deps.Booster,
		Progress:   deps.Progress,
		Messages:   deps.Messages,
		Logger:     deps.Logger,
		Background: &p.boosts,
	}
	return p
}

// Wait blocks until background boost notifications have finished.
func (p *Pipeline) Wait() error {
	return p.boosts.Wait()
}

// Session is one invocation of the send flow. Its Result is emitted once.
type Session struct {
	id       string
	p        *Pipeline
	account  Account
	template *Template

	mu            sync.Mutex
	pending       PendingAction
	tokenTransfer string
	cancelled     bool

	once   sync.Once
	done   chan struct{}
	result Result
}

// NewSession starts an invocation for account. template may be nil.
func (p *Pipeline) NewSession(account Account, template *Template) *Session {
	if account.Pkh == "" {
		account.Pkh = account.Address
	}
	if account.Address == "" {
		account.Address = account.Pkh
	}
	return &Session{
		id:       newSessionID(),
		p:        p,
		account:  account,
		template: template,
		pending:  PendingNone{},
		done:     make(chan struct{}),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) Account() Account { return s.account }

func (s *Session) Template() *Template { return s.template }

// Done is closed once the session has a Result.
func (s *Session) Done() <-chan struct{} { return s.done }

// Result reports the terminal result, if any.
func (s *Session) Result() (Result, bool) {
	select {
	case <-s.done:
		return s.result, true
	default:
		return Result{}, false
	}
}

func (s *Session) Pending() PendingAction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

func (s *Session) TokenTransfer() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokenTransfer
}

// Cancel abandons the session. In-flight calls finish but their results are dropped.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = true
	s.pending = PendingNone{}
}

func (s *Session) isCancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

func (s *Session) setPending(a PendingAction) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled || s.isDone() {
		return false
	}
	s.pending = a
	return true
}

func (s *Session) emit(r Result) {
	s.mu.Lock()
	cancelled := s.cancelled
	s.pending = PendingNone{}
	s.mu.Unlock()
	if cancelled {
		s.p.logger.Debug("discarding result of cancelled session", zap.String("session", s.id))
		return
	}
	s.once.Do(func() {
		s.result = r
		observeResult(r)
		s.p.logger.Info("session finished",
			zap.String("session", s.id),
			zap.String("outcome", string(r.Outcome)),
			zap.String("kind", string(r.Kind)),
			zap.String("op_hash", r.OpHash))
		close(s.done)
	})
}

func (s *Session) ensureOpen() error {
	if _, done := s.Result(); done {
		return ErrSessionClosed
	}
	if s.isCancelled() {
		return ErrSessionClosed
	}
	return nil
}

// Request runs an external operation request through normalization,
// simulation and the policy gate. It returns what the session waits on next;
// PendingNone means a Result was emitted.
func (s *Session) Request(ctx context.Context, raw []RawOperation) (PendingAction, error) {
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	ctx, span := tracer.Start(ctx, "send.request")
	defer span.End()

	normalized, err := s.p.normalizer.Normalize(raw, s.template, s.p.wallet.Capability())
	if err != nil {
		s.emit(resultFromError(err))
		return s.Pending(), nil
	}
	s.mu.Lock()
	s.tokenTransfer = normalized.TokenTransfer
	s.mu.Unlock()

	if s.template != nil && !s.template.Silent {
		s.setPending(PendingTemplate{Request: TemplateRequest{
			Template:   *s.template,
			PartialOps: cloneTransactions(normalized.Transactions),
		}})
	}

	ops, err := s.simulate(ctx, normalized.Transactions, normalized.TokenTransfer, s.template == nil)
	if err != nil {
		s.emit(resultFromError(err))
		return s.Pending(), nil
	}
	if s.isCancelled() {
		return PendingNone{}, nil
	}
	s.decide(ctx, normalized.Transactions, ops)
	return s.Pending(), nil
}

func (s *Session) simulate(ctx context.Context, txs []PartiallyPreparedTransaction, tokenTransfer string, showProgress bool) ([]FullyPreparedTransaction, error) {
	unlock := acquireAccountLock(s.account.Pkh)
	defer unlock()
	return s.p.simulator.Simulate(ctx, txs, s.account, tokenTransfer, showProgress)
}

func (s *Session) decide(ctx context.Context, partial []PartiallyPreparedTransaction, ops []FullyPreparedTransaction) {
	mode := policy.NoTemplate
	var fee policy.TemplateFee
	if s.template != nil {
		mode = policy.InteractiveTemplate
		if s.template.Silent {
			mode = policy.SilentTemplate
		}
		var err error
		fee, err = policy.ComputeFee(feeLines(ops), s.p.oracle.CostPerByte())
		if err != nil {
			s.p.logger.Error("compute template fee", zap.Error(err))
			s.emit(Failure(ErrUnknown, ""))
			return
		}
	}

	var rate policy.Rate
	if mode == policy.SilentTemplate {
		rate.Mainnet = s.p.wallet.Mainnet()
		rate.Value, rate.Available = s.p.wallet.ExchangeRate(ctx)
	}
	decision, err := s.p.engine.Decide(feeLines(ops), fee, mode, rate)
	if err != nil {
		s.p.logger.Error("policy decision", zap.Error(err))
		s.emit(Failure(ErrUnknown, ""))
		return
	}
	decisionsTotal.WithLabelValues(decision.String()).Inc()

	switch decision {
	case policy.DecisionConfirm:
		s.setPending(PendingConfirm{Request: ConfirmRequest{
			Account:       s.account,
			TokenTransfer: s.TokenTransfer(),
			Transactions:  ops,
			ExternalReq:   true,
		}})
	case policy.DecisionTemplateApproval:
		s.setPending(PendingTemplate{Request: TemplateRequest{
			Template:   *s.template,
			PartialOps: cloneTransactions(partial),
			Ops:        ops,
			Fee:        &fee,
		}})
	case policy.DecisionExceeded:
		s.emit(Failure(ErrExceededThreshold, ""))
	case policy.DecisionAutoInject:
		s.emit(s.p.submitter.Submit(ctx, ops, s.account, true))
	}
}

// Prepare opens a user-initiated send; the prepared batch comes back through
// SimulatePrepared or HandlePrepareResponse.
func (s *Session) Prepare(tokenTransfer, symbol string) (PrepareRequest, error) {
	if err := s.ensureOpen(); err != nil {
		return PrepareRequest{}, err
	}
	req := PrepareRequest{Account: s.account, TokenTransfer: tokenTransfer, Symbol: symbol}
	s.mu.Lock()
	s.tokenTransfer = tokenTransfer
	s.pending = PendingPrepare{Request: req}
	s.mu.Unlock()
	return req, nil
}

// SimulatePrepared simulates a user-built batch and moves the session to confirmation.
func (s *Session) SimulatePrepared(ctx context.Context, txs []PartiallyPreparedTransaction) (PendingAction, error) {
	if _, ok := s.Pending().(PendingPrepare); !ok {
		return nil, ErrNoPendingAction
	}
	if err := ValidateParameters(txs, s.p.normalizer.Validator); err != nil {
		if s.p.normalizer.Messages != nil {
			s.p.normalizer.Messages.AddError("Invalid parameters: " + err.Error())
		}
		s.emit(Failure(ErrInvalidParameters, ""))
		return s.Pending(), nil
	}
	ops, err := s.simulate(ctx, txs, s.TokenTransfer(), true)
	if err != nil {
		s.emit(resultFromError(err))
		return s.Pending(), nil
	}
	if err := s.HandlePrepareResponse(ops); err != nil {
		return nil, err
	}
	return s.Pending(), nil
}

// HandlePrepareResponse takes the batch produced by the prepare step. A nil
// batch abandons the send.
func (s *Session) HandlePrepareResponse(prepared []FullyPreparedTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending.(PendingPrepare); !ok || s.cancelled || s.isDone() {
		return ErrNoPendingAction
	}
	if prepared == nil {
		s.pending = PendingNone{}
		return nil
	}
	s.pending = PendingConfirm{Request: ConfirmRequest{
		Account:       s.account,
		TokenTransfer: s.tokenTransfer,
		Transactions:  prepared,
		ExternalReq:   false,
	}}
	return nil
}

// claim takes the pending action out of the session when match accepts it,
// so exactly one caller acts on it. Later callers see PendingNone.
func (s *Session) claim(match func(PendingAction) error) (PendingAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled || s.isDone() {
		return nil, ErrNoPendingAction
	}
	if err := match(s.pending); err != nil {
		return nil, err
	}
	claimed := s.pending
	s.pending = PendingNone{}
	return claimed, nil
}

func (s *Session) isDone() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func awaitingConfirm(p PendingAction) error {
	if _, ok := p.(PendingConfirm); !ok {
		return ErrNoPendingAction
	}
	return nil
}

// Confirm signs and submits the batch awaiting confirmation.
func (s *Session) Confirm(ctx context.Context) (Result, error) {
	claimed, err := s.claim(awaitingConfirm)
	if err != nil {
		return Result{}, err
	}
	pending := claimed.(PendingConfirm)
	res := s.p.submitter.Submit(ctx, pending.Request.Transactions, s.account, false)
	s.emit(res)
	return res, nil
}

// HandleConfirmResponse records an op hash produced by an external signer.
func (s *Session) HandleConfirmResponse(opHash string) error {
	if _, err := s.claim(awaitingConfirm); err != nil {
		return err
	}
	if opHash == "" {
		s.emit(Declined())
		return nil
	}
	s.emit(Success(opHash))
	return nil
}

// ApproveTemplate submits the simulated template batch when approve is true
// and emits Declined otherwise.
func (s *Session) ApproveTemplate(ctx context.Context, approve bool) (Result, error) {
	claimed, err := s.claim(func(p PendingAction) error {
		tpl, ok := p.(PendingTemplate)
		if !ok {
			return ErrNoPendingAction
		}
		if approve && tpl.Request.Ops == nil {
			return ErrNotReady
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	if !approve {
		res := Declined()
		s.emit(res)
		return res, nil
	}
	pending := claimed.(PendingTemplate)
	res := s.p.submitter.Submit(ctx, pending.Request.Ops, s.account, pending.Request.Template.Silent)
	s.emit(res)
	return res, nil
}

// Decline rejects whatever the session is waiting on.
func (s *Session) Decline() error {
	_, err := s.claim(func(p PendingAction) error {
		switch p.(type) {
		case PendingConfirm, PendingTemplate, PendingPrepare:
			return nil
		default:
			return ErrNoPendingAction
		}
	})
	if err != nil {
		return err
	}
	s.emit(Declined())
	return nil
}

func newSessionID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("session id entropy: %v", err))
	}
	return "inv_" + hex.EncodeToString(b)
}

type nopProgress struct{}

func (nopProgress) Start(string) {}
func (nopProgress) Stop()        {}

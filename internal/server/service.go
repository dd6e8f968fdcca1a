// Package server exposes the send pipeline to paired dApps over JSON-RPC.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ggonzalez94/sendflow/internal/journal"
	"github.com/ggonzalez94/sendflow/internal/send"
)

// sessionRetention bounds how long a session stays registered. Sessions still
// waiting on the dApp after that are cancelled and journalled as cancelled.
const sessionRetention = 10 * time.Minute

type RequestArgs struct {
	Account    send.Account    `json:"account"`
	Template   *send.Template  `json:"template,omitempty"`
	Operations json.RawMessage `json:"operations"`
}

type SessionArgs struct {
	ID string `json:"id"`
}

type ApproveArgs struct {
	ID      string `json:"id"`
	Approve bool   `json:"approve"`
}

// SessionReply describes a session after a call: what it waits on, or its result once done.
type SessionReply struct {
	ID       string                `json:"id"`
	Pending  string                `json:"pending"`
	Confirm  *send.ConfirmRequest  `json:"confirm,omitempty"`
	Template *send.TemplateRequest `json:"template,omitempty"`
	Done     bool                  `json:"done"`
	Outcome  send.Outcome          `json:"outcome,omitempty"`
	Result   json.RawMessage       `json:"result,omitempty"`
}

type tracked struct {
	session *send.Session
	started time.Time
	stop    context.CancelFunc
}

// Send is registered as the "Send" JSON-RPC service.
type Send struct {
	pipeline *send.Pipeline
	journal  *journal.Store
	logger   *zap.Logger
	base     context.Context
	now      func() time.Time

	mu       sync.Mutex
	sessions map[string]tracked
}

// NewSend builds the service. base bounds journal tracking; store may be nil.
func NewSend(base context.Context, pipeline *send.Pipeline, store *journal.Store, logger *zap.Logger) *Send {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Send{
		pipeline: pipeline,
		journal:  store,
		logger:   logger,
		base:     base,
		now:      time.Now,
		sessions: map[string]tracked{},
	}
}

func (s *Send) Request(r *http.Request, args *RequestArgs, reply *SessionReply) error {
	if strings.TrimSpace(args.Account.Pkh) == "" && strings.TrimSpace(args.Account.Address) == "" {
		return fmt.Errorf("account is required")
	}
	ops, err := send.ParseOperations(args.Operations)
	if err != nil {
		return err
	}
	session := s.pipeline.NewSession(args.Account, args.Template)
	trackCtx, stop := context.WithCancel(s.base)
	s.add(session, stop)
	if s.journal != nil {
		s.journal.Track(trackCtx, session, journal.PathRequest)
	}
	s.logger.Info("operation request", zap.String("id", session.ID()), zap.Int("operations", len(ops)))

	if _, err := session.Request(r.Context(), ops); err != nil {
		return err
	}
	*reply = describe(session)
	return nil
}

func (s *Send) Confirm(r *http.Request, args *SessionArgs, reply *SessionReply) error {
	session, err := s.lookup(args.ID)
	if err != nil {
		return err
	}
	if _, err := session.Confirm(r.Context()); err != nil {
		return err
	}
	*reply = describe(session)
	return nil
}

func (s *Send) ApproveTemplate(r *http.Request, args *ApproveArgs, reply *SessionReply) error {
	session, err := s.lookup(args.ID)
	if err != nil {
		return err
	}
	if _, err := session.ApproveTemplate(r.Context(), args.Approve); err != nil {
		return err
	}
	*reply = describe(session)
	return nil
}

func (s *Send) Decline(r *http.Request, args *SessionArgs, reply *SessionReply) error {
	session, err := s.lookup(args.ID)
	if err != nil {
		return err
	}
	if err := session.Decline(); err != nil {
		return err
	}
	*reply = describe(session)
	return nil
}

func (s *Send) Status(r *http.Request, args *SessionArgs, reply *SessionReply) error {
	session, err := s.lookup(args.ID)
	if err != nil {
		return err
	}
	*reply = describe(session)
	return nil
}

func (s *Send) add(session *send.Session, stop context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.evictLocked(now)
	s.sessions[session.ID()] = tracked{session: session, started: now, stop: stop}
}

// evictLocked drops sessions older than sessionRetention, cancelling those
// the dApp never answered.
func (s *Send) evictLocked(now time.Time) {
	for id, t := range s.sessions {
		if now.Sub(t.started) <= sessionRetention {
			continue
		}
		if _, done := t.session.Result(); !done {
			t.session.Cancel()
			s.logger.Info("abandoned session cancelled", zap.String("id", id), zap.Duration("age", now.Sub(t.started)))
		}
		t.stop()
		delete(s.sessions, id)
	}
}

func (s *Send) lookup(id string) (*send.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.sessions[strings.TrimSpace(id)]
	if !ok {
		return nil, fmt.Errorf("unknown session %q", id)
	}
	return t.session, nil
}

// cancelAll cancels every session still waiting on the user.
func (s *Send) cancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.sessions {
		if _, done := t.session.Result(); !done {
			t.session.Cancel()
			t.stop()
		}
	}
}

func describe(session *send.Session) SessionReply {
	pending := session.Pending()
	reply := SessionReply{ID: session.ID(), Pending: send.PendingName(pending)}
	switch p := pending.(type) {
	case send.PendingConfirm:
		req := p.Request
		reply.Confirm = &req
	case send.PendingTemplate:
		req := p.Request
		reply.Template = &req
	}
	if result, ok := session.Result(); ok {
		reply.Done = true
		reply.Outcome = result.Outcome
		if raw, err := json.Marshal(result); err == nil {
			reply.Result = raw
		}
	}
	return reply
}

package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	clierr "github.com/ggonzalez94/sendflow/internal/errors"
	"github.com/ggonzalez94/sendflow/internal/journal"
	"github.com/ggonzalez94/sendflow/internal/model"
	"github.com/ggonzalez94/sendflow/internal/send"
	"github.com/ggonzalez94/sendflow/internal/server"
	"github.com/ggonzalez94/sendflow/internal/tokens"
	"github.com/ggonzalez94/sendflow/internal/units"
)

type decisionFlags struct {
	yes     bool
	decline bool
}

func (d *decisionFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&d.yes, "yes", false, "Approve and submit without further prompting")
	cmd.Flags().BoolVar(&d.decline, "decline", false, "Decline the request after simulation")
}

type accountFlags struct {
	pkh string
	pk  string
}

func (a *accountFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&a.pkh, "account", "", "Sending account address")
	cmd.Flags().StringVar(&a.pk, "pk", "", "Sending account public key")
	_ = cmd.MarkFlagRequired("account")
}

func (a accountFlags) account() send.Account {
	return send.Account{Pkh: strings.TrimSpace(a.pkh), PublicKey: strings.TrimSpace(a.pk)}
}

func (s *runtimeState) newSendCommand() *cobra.Command {
	var (
		acct     accountFlags
		decision decisionFlags
		file     string
		template string
		silent   bool
	)
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Run an external operation request through simulation, policy and submission",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if decision.yes && decision.decline {
				return clierr.New(clierr.CodeUsage, "cannot use --yes and --decline together")
			}
			if silent && strings.TrimSpace(template) == "" {
				return clierr.New(clierr.CodeUsage, "--silent requires --template")
			}
			body, err := readInput(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}
			ops, err := send.ParseOperations(body)
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "parse operation request", err)
			}

			ctx := cmd.Context()
			svc, err := s.openServices(ctx)
			if err != nil {
				return err
			}
			var tpl *send.Template
			if name := strings.TrimSpace(template); name != "" {
				tpl = &send.Template{Name: name, Silent: silent}
			}
			session := svc.pipeline.NewSession(acct.account(), tpl)
			finish := s.track(ctx, svc, session, journal.PathRequest)
			defer finish()

			pending, err := session.Request(ctx, ops)
			if err != nil {
				return clierr.Wrap(clierr.CodeInternal, "run request", err)
			}
			return s.settle(ctx, cmd, svc, session, pending, decision)
		},
	}
	acct.register(cmd)
	decision.register(cmd)
	cmd.Flags().StringVar(&file, "file", "-", "Operation request JSON file (- for stdin)")
	cmd.Flags().StringVar(&template, "template", "", "Template name the request was issued under")
	cmd.Flags().BoolVar(&silent, "silent", false, "Treat the template as silent (auto-inject under threshold)")
	return cmd
}

func (s *runtimeState) newTransferCommand() *cobra.Command {
	var (
		acct     accountFlags
		decision decisionFlags
		to       string
		amount   string
		token    string
	)
	cmd := &cobra.Command{
		Use:   "transfer",
		Short: "Prepare, simulate and confirm a user-initiated transfer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if decision.yes && decision.decline {
				return clierr.New(clierr.CodeUsage, "cannot use --yes and --decline together")
			}
			ctx := cmd.Context()
			svc, err := s.openServices(ctx)
			if err != nil {
				return err
			}
			account := acct.account()
			tx, tokenID, symbol, err := buildTransfer(svc.registry, account.Pkh, to, amount, token)
			if err != nil {
				return err
			}

			session := svc.pipeline.NewSession(account, nil)
			finish := s.track(ctx, svc, session, journal.PathTransfer)
			defer finish()

			if _, err := session.Prepare(tokenID, symbol); err != nil {
				return clierr.Wrap(clierr.CodeInternal, "prepare transfer", err)
			}
			pending, err := session.SimulatePrepared(ctx, []send.PartiallyPreparedTransaction{tx})
			if err != nil {
				return clierr.Wrap(clierr.CodeInternal, "simulate transfer", err)
			}
			return s.settle(ctx, cmd, svc, session, pending, decision)
		},
	}
	acct.register(cmd)
	decision.register(cmd)
	cmd.Flags().StringVar(&to, "to", "", "Recipient address")
	cmd.Flags().StringVar(&amount, "amount", "", "Amount in display units")
	cmd.Flags().StringVar(&token, "token", "", "Token id <contract>:<token id> (native unit when empty)")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

// buildTransfer turns a display amount into the single-operation batch for a native or token transfer.
func buildTransfer(registry *tokens.Registry, from, to, amount, token string) (send.PartiallyPreparedTransaction, string, string, error) {
	to = strings.TrimSpace(to)
	token = strings.TrimSpace(token)
	if token == "" {
		base, err := units.ParseUnits(amount, units.NativeDecimals)
		if err != nil {
			return send.PartiallyPreparedTransaction{}, "", "", clierr.Wrap(clierr.CodeUsage, "parse --amount", err)
		}
		major, err := units.FormatUnits(base, units.NativeDecimals)
		if err != nil {
			return send.PartiallyPreparedTransaction{}, "", "", clierr.Wrap(clierr.CodeUsage, "parse --amount", err)
		}
		return send.PartiallyPreparedTransaction{Kind: send.KindTransaction, Destination: to, Amount: major}, "", "XTZ", nil
	}

	asset, ok := registry.Asset(token)
	if !ok {
		return send.PartiallyPreparedTransaction{}, "", "", clierr.New(clierr.CodeUsage, fmt.Sprintf("unknown token %s", token))
	}
	base, err := units.ParseUnits(amount, asset.Decimals)
	if err != nil {
		return send.PartiallyPreparedTransaction{}, "", "", clierr.Wrap(clierr.CodeUsage, "parse --amount", err)
	}
	value, err := tokens.TransferValue(asset, from, to, base)
	if err != nil {
		return send.PartiallyPreparedTransaction{}, "", "", clierr.Wrap(clierr.CodeUsage, "build token transfer", err)
	}
	return send.PartiallyPreparedTransaction{
		Kind:        send.KindTransaction,
		Destination: asset.Contract,
		Amount:      "0",
		Parameters:  &send.Parameters{Entrypoint: "transfer", Value: value},
	}, asset.ID, asset.Symbol, nil
}

// track journals the session and returns the func that waits for the record to settle.
func (s *runtimeState) track(ctx context.Context, svc *services, session *send.Session, path journal.Path) func() {
	s.lastSession = session.ID()
	trackCtx, cancel := context.WithCancel(ctx)
	_, finished := svc.journal.Track(trackCtx, session, path)
	return func() {
		cancel()
		<-finished
	}
}

// settle answers the pending step per the decision flags, then reports the session.
func (s *runtimeState) settle(ctx context.Context, cmd *cobra.Command, svc *services, session *send.Session, pending send.PendingAction, decision decisionFlags) error {
	var err error
	switch pending.(type) {
	case send.PendingConfirm:
		switch {
		case decision.decline:
			err = session.Decline()
		case decision.yes:
			_, err = session.Confirm(ctx)
		}
	case send.PendingTemplate:
		switch {
		case decision.decline:
			_, err = session.ApproveTemplate(ctx, false)
		case decision.yes:
			_, err = session.ApproveTemplate(ctx, true)
		}
	}
	if err != nil {
		return clierr.Wrap(clierr.CodeInternal, "answer pending request", err)
	}

	path := trimRootPath(cmd.CommandPath())
	view := model.Invocation{
		ID:       session.ID(),
		Account:  session.Account().Pkh,
		Messages: svc.messages.Messages(),
	}
	result, done := session.Result()
	if !done {
		current := session.Pending()
		session.Cancel()
		view.Status = string(journal.StatusPending)
		view.Pending = send.PendingName(current)
		view.Request = pendingRequest(current)
		return s.emitSuccess(path, view, []string{"not submitted; rerun with --yes to approve"})
	}
	if result.Outcome != send.OutcomeSuccess {
		return result.Err()
	}
	view.Status = string(journal.StatusSuccess)
	view.OpHash = result.OpHash
	return s.emitSuccess(path, view, nil)
}

func pendingRequest(p send.PendingAction) any {
	switch v := p.(type) {
	case send.PendingConfirm:
		return v.Request
	case send.PendingTemplate:
		return v.Request
	case send.PendingPrepare:
		return v.Request
	default:
		return nil
	}
}

func readInput(stdin io.Reader, file string) ([]byte, error) {
	file = strings.TrimSpace(file)
	if file == "" || file == "-" {
		body, err := io.ReadAll(stdin)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUsage, "read operation request from stdin", err)
		}
		return body, nil
	}
	body, err := os.ReadFile(file)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUsage, "read operation request file", err)
	}
	return body, nil
}

func (s *runtimeState) newTokensCommand() *cobra.Command {
	root := &cobra.Command{Use: "tokens", Short: "Token registry commands"}
	list := &cobra.Command{
		Use:   "list",
		Short: "List known token contracts and assets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := s.openRegistry()
			if err != nil {
				return err
			}
			assets := registry.Assets()
			items := make([]model.TokenInfo, 0, len(assets))
			for _, a := range assets {
				items = append(items, model.TokenInfo{
					ID:       a.ID,
					Contract: a.Contract,
					TokenID:  a.TokenID,
					Symbol:   a.Symbol,
					Name:     a.Name,
					Decimals: a.Decimals,
					Standard: string(a.Standard),
				})
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), items, nil)
		},
	}
	root.AddCommand(list)
	return root
}

func (s *runtimeState) newHistoryCommand() *cobra.Command {
	root := &cobra.Command{Use: "history", Short: "Invocation journal commands"}

	var (
		account string
		status  string
		limit   int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent invocations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := s.openJournal()
			if err != nil {
				return err
			}
			records, err := store.List(journal.Filter{Account: account, Status: journal.Status(strings.ToLower(status)), Limit: limit})
			if err != nil {
				return clierr.Wrap(clierr.CodeInternal, "list invocations", err)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), records, nil)
		},
	}
	list.Flags().StringVar(&account, "account", "", "Only invocations from this account")
	list.Flags().StringVar(&status, "status", "", "Only invocations with this status")
	list.Flags().IntVar(&limit, "limit", 20, "Maximum invocations to return")

	get := &cobra.Command{
		Use:   "get <id>",
		Short: "Show one invocation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := s.openJournal()
			if err != nil {
				return err
			}
			rec, err := store.Get(strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), rec, nil)
		},
	}

	root.AddCommand(list)
	root.AddCommand(get)
	return root
}

func (s *runtimeState) newServeCommand() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the send pipeline to paired dApps over JSON-RPC",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			svc, err := s.openServices(ctx)
			if err != nil {
				return err
			}
			if strings.TrimSpace(addr) == "" {
				addr = s.settings.ServeAddr
			}
			rpc := server.NewSend(ctx, svc.pipeline, svc.journal, s.logger)
			if err := server.Serve(ctx, addr, rpc, s.logger); err != nil {
				return clierr.Wrap(clierr.CodeUnavailable, "serve", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from serve.addr)")
	return cmd
}

package app

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ggonzalez94/sendflow/internal/config"
	clierr "github.com/ggonzalez94/sendflow/internal/errors"
	"github.com/ggonzalez94/sendflow/internal/journal"
	"github.com/ggonzalez94/sendflow/internal/logging"
	"github.com/ggonzalez94/sendflow/internal/model"
	"github.com/ggonzalez94/sendflow/internal/out"
	"github.com/ggonzalez94/sendflow/internal/policy"
	"github.com/ggonzalez94/sendflow/internal/progress"
	"github.com/ggonzalez94/sendflow/internal/schema"
	"github.com/ggonzalez94/sendflow/internal/version"
)

type Runner struct {
	stdout io.Writer
	stderr io.Writer
	stdin  io.Reader
	now    func() time.Time

	logger   *zap.Logger
	progress progress.Indicator
}

func NewRunner() *Runner {
	r := NewRunnerWithWriters(os.Stdout, os.Stderr)
	r.stdin = os.Stdin
	return r
}

func NewRunnerWithWriters(stdout, stderr io.Writer) *Runner {
	return &Runner{
		stdout: stdout,
		stderr: stderr,
		stdin:  strings.NewReader(""),
		now:    time.Now,
	}
}

type runtimeState struct {
	runner      *Runner
	flags       config.GlobalFlags
	settings    config.Settings
	logger      *zap.Logger
	root        *cobra.Command
	lastCommand string
	lastSession string
	privateKey  string

	journal *journal.Store
	svc     *services
}

func (r *Runner) Run(args []string) int {
	state := &runtimeState{runner: r, logger: zap.NewNop()}
	root := state.newRootCommand()
	state.root = root
	root.SetArgs(args)
	root.SetIn(r.stdin)
	root.SetOut(r.stdout)
	root.SetErr(r.stderr)
	root.SilenceUsage = true
	root.SilenceErrors = true

	err := root.Execute()
	err = normalizeRunError(err)
	state.close()
	if err == nil {
		return 0
	}

	state.renderError("", err)
	return clierr.ExitCode(err)
}

func (s *runtimeState) close() {
	if s.svc != nil {
		s.svc.close()
	}
	if s.journal != nil {
		_ = s.journal.Close()
	}
	if s.runner.logger == nil {
		logging.Sync(s.logger)
	}
}

func (s *runtimeState) newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   version.CLIName,
		Short: "Simulate, gate and submit wallet operation batches",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			settings, err := config.Load(s.flags)
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "load configuration", err)
			}
			s.settings = settings

			if s.runner.logger != nil {
				s.logger = s.runner.logger
			} else {
				logger, err := logging.New(settings.LogEnv, settings.LogLevel)
				if err != nil {
					return clierr.Wrap(clierr.CodeUsage, "configure logging", err)
				}
				s.logger = logger
			}

			path := trimRootPath(cmd.CommandPath())
			s.lastCommand = path
			return policy.CheckCommandAllowed(settings.EnableCommands, path)
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return clierr.Wrap(clierr.CodeUsage, "parse flags", err)
	})

	cmd.PersistentFlags().BoolVar(&s.flags.JSON, "json", false, "Output JSON (default)")
	cmd.PersistentFlags().BoolVar(&s.flags.Plain, "plain", false, "Output plain text")
	cmd.PersistentFlags().StringVar(&s.flags.Select, "select", "", "Select fields from data (comma-separated, dotted paths allowed)")
	cmd.PersistentFlags().BoolVar(&s.flags.ResultsOnly, "results-only", false, "Output only data payload")
	cmd.PersistentFlags().StringVar(&s.flags.EnableCommands, "enable-commands", "", "Allowlist command paths (comma-separated)")
	cmd.PersistentFlags().StringVar(&s.flags.Timeout, "timeout", "", "Upstream request timeout")
	cmd.PersistentFlags().IntVar(&s.flags.Retries, "retries", -1, "Retries per upstream request")
	cmd.PersistentFlags().StringVar(&s.flags.MaxStale, "max-stale", "", "Maximum stale exchange-rate window after TTL expiry")
	cmd.PersistentFlags().BoolVar(&s.flags.NoCache, "no-cache", false, "Disable the exchange-rate cache")
	cmd.PersistentFlags().StringVar(&s.flags.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&s.flags.Network, "network", "", "Network name; exchange rates apply on mainnet only")
	cmd.PersistentFlags().StringVar(&s.flags.ConfigPath, "config", "", "Path to config file")
	cmd.PersistentFlags().StringVar(&s.privateKey, "private-key", "", "Hex signing key (overrides SENDFLOW_PRIVATE_KEY and key files)")

	cmd.AddCommand(s.newSendCommand())
	cmd.AddCommand(s.newTransferCommand())
	cmd.AddCommand(s.newTokensCommand())
	cmd.AddCommand(s.newHistoryCommand())
	cmd.AddCommand(s.newServeCommand())
	cmd.AddCommand(s.newSchemaCommand())
	cmd.AddCommand(newVersionCommand())

	return cmd
}

func newVersionCommand() *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print CLI version",
		Run: func(cmd *cobra.Command, args []string) {
			if long {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.Long())
				return
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.CLIVersion)
		},
	}
	cmd.Flags().BoolVar(&long, "long", false, "Print extended build metadata")
	return cmd
}

func (s *runtimeState) renderOptions() out.Options {
	return out.Options{
		Mode:        s.settings.OutputMode,
		Select:      s.settings.SelectFields,
		ResultsOnly: s.settings.ResultsOnly,
	}
}

func (s *runtimeState) newSchemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schema [command path]",
		Short: "Print machine-readable command schema",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := schema.Build(s.root, strings.Join(args, " "))
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "build schema", err)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), data, nil)
		},
	}
}

func (s *runtimeState) emitSuccess(commandPath string, data any, warnings []string) error {
	env := model.Envelope{
		Version:  model.EnvelopeVersion,
		Success:  true,
		Data:     data,
		Error:    nil,
		Warnings: warnings,
		Meta:     s.meta(commandPath),
	}
	return out.Render(s.runner.stdout, env, s.renderOptions())
}

func (s *runtimeState) meta(commandPath string) model.EnvelopeMeta {
	return model.EnvelopeMeta{
		RequestID: newRequestID(),
		Timestamp: s.runner.now().UTC(),
		Command:   commandPath,
		SessionID: s.lastSession,
		Network:   s.settings.Network,
	}
}

func (s *runtimeState) renderError(commandPath string, err error) {
	if strings.TrimSpace(commandPath) == "" {
		commandPath = s.lastCommand
		if commandPath == "" {
			commandPath = version.CLIName
		}
	}
	code := clierr.ExitCode(err)
	typ := "internal_error"
	message := err.Error()
	if cErr, ok := clierr.As(err); ok {
		message = cErr.Message
		if cErr.Cause != nil {
			message = fmt.Sprintf("%s: %v", cErr.Message, cErr.Cause)
		}
		typ = clierr.TypeName(cErr.Code)
		if cErr.Code == clierr.CodePolicy && strings.Contains(cErr.Message, "--enable-commands") {
			typ = "command_blocked"
		}
	}

	opts := s.renderOptions()
	opts.ResultsOnly = false
	opts.Select = nil
	env := model.Envelope{
		Version: model.EnvelopeVersion,
		Success: false,
		Data:    []any{},
		Error: &model.ErrorBody{
			Code:    code,
			Type:    typ,
			Message: message,
		},
		Meta: s.meta(commandPath),
	}
	_ = out.Render(s.runner.stderr, env, opts)
}

func newRequestID() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func trimRootPath(path string) string {
	parts := strings.Fields(path)
	if len(parts) <= 1 {
		return path
	}
	return strings.Join(parts[1:], " ")
}

func normalizeRunError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := clierr.As(err); ok {
		return err
	}
	if isLikelyUsageError(err) {
		return clierr.Wrap(clierr.CodeUsage, "invalid command input", err)
	}
	return clierr.Wrap(clierr.CodeInternal, "execute command", err)
}

func isLikelyUsageError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	patterns := []string{
		"unknown command",
		"unknown flag",
		"required flag(s)",
		"flag needs an argument",
		"requires at least",
		"requires exactly",
		"accepts ",
		"invalid argument",
		"invalid args",
	}
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/danmuck/bladectl/internal/config"
	"github.com/danmuck/bladectl/internal/logging"
	"github.com/danmuck/bladectl/internal/protocol/session"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// rootOptions holds global flags for all commands.
type rootOptions struct {
	ConfigPath string
	LogLevel   string
	Wait       time.Duration
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "bladectl",
		Short: "Session client for the blade control protocol",
		Long: `bladectl keeps a JSON-RPC session open against a master node,
resumes it across disconnects and mirrors the topology the master
pushes. Subcommands run one operation over a fresh session.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logging.ConfigureRuntime()
			if opts.LogLevel != "" {
				lvl, ok := logging.ParseLevel(opts.LogLevel)
				if !ok {
					return fmt.Errorf("invalid --log-level %q", opts.LogLevel)
				}
				zerolog.SetGlobalLevel(lvl)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "bladectl.toml", "config file (.toml, .yaml)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level override (trace|debug|info|warn|error|off)")
	cmd.PersistentFlags().DurationVar(&opts.Wait, "wait", 10*time.Second, "how long to wait for the session to come up")

	cmd.AddCommand(newConnectCommand(opts))
	cmd.AddCommand(newExecuteCommand(opts))
	cmd.AddCommand(newBroadcastCommand(opts))
	cmd.AddCommand(newConfigCommand(opts))

	return cmd
}

// loadConfig reads the config file and applies its log level unless the
// flag already set one.
func (o *rootOptions) loadConfig() (config.Config, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return config.Config{}, err
	}
	if o.LogLevel == "" && cfg.LogLevel != "" {
		if lvl, ok := logging.ParseLevel(cfg.LogLevel); ok {
			zerolog.SetGlobalLevel(lvl)
		}
	}
	return cfg, nil
}

// openSession starts a session and blocks until it is Running.
func (o *rootOptions) openSession(ctx context.Context, cfg config.Config, opts ...session.Option) (*session.Session, error) {
	s, err := session.New(cfg.Session, opts...)
	if err != nil {
		return nil, err
	}
	up := make(chan struct{}, 1)
	signal := func(session.Identity) {
		select {
		case up <- struct{}{}:
		default:
		}
	}
	removeReady := s.Hooks().Ready.Add(signal)
	removeRestored := s.Hooks().Restored.Add(signal)
	defer removeReady()
	defer removeRestored()

	if err := s.Start(); err != nil {
		return nil, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, o.Wait)
	defer cancel()
	select {
	case <-up:
		return s, nil
	case <-waitCtx.Done():
		closeSession(s)
		return nil, fmt.Errorf("session not running after %s (state %s)", o.Wait, s.State())
	}
}

func closeSession(s *session.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), s.Config().CloseTimeout+s.Config().DrainTimeout)
	defer cancel()
	_ = s.Shutdown(ctx)
}

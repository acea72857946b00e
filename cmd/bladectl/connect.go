package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/danmuck/bladectl/internal/admin"
	"github.com/danmuck/bladectl/internal/observability"
	"github.com/danmuck/bladectl/internal/protocol/session"
	"github.com/spf13/cobra"
)

type connectOptions struct {
	*rootOptions
	Admin     string
	Subscribe []string
}

func newConnectCommand(root *rootOptions) *cobra.Command {
	opts := &connectOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Hold a session open until interrupted",
		Long: `Connect to the configured endpoint and keep the session alive,
reconnecting and resuming as needed. With --admin an HTTP status
surface is served alongside.

Example:
  bladectl connect --config bladectl.toml --admin 127.0.0.1:9400 \
    --subscribe blade.calls/events`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runConnect(ctx, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Admin, "admin", "", "admin HTTP listen address (overrides admin.listen)")
	cmd.Flags().StringSliceVar(&opts.Subscribe, "subscribe", nil, "protocol/channel to subscribe to once running (repeatable)")

	return cmd
}

func runConnect(ctx context.Context, opts *connectOptions) error {
	log := observability.Component("bladectl")
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	subs, err := parseSubscriptions(opts.Subscribe)
	if err != nil {
		return err
	}

	s, err := session.New(cfg.Session)
	if err != nil {
		return err
	}
	defer closeSession(s)

	s.Hooks().StateChanged.Add(func(c session.StateChange) {
		log.Info().Str("from", c.From.String()).Str("to", c.To.String()).Msg("session state")
	})
	s.Hooks().Ready.Add(func(id session.Identity) {
		log.Info().Str("sessionid", id.SessionID).Str("nodeid", id.NodeID).Msg("session ready")
		go subscribe(ctx, s, subs)
	})
	s.Hooks().Restored.Add(func(id session.Identity) {
		log.Info().Str("sessionid", id.SessionID).Str("nodeid", id.NodeID).Msg("session restored")
	})
	for _, sub := range subs {
		s.OnBroadcast(sub.protocol, sub.channel, func(b session.Broadcast) {
			log.Info().
				Str("protocol", b.Protocol).
				Str("channel", b.Channel).
				Str("event", b.Event).
				Str("from", b.BroadcasterNodeID).
				RawJSON("params", rawOrNull(b.Params)).
				Msg("broadcast")
		})
	}

	if err := s.Start(); err != nil {
		return err
	}

	listen := cfg.AdminListen
	if opts.Admin != "" {
		listen = opts.Admin
	}
	adminErr := make(chan error, 1)
	if listen != "" {
		srv := admin.New("bladectl", s, admin.WithCORSOrigins(cfg.AdminCORS))
		go func() { adminErr <- srv.Serve(ctx, listen) }()
	}

	select {
	case <-ctx.Done():
		log.Info().Msg("interrupted, shutting down")
		return nil
	case <-s.Done():
		return session.ErrShutdown
	case err := <-adminErr:
		if err != nil {
			return fmt.Errorf("admin server: %w", err)
		}
		return nil
	}
}

type subscription struct {
	protocol string
	channel  string
}

func parseSubscriptions(raw []string) ([]subscription, error) {
	out := make([]subscription, 0, len(raw))
	for _, item := range raw {
		protocol, channel, ok := strings.Cut(strings.TrimSpace(item), "/")
		if !ok || protocol == "" || channel == "" {
			return nil, fmt.Errorf("invalid --subscribe %q: expected protocol/channel", item)
		}
		out = append(out, subscription{protocol: protocol, channel: channel})
	}
	return out, nil
}

// subscribe runs after a fresh handshake; resumed sessions keep their
// subscriptions on the master.
func subscribe(ctx context.Context, s *session.Session, subs []subscription) {
	log := observability.Component("bladectl")
	for _, sub := range subs {
		res, err := s.Subscribe(ctx, sub.protocol, sub.channel)
		if err != nil {
			log.Warn().Err(err).Str("protocol", sub.protocol).Str("channel", sub.channel).Msg("subscribe failed")
			continue
		}
		if len(res.UnauthorizedChannels) > 0 {
			log.Warn().Strs("channels", res.UnauthorizedChannels).Str("protocol", sub.protocol).Msg("subscribe unauthorized")
		}
	}
}

func rawOrNull(raw []byte) []byte {
	if len(raw) == 0 {
		return []byte("null")
	}
	return raw
}

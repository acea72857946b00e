package main

import (
	"fmt"

	"github.com/danmuck/bladectl/internal/protocol/session"
	"github.com/spf13/cobra"
)

type broadcastOptions struct {
	*rootOptions
	Protocol string
	Channel  string
	Event    string
	Params   string
}

func newBroadcastCommand(root *rootOptions) *cobra.Command {
	opts := &broadcastOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:   "broadcast",
		Short: "Publish one event on a protocol channel",
		Long: `Open a session and publish an event on a protocol channel.

Example:
  bladectl broadcast --protocol blade.calls --channel events --event ended`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := jsonFlag("params", opts.Params)
			if err != nil {
				return err
			}
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			s, err := opts.openSession(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeSession(s)

			err = s.Broadcast(cmd.Context(), session.Broadcast{
				Protocol: opts.Protocol,
				Channel:  opts.Channel,
				Event:    opts.Event,
				Params:   params,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "broadcast %s/%s %s\n", opts.Protocol, opts.Channel, opts.Event)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Protocol, "protocol", "", "protocol name")
	cmd.Flags().StringVar(&opts.Channel, "channel", "", "channel name")
	cmd.Flags().StringVar(&opts.Event, "event", "", "event name")
	cmd.Flags().StringVar(&opts.Params, "params", "", "event params as JSON")
	_ = cmd.MarkFlagRequired("protocol")
	_ = cmd.MarkFlagRequired("channel")
	_ = cmd.MarkFlagRequired("event")

	return cmd
}

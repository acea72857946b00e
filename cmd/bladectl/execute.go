package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/danmuck/bladectl/internal/protocol/session"
	"github.com/spf13/cobra"
)

type executeOptions struct {
	*rootOptions
	Protocol  string
	Method    string
	Params    string
	Responder string
	Timeout   time.Duration
}

func newExecuteCommand(root *rootOptions) *cobra.Command {
	opts := &executeOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:   "execute",
		Short: "Execute one protocol method and print its result",
		Long: `Open a session, execute a protocol method on a provider and print
the result as JSON. Without --responder a random cached provider is
chosen.

Example:
  bladectl execute --protocol blade.echo --method ping --params '{"n":1}'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExecute(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Protocol, "protocol", "", "protocol name")
	cmd.Flags().StringVar(&opts.Method, "method", "", "method name")
	cmd.Flags().StringVar(&opts.Params, "params", "{}", "method params as JSON")
	cmd.Flags().StringVar(&opts.Responder, "responder", "", "responder node id")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "request timeout (default request_timeout)")
	_ = cmd.MarkFlagRequired("protocol")
	_ = cmd.MarkFlagRequired("method")

	return cmd
}

func runExecute(cmd *cobra.Command, opts *executeOptions) error {
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

	var reqOpts []session.RequestOption
	if opts.Timeout > 0 {
		reqOpts = append(reqOpts, session.WithTTL(opts.Timeout))
	}
	res, err := s.Execute(cmd.Context(), session.ExecuteRequest{
		ResponderNodeID: opts.Responder,
		Protocol:        opts.Protocol,
		Method:          opts.Method,
		Params:          params,
	}, reqOpts...)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func jsonFlag(name, raw string) (json.RawMessage, error) {
	if raw == "" {
		return nil, nil
	}
	if !json.Valid([]byte(raw)) {
		return nil, fmt.Errorf("invalid --%s JSON", name)
	}
	return json.RawMessage(raw), nil
}

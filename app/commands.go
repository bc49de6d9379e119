package app

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/apicove/grpcbridge/config"
	"github.com/apicove/grpcbridge/cui"
	"github.com/apicove/grpcbridge/meta"
)

type command struct {
	*cobra.Command

	ui cui.UI
}

func newRootCommand(ui cui.UI) *command {
	var showVersion bool
	cmd := &cobra.Command{
		Use:           meta.AppName,
		Short:         "discover and call gRPC services through server reflection",
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				ui.Output(meta.AppName + " " + meta.Version.String())
				return nil
			}
			return cmd.Help()
		},
	}

	f := cmd.PersistentFlags()
	f.String("host", "127.0.0.1", "gRPC server host")
	f.String("port", "50051", "gRPC server port")
	f.BoolP("tls", "t", false, "use a secure TLS connection")
	f.String("cacert", "", "the CA certificate file for verifying the server")
	f.String("cert", "", "the certificate file for mutual authentication")
	f.String("certkey", "", "the private key file for mutual authentication")
	f.String("servername", "", "the server name used to verify the hostname")
	f.StringSlice("header", nil, `request metadata in "key=value" format`)
	f.BoolP("verbose", "v", false, "verbose output")
	cmd.Flags().BoolVar(&showVersion, "version", false, "print the version")

	c := &command{Command: cmd, ui: ui}
	cmd.AddCommand(
		newListCommand(c),
		newDescribeCommand(c),
		newTemplateCommand(c),
		newProtoCommand(c),
		newCallCommand(c),
	)
	return c
}

// runFunc resolves the conclusive config and hands a runner to f.
func (c *command) runFunc(f func(cmd *cobra.Command, r *runner, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Get(cmd.Flags())
		if err != nil {
			return err
		}
		if err := applyHeaderFlag(cfg, cmd); err != nil {
			return err
		}
		r := newRunner(c.ui, cfg)
		defer r.close()
		return f(cmd, r, args)
	}
}

// applyHeaderFlag appends --header entries to the configured request
// headers.
func applyHeaderFlag(cfg *config.Config, cmd *cobra.Command) error {
	headers, err := cmd.Flags().GetStringSlice("header")
	if err != nil {
		return nil
	}
	for _, h := range headers {
		kv := strings.SplitN(h, "=", 2)
		if len(kv) != 2 {
			return errors.Errorf(`the header %q is not in "key=value" format`, h)
		}
		cfg.Request.Header = append(cfg.Request.Header, config.Header{Key: kv[0], Val: kv[1]})
	}
	return nil
}

func newListCommand(c *command) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "list services the server exposes",
		RunE: c.runFunc(func(cmd *cobra.Command, r *runner, _ []string) error {
			return r.listServices(cmd.Context(), out)
		}),
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.Flags().StringVarP(&out, "output", "o", "name", `output format. one of "name", "json" or "table".`)
	return cmd
}

func newDescribeCommand(c *command) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "desc [symbol]",
		Aliases: []string{"describe"},
		Short:   "describe a service or a message type",
		Long: `desc shows the methods of a service or the fields of a message type.
The symbol must be fully qualified. Without a symbol, desc describes every
discovered service.`,
		RunE: c.runFunc(func(cmd *cobra.Command, r *runner, args []string) error {
			var symbol string
			if len(args) > 0 {
				symbol = args[0]
			}
			return r.describe(cmd.Context(), symbol)
		}),
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	return cmd
}

func newTemplateCommand(c *command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "template <symbol>",
		Short: "print a skeleton request payload",
		Long: `template prints a JSON skeleton for the given message type, or for the
request type of the given method.`,
		RunE: c.runFunc(func(cmd *cobra.Command, r *runner, args []string) error {
			if len(args) == 0 {
				return errors.New("a message or method name is required")
			}
			return r.template(cmd.Context(), args[0])
		}),
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	return cmd
}

func newProtoCommand(c *command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "proto <service>",
		Short: "print a proto definition reconstructed from the discovered schema",
		RunE: c.runFunc(func(cmd *cobra.Command, r *runner, args []string) error {
			if len(args) == 0 {
				return errors.New("a service name is required")
			}
			return r.proto(cmd.Context(), args[0])
		}),
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	return cmd
}

func newCallCommand(c *command) *cobra.Command {
	var (
		file   string
		enrich bool
	)
	cmd := &cobra.Command{
		Use:   "call <method>",
		Short: "call a method",
		Long: `call invokes the given fully qualified method. The request payload is read
from stdin or from a file. Streaming methods read one JSON payload per line
and print each response event as it arrives.`,
		RunE: c.runFunc(func(cmd *cobra.Command, r *runner, args []string) error {
			if len(args) == 0 {
				return errors.New("a method name is required")
			}
			return r.callMethod(cmd.Context(), args[0], file, enrich)
		}),
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	f := cmd.Flags()
	f.StringVarP(&file, "file", "f", "", "a file the request payload is read from")
	f.BoolVar(&enrich, "enrich", false, "include headers, trailers and the full status in the output")
	return cmd
}

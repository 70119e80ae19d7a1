package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cordum/cordum-packs/core/controlplane/gateway"
)

const defaultGateway = "http://localhost:8081"

type rootOptions struct {
	Gateway string
	APIKey  string
	Format  string
}

func (o *rootOptions) client() *gateway.Client {
	return gateway.NewClient(o.Gateway, o.APIKey)
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "packctl",
		Short:         "Manage content packs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.Format != "text" && opts.Format != "json" {
				return fmt.Errorf("invalid format %q: must be one of [text json]", opts.Format)
			}
			return nil
		},
	}
	gw := os.Getenv("PACKS_GATEWAY")
	if gw == "" {
		gw = defaultGateway
	}
	cmd.PersistentFlags().StringVar(&opts.Gateway, "gateway", gw, "packs API base url")
	cmd.PersistentFlags().StringVar(&opts.APIKey, "api-key", os.Getenv("PACKS_API_KEY"), "API key")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(
		newListCommand(opts),
		newGetCommand(opts),
		newInstallCommand(opts),
		newUninstallCommand(opts),
		newRegisterCommand(opts),
		newDeregisterCommand(opts),
		newValidateConfigCommand(opts),
		newConfigSchemasCommand(opts),
		newRefCommand(opts),
	)
	return cmd
}

// emit writes v as indented JSON, or text via the fallback in text mode.
func emit(w io.Writer, opts *rootOptions, v any, text func(io.Writer)) error {
	if opts.Format == "json" || text == nil {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}

func joinOrDash(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ",")
}

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cordum/cordum-packs/core/packs"
)

func newListCommand(opts *rootOptions) *cobra.Command {
	var name, ref string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List installed packs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := opts.client().ListPacks(cmd.Context(), name, ref)
			if err != nil {
				return err
			}
			return emit(cmd.OutOrStdout(), opts, items, func(w io.Writer) {
				for _, p := range items {
					fmt.Fprintf(w, "%s\t%s\t%s\n", p.Ref, p.Version, p.ID)
				}
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "filter by pack name")
	cmd.Flags().StringVar(&ref, "ref", "", "filter by pack ref")
	return cmd
}

func newGetCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <ref-or-id>",
		Short: "Show a pack by id or ref",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := opts.client().GetPack(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return emit(cmd.OutOrStdout(), opts, p, nil)
		},
	}
}

func newInstallCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "install <pack>...",
		Short: "Schedule installation of packs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := opts.client().Install(cmd.Context(), args)
			if err != nil {
				return err
			}
			return emitHandle(cmd, opts, h)
		},
	}
}

func newUninstallCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall <pack>...",
		Short: "Schedule removal of packs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := opts.client().Uninstall(cmd.Context(), args)
			if err != nil {
				return err
			}
			return emitHandle(cmd, opts, h)
		},
	}
}

func emitHandle(cmd *cobra.Command, opts *rootOptions, h packs.ExecutionHandle) error {
	return emit(cmd.OutOrStdout(), opts, h, func(w io.Writer) {
		fmt.Fprintln(w, h.ExecutionID)
	})
}

func newRegisterCommand(opts *rootOptions) *cobra.Command {
	var types []string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register content from every pack on disk",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := packs.ParseKinds(types); err != nil {
				return err
			}
			results, err := opts.client().Register(cmd.Context(), types)
			if err != nil {
				return err
			}
			return emit(cmd.OutOrStdout(), opts, results, func(w io.Writer) {
				for _, kind := range packs.SortedKinds(results) {
					res := results[kind]
					fmt.Fprintf(w, "%s\tregistered=%d\terrors=%d\n", kind, len(res.Registered), len(res.Errors))
				}
			})
		},
	}
	cmd.Flags().StringSliceVar(&types, "types", nil, "content types to register (default all)")
	return cmd
}

func newDeregisterCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "deregister <pack>...",
		Short: "Remove packs and all content they own",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := opts.client().Deregister(cmd.Context(), args)
			if err != nil {
				return err
			}
			return emit(cmd.OutOrStdout(), opts, report, func(w io.Writer) {
				for _, pr := range report.Packs {
					fmt.Fprintf(w, "%s\tpack_deleted=%t\tconfig_schema_deleted=%t\n", pr.Pack, pr.PackDeleted, pr.ConfigSchemaDeleted)
					for _, kind := range packs.CascadeOrder {
						failed := pr.Failed(kind)
						if len(pr.Deleted(kind)) == 0 && len(failed) == 0 {
							continue
						}
						refs := make([]string, 0, len(failed))
						for _, f := range failed {
							refs = append(refs, f.Ref)
						}
						fmt.Fprintf(w, "  %s\tdeleted=%d\tfailed=%s\n", kind, len(pr.Deleted(kind)), joinOrDash(refs))
					}
				}
			})
		},
	}
}

func newValidateConfigCommand(opts *rootOptions) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "validate-config <ref-or-id>",
		Short: "Validate a YAML or JSON config file against the pack config schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			values := map[string]any{}
			if file != "" {
				// #nosec G304 -- CLI explicitly reads local files provided by the operator.
				data, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				if err := yaml.Unmarshal(data, &values); err != nil {
					return fmt.Errorf("parse %s: %w", file, err)
				}
			}
			if err := opts.client().ValidateConfig(cmd.Context(), args[0], values); err != nil {
				return err
			}
			return emit(cmd.OutOrStdout(), opts, map[string]bool{"valid": true}, func(w io.Writer) {
				fmt.Fprintln(w, "valid")
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "config values file (YAML or JSON)")
	return cmd
}

func newConfigSchemasCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "config-schemas",
		Short: "List packs that have a config schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			names, err := opts.client().ConfigSchemas(cmd.Context())
			if err != nil {
				return err
			}
			return emit(cmd.OutOrStdout(), opts, names, func(w io.Writer) {
				for _, name := range names {
					fmt.Fprintln(w, name)
				}
			})
		},
	}
}

func newRefCommand(opts *rootOptions) *cobra.Command {
	var pattern string
	cmd := &cobra.Command{
		Use:   "ref <pack-dir>",
		Short: "Print the ref a local pack directory would register under",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := packs.NewDeriver(pattern)
			if err != nil {
				return err
			}
			ref, _, err := d.RefFromDirectory(args[0])
			if err != nil {
				return err
			}
			return emit(cmd.OutOrStdout(), opts, map[string]string{"ref": ref}, func(w io.Writer) {
				fmt.Fprintln(w, ref)
			})
		},
	}
	cmd.Flags().StringVar(&pattern, "pattern", os.Getenv("PACKS_REF_PATTERN"), "ref validation pattern (default "+packs.DefaultRefPattern+")")
	return cmd
}

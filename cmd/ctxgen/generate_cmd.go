package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kr/pretty"
	"github.com/spf13/cobra"

	"github.com/ninja0404/ctxgen/pkg/codegen"
	"github.com/ninja0404/ctxgen/pkg/config"
	"github.com/ninja0404/ctxgen/pkg/types"
)

func newGenerateCmd(opts *globalOpts) *cobra.Command {
	var (
		outDir    string
		pkgName   string
		pkgPath   string
		docsPath  string
		strict    bool
		timestamp bool
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate the validation package of a schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := newGenerator(cmd, opts, func(cfg *config.GeneratorConfig) {
				cfg.OutDir = outDir
				if pkgName != "" {
					cfg.Package = pkgName
				}
				cfg.PackagePath = pkgPath
				cfg.StrictCycles = strict
				cfg.Timestamp = timestamp
			})
			if err != nil {
				return err
			}
			written, err := g.Write()
			if err != nil {
				return explain(opts, err)
			}
			for _, path := range written {
				fmt.Fprintf(cmd.OutOrStdout(), "generated %s\n", path)
			}
			if docsPath == "" {
				return nil
			}
			plans, err := g.Plans()
			if err != nil {
				return explain(opts, err)
			}
			if err := writeFile(docsPath, g.Markdown(plans)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "generated %s\n", docsPath)
			return nil
		},
	}
	cmd.Flags().StringVarP(&outDir, "out", "o", ".", "output directory")
	cmd.Flags().StringVar(&pkgName, "pkg", "", "package name (default program)")
	cmd.Flags().StringVar(&pkgPath, "pkg-path", "", "import path of the generated package")
	cmd.Flags().StringVar(&docsPath, "docs", "", "also write markdown docs to this file")
	cmd.Flags().BoolVar(&strict, "strict", false, "fail on dependency cycles")
	cmd.Flags().BoolVar(&timestamp, "timestamp", false, "add a generated-at line to headers")
	return cmd
}

func newCheckCmd(opts *globalOpts) *cobra.Command {
	var strict bool
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate a schema and render its package without writing it",
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := newGenerator(cmd, opts, func(cfg *config.GeneratorConfig) {
				cfg.StrictCycles = strict
			})
			if err != nil {
				return err
			}
			files, plans, err := g.Files()
			if err != nil {
				return explain(opts, err)
			}
			for _, p := range plans {
				if len(p.Unordered) > 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "warning: %s: accounts %s are in or depend on a dependency cycle\n", p.Context, strings.Join(p.Unordered, ", "))
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %s, %d contexts, %d files\n", g.Program().Name, len(plans), len(files))
			return nil
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "fail on dependency cycles")
	return cmd
}

func newOrderCmd(opts *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "order [context...]",
		Short: "Print the account validation order of contexts",
		RunE: func(cmd *cobra.Command, args []string) error {
			plans, err := selectPlans(cmd, opts, args)
			if err != nil {
				return err
			}
			for _, p := range plans {
				unordered := map[string]bool{}
				for _, n := range p.Unordered {
					unordered[n] = true
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s:\n", p.Context)
				for i, n := range p.Order {
					mark := ""
					if unordered[n] {
						mark = " (unordered)"
					}
					fmt.Fprintf(cmd.OutOrStdout(), "  %d. %s%s\n", i+1, n, mark)
				}
			}
			return nil
		},
	}
}

func newPlanCmd(opts *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "plan [context]",
		Short: "Dump the lowered plan of a context",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plans, err := selectPlans(cmd, opts, args)
			if err != nil {
				return err
			}
			pretty.Fprintf(cmd.OutOrStdout(), "%# v\n", plans[0])
			return nil
		},
	}
}

func newDocsCmd(opts *globalOpts) *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "docs",
		Short: "Render markdown documentation of every context",
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := newGenerator(cmd, opts, nil)
			if err != nil {
				return err
			}
			plans, err := g.Plans()
			if err != nil {
				return explain(opts, err)
			}
			md := g.Markdown(plans)
			if outPath == "" {
				_, err := cmd.OutOrStdout().Write(md)
				return err
			}
			return writeFile(outPath, md)
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "output file (default stdout)")
	return cmd
}

// selectPlans lowers the named contexts, or all of them when names is empty.
func selectPlans(cmd *cobra.Command, opts *globalOpts, names []string) ([]*codegen.Plan, error) {
	g, err := newGenerator(cmd, opts, nil)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		plans, err := g.Plans()
		if err != nil {
			return nil, explain(opts, err)
		}
		return plans, nil
	}
	plans := make([]*codegen.Plan, 0, len(names))
	for _, n := range names {
		p, err := g.Plan(n)
		if err != nil {
			return nil, explain(opts, err)
		}
		plans = append(plans, p)
	}
	return plans, nil
}

// explain prefixes generation errors with the schema path so editors can
// jump to the reported line.
func explain(opts *globalOpts, err error) error {
	var genErr *types.GenerationError
	if !errors.As(err, &genErr) {
		return err
	}
	if genErr.Pos.Line > 0 {
		return fmt.Errorf("%s:%w", opts.schemaPath, err)
	}
	return fmt.Errorf("%s: %w", opts.schemaPath, err)
}

func writeFile(path string, content []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

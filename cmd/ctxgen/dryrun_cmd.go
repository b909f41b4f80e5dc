package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/ninja0404/ctxgen/pkg/codegen"
	"github.com/ninja0404/ctxgen/pkg/interp"
	"github.com/ninja0404/ctxgen/pkg/rpc"
	"github.com/ninja0404/ctxgen/pkg/runtime"
	"github.com/ninja0404/ctxgen/pkg/types"
)

func newDryRunCmd(opts *globalOpts) *cobra.Command {
	var (
		offline bool
		showLog bool
	)
	cmd := &cobra.Command{
		Use:   "dryrun [fixture]",
		Short: "Validate a fixture's accounts against a context without generating code",
		Long: `Runs the lowered plan of a context against the accounts listed in a
fixture file. Accounts without a snapshot (owner, executable, or an empty
key) are fetched from the cluster.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := newGenerator(cmd, opts, nil)
			if err != nil {
				return err
			}
			fx, err := loadFixture(args[0])
			if err != nil {
				return err
			}
			p, err := g.Plan(fx.Context)
			if err != nil {
				return explain(opts, err)
			}
			data, err := encodeArgs(p.Args, fx.Args)
			if err != nil {
				return err
			}

			var fetch fetchFunc
			if !offline {
				fetch = rpc.NewClient(rpcConfigFromOpts(opts, cmd)).LoadAccounts
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Duration(opts.timeoutSec+5)*time.Second)
			defer cancel()
			accounts, err := resolveAccounts(ctx, g.Program(), p, fx.Accounts, fetch)
			if err != nil {
				return err
			}

			log := newLogger(cmd, opts)
			env := runtime.NewEnv(g.Program().Key(), runtime.WithLogger(log))
			m := interp.New(g.Program(), interp.WithLogger(log))
			res, err := m.Run(env, p, &accounts, &data)
			if err != nil {
				env.Fail(err)
				printLogs(cmd.OutOrStdout(), env.Logs())
				return failure(p.Context, env.Logs(), err)
			}
			printResult(cmd.OutOrStdout(), p, res, len(accounts))
			if showLog {
				printLogs(cmd.OutOrStdout(), env.Logs())
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "never fetch accounts; every account needs a snapshot")
	cmd.Flags().BoolVar(&showLog, "logs", false, "print program logs on success too")
	return cmd
}

// failure summarizes a failed run, naming the offending account when the
// program logged one.
func failure(ctxName string, logs []string, err error) error {
	var pe *types.ProgramError
	if !errors.As(err, &pe) {
		return fmt.Errorf("%s failed: %w", ctxName, err)
	}
	if acct := types.AccountFromLogs(logs); acct != "" {
		return fmt.Errorf("%s failed at %s: %s (%d): %w", ctxName, acct, types.ToReadableError(pe.Name), pe.Code, err)
	}
	return fmt.Errorf("%s failed: %s (%d): %w", ctxName, types.ToReadableError(pe.Name), pe.Code, err)
}

func printResult(w io.Writer, p *codegen.Plan, res *interp.Result, remaining int) {
	fmt.Fprintf(w, "context: %s ok\n", p.Context)
	if p.Args != nil {
		fmt.Fprintln(w, "args:")
		for _, f := range p.Args.Fields {
			fmt.Fprintf(w, "  %s = %v\n", f.Name, res.Args[f.Name])
		}
	}
	fmt.Fprintln(w, "accounts:")
	for _, s := range p.Slots {
		a := res.Account(s.Name)
		if a == nil {
			fmt.Fprintf(w, "  %s: skipped\n", s.Name)
			continue
		}
		fmt.Fprintf(w, "  %s: %s owner=%s lamports=%d len=%d\n", s.Name, a.Key(), a.Owner(), a.Lamports(), a.DataLen())
	}
	for _, name := range p.Bumps {
		fmt.Fprintf(w, "bump %s = %d\n", name, res.Bumps[name])
	}
	if remaining > 0 {
		fmt.Fprintf(w, "remaining accounts: %d\n", remaining)
	}
}

func printLogs(w io.Writer, logs []string) {
	if len(logs) == 0 {
		return
	}
	fmt.Fprintln(w, "logs:")
	for _, l := range logs {
		fmt.Fprintf(w, "  %s\n", l)
	}
}

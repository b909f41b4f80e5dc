package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ninja0404/ctxgen/pkg/codegen"
	"github.com/ninja0404/ctxgen/pkg/config"
	"github.com/ninja0404/ctxgen/pkg/schema"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type globalOpts struct {
	schemaPath     string
	network        string
	rpcURL         string
	commitment     string
	retryAttempts  int
	retryBackoffMs int
	rateLimitRPS   float64
	logLevel       string
	timeoutSec     int
}

func newRootCmd() *cobra.Command {
	opts := &globalOpts{}

	root := &cobra.Command{
		Use:           "ctxgen",
		Short:         "Account context validation generator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&opts.schemaPath, "schema", "s", "", "path to schema yaml")
	root.PersistentFlags().StringVar(&opts.network, "network", string(config.NetworkMainnet), "cluster (mainnet|devnet|testnet|localnet)")
	root.PersistentFlags().StringVar(&opts.rpcURL, "rpc-url", "", "RPC endpoint (overrides --network)")
	root.PersistentFlags().StringVar(&opts.commitment, "commitment", "confirmed", "RPC commitment level")
	root.PersistentFlags().IntVar(&opts.retryAttempts, "retry-attempts", 3, "RPC retry attempts")
	root.PersistentFlags().IntVar(&opts.retryBackoffMs, "retry-backoff-ms", 150, "initial backoff in ms")
	root.PersistentFlags().Float64Var(&opts.rateLimitRPS, "rate-limit-rps", 8, "rate limit RPS (0 to disable)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level (debug|info|warn|error)")
	root.PersistentFlags().IntVar(&opts.timeoutSec, "timeout-sec", 20, "RPC timeout seconds")

	root.AddCommand(
		newConfigCmd(opts),
		newGenerateCmd(opts),
		newCheckCmd(opts),
		newOrderCmd(opts),
		newPlanCmd(opts),
		newDocsCmd(opts),
		newDryRunCmd(opts),
	)

	return root
}

func newConfigCmd(opts *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			rpcCfg := rpcConfigFromOpts(opts, cmd)
			genCfg := config.DefaultGeneratorConfig()
			fmt.Fprintf(cmd.OutOrStdout(), "network=%s\nrpc=%s\ncommitment=%s\nretry_attempts=%d\nrate_limit_rps=%g\n",
				rpcCfg.Network, rpcCfg.ResolveRPCURL(), rpcCfg.Commitment, rpcCfg.Retry.MaxAttempts, rpcCfg.RateLimit.RPS)
			fmt.Fprintf(cmd.OutOrStdout(), "package=%s\nruntime=%s\ntypes=%s\n",
				genCfg.Package, genCfg.RuntimePath, genCfg.TypesPath)
			return nil
		},
	}
}

func newLogger(cmd *cobra.Command, opts *globalOpts) zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr(), NoColor: true}).
		Level(parseLogLevel(opts.logLevel)).
		With().Timestamp().Logger()
}

func rpcConfigFromOpts(opts *globalOpts, cmd *cobra.Command) config.RPCConfig {
	cfg := config.DefaultRPCConfig()
	if opts.network != "" {
		cfg.Network = config.Network(opts.network)
		cfg.RPCURL = ""
	}
	if opts.rpcURL != "" {
		cfg.RPCURL = opts.rpcURL
	}
	if opts.commitment != "" {
		cfg.Commitment = opts.commitment
	}
	cfg.RateLimit.RPS = opts.rateLimitRPS
	if opts.retryAttempts > 0 {
		cfg.Retry.MaxAttempts = opts.retryAttempts
	}
	if opts.retryBackoffMs > 0 {
		cfg.Retry.InitialBackoff = time.Duration(opts.retryBackoffMs) * time.Millisecond
	}
	if opts.timeoutSec > 0 {
		cfg.Timeout = time.Duration(opts.timeoutSec) * time.Second
	}
	cfg.Logger = newLogger(cmd, opts)
	return cfg
}

func generatorConfigFromOpts(opts *globalOpts, cmd *cobra.Command) config.GeneratorConfig {
	cfg := config.DefaultGeneratorConfig()
	cfg.Logger = newLogger(cmd, opts)
	return cfg
}

func loadProgram(opts *globalOpts) (*schema.Program, error) {
	if opts.schemaPath == "" {
		return nil, fmt.Errorf("schema is required (use --schema)")
	}
	return schema.Load(opts.schemaPath)
}

// newGenerator loads the schema and applies mutate to the default config.
func newGenerator(cmd *cobra.Command, opts *globalOpts, mutate func(*config.GeneratorConfig)) (*codegen.Generator, error) {
	prog, err := loadProgram(opts)
	if err != nil {
		return nil, explain(opts, err)
	}
	cfg := generatorConfigFromOpts(opts, cmd)
	if mutate != nil {
		mutate(&cfg)
	}
	return codegen.New(prog, cfg), nil
}

func parseLogLevel(lvl string) zerolog.Level {
	switch strings.ToLower(lvl) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.WarnLevel
	}
}

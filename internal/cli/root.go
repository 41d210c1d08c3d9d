package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

const version = "0.1.0"

type rootOptions struct {
	cwd         string
	interactive bool
	configPath  string
	logLevel    string
	metricsAddr string
}

// NewRootCmd builds the tandem command.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "tandem [prompt]",
		Short: "Tandem - a coding agent for your terminal and Telegram",
		Long: `Tandem is an AI coding agent that works in a directory with shell, file,
web and voice tools. Run it with a prompt for a single turn, without one for
the interactive terminal, or leave it serving a Telegram chat.`,
		Version:       version,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := ""
			if len(args) == 1 {
				prompt = args[0]
			}
			return run(cmd.Context(), opts, prompt, cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.cwd, "cwd", "c", "", "working directory (default is the current directory)")
	flags.BoolVar(&opts.interactive, "cli", false, "open the interactive terminal alongside background channels")
	flags.StringVar(&opts.configPath, "config", "", "config file (default is $HOME/.tandem/config.json)")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")

	cmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)
	return cmd
}

// Execute runs the root command until it finishes or the process is
// signalled.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCmd().ExecuteContext(ctx)
}

// GetVersion returns the current version
func GetVersion() string {
	return version
}

// Package cli implements the anima command line client.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/anima/anima-backend/internal/chat"
	"github.com/anima/anima-backend/internal/clock"
	"github.com/anima/anima-backend/internal/config"
	"github.com/anima/anima-backend/internal/dialogue"
	"github.com/anima/anima-backend/internal/kv"
	"github.com/anima/anima-backend/internal/logging"
	"github.com/anima/anima-backend/internal/usage"
)

type rootOptions struct {
	configPath string
	verbose    bool
	// clock is the time source; nil means the wall clock.
	clock clock.Clock
}

// Execute runs the root command and exits non-zero on failure.
func Execute(version string) {
	if err := NewRootCmd(version).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: "+err.Error()))
		os.Exit(1)
	}
}

// NewRootCmd builds the anima command tree.
func NewRootCmd(version string) *cobra.Command {
	return newRootCmd(version, &rootOptions{})
}

func newRootCmd(version string, opts *rootOptions) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "anima",
		Short: "Talk to Anima from the terminal",
		Long: `anima is a terminal client for the Anima companion chat.

Conversations stream through the Anima relay. Chat time is limited per day
and the number of free conversations is capped until unlocked.

Quick Start:
  anima profile set --name Ana --mood calm   # tell Anima about you
  anima chat                                 # start talking
  anima usage                                # time left today`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file path (default ./config.json or ~/.anima/config.json)")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable verbose logging")

	rootCmd.AddCommand(newChatCmd(opts))
	rootCmd.AddCommand(newThreadsCmd(opts))
	rootCmd.AddCommand(newUsageCmd(opts))
	rootCmd.AddCommand(newProfileCmd(opts))
	rootCmd.AddCommand(newUnlockCmd(opts))

	return rootCmd
}

// env is the client wired from config for one command run.
type env struct {
	cfg     *config.Config
	log     *logrus.Logger
	closer  io.Closer
	ledger  *usage.Ledger
	gate    *dialogue.Gate
	threads *chat.Threads
	service *chat.Service
}

func (o *rootOptions) open(ctx context.Context, stderr io.Writer) (*env, error) {
	var cfg *config.Config
	var err error
	if o.configPath != "" {
		cfg, err = config.LoadFile(o.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if o.verbose {
		cfg.Log.Level = "debug"
	}
	logger := logging.New(cfg.Log)
	logger.SetOutput(stderr)

	store, closer, err := kv.Open(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	clk := o.clock
	if clk == nil {
		clk = clock.Real()
	}

	ledger := usage.NewLedger(store, clk,
		usage.WithCap(cfg.Client.DailyCap),
		usage.WithTickInterval(cfg.Client.TickInterval),
		usage.WithLogger(logging.Component(logger, "usage")),
	)
	gate := dialogue.NewGate(store,
		dialogue.WithThreshold(cfg.Client.FreeDialogues),
		dialogue.WithLogger(logging.Component(logger, "dialogue")),
	)
	threads := chat.NewThreads(store, clk, logging.Component(logger, "threads"))
	service := chat.NewService(
		threads,
		ledger,
		gate,
		chat.NewRelayClient(cfg.Client.RelayURL, nil),
		clk,
		cfg.Client.Lang,
		logging.Component(logger, "chat"),
	)

	logger.WithFields(logrus.Fields{
		"store": cfg.Store.Driver,
		"relay": cfg.Client.RelayURL,
	}).Debug("client ready")

	return &env{
		cfg:     cfg,
		log:     logger,
		closer:  closer,
		ledger:  ledger,
		gate:    gate,
		threads: threads,
		service: service,
	}, nil
}

func (e *env) Close() error {
	return e.closer.Close()
}

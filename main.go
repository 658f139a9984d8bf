package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"abot/bot"
	_ "abot/bots/timerbot"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const stopOnFailure = false

var version = "dev"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "abot",
		Short:         "Telegram bot farm",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run all registered bots until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgFile, _ := cmd.Flags().GetString("config")
			if cfgFile == "" {
				cfgFile = os.Getenv("CONFIG_FILE")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfgFile)
		},
	}

	cmd.Flags().String("config", "", "Config file path (defaults to $CONFIG_FILE).")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "abot %s\n", version)
			return err
		},
	}
}

// run initializes every registered bot and blocks until ctx is done and all
// bots have stopped.
func run(ctx context.Context, cfgFile string) error {
	v, err := bot.NewViper(cfgFile)
	if err != nil {
		return err
	}

	base, err := bot.NewLogger(v)
	if err != nil {
		return err
	}
	defer base.Sync()

	logger := bot.Named(base, "Global")

	var wg sync.WaitGroup
	for _, rec := range bot.GetThemAll() {
		s := bot.Named(base, rec.Name)

		if err := bot.ValidateConfig(v, rec); err != nil {
			s.Error(err)
			if stopOnFailure {
				return err
			}
			continue
		}

		cfg, err := bot.ReadConfig(v, rec.Name)
		if err != nil {
			s.Errorw("couldn't read configuration", "err", err)
			if stopOnFailure {
				return err
			}
			continue
		}

		bctx, err := rec.Bot.Init(cfg, s)
		if err != nil {
			if stopOnFailure {
				return err
			}
			continue
		}

		wg.Add(1)
		go func(b bot.Bot) {
			defer wg.Done()
			b.Run(ctx, bctx)
		}(rec.Bot)
	}

	logger.Info("bots are running")
	<-ctx.Done()
	logger.Info("shutting down")
	wg.Wait()

	return nil
}

// Botfarm entry point
func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		l, _ := zap.NewDevelopment()
		l.Sugar().Fatalw("abot failed", "err", err)
	}
}

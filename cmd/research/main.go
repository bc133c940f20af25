package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"stock-lstm-research/config"
	"stock-lstm-research/internal/task"
	"stock-lstm-research/pkg"
)

// env is what every subcommand starts from.
type env struct {
	cfg     *config.AppConfig
	logger  *slog.Logger
	presets map[string]*task.Preset
}

var rootCmd = &cobra.Command{
	Use:           "research",
	Short:         "Train and evaluate LSTM forecasters on 5-minute market data",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().String("presets", "", "YAML file overriding or adding task presets")
	rootCmd.PersistentFlags().String("log-level", "", "debug, info, warn or error (defaults to LOG_LEVEL)")

	rootCmd.AddCommand(tasksCmd, trainCmd, evaluateCmd, autoencodeCmd, cacheCmd, liveCmd, reportsCmd)
}

func loadEnv(cmd *cobra.Command) (*env, error) {
	cfg := config.LoadConfig()
	level, _ := cmd.Flags().GetString("log-level")
	if level == "" {
		level = cfg.LogLevel
	}
	logger := pkg.SetupLogger(level)

	presets := task.Builtin()
	if path, _ := cmd.Flags().GetString("presets"); path != "" {
		if err := task.LoadOverrides(path, presets); err != nil {
			return nil, err
		}
		logger.Info("Presets loaded", "path", path)
	}
	return &env{cfg: cfg, logger: logger, presets: presets}, nil
}

func (e *env) preset(name string) (*task.Preset, error) {
	p, ok := e.presets[name]
	if !ok {
		return nil, fmt.Errorf("unknown task %q (have %v)", name, task.Names(e.presets))
	}
	return p, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

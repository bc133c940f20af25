package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"stock-lstm-research/internal/task"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List the task presets",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := loadEnv(cmd)
		if err != nil {
			return err
		}
		writePresets(cmd.OutOrStdout(), e.presets)
		return nil
	},
}

func writePresets(w io.Writer, presets map[string]*task.Preset) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Task", "Kind", "Code", "Target", "Timesteps", "Step", "Batch", "Epochs"})
	for _, name := range task.Names(presets) {
		p := presets[name]
		table.Append([]string{
			name,
			p.Kind,
			p.Code,
			p.Target,
			strconv.Itoa(p.Timesteps),
			strconv.Itoa(p.PredictionStep),
			strconv.Itoa(p.BatchSize),
			strconv.Itoa(p.Epochs),
		})
	}
	table.Render()
}

var trainCmd = &cobra.Command{
	Use:   "train [task]",
	Short: "Train a forecasting task with live charts (default close_step24)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  presetRunner("close_step24", task.KindForecast),
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate [task]",
	Short: "Walk a trained model forward over the target series (default evaluate_step8)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  presetRunner("evaluate_step8", task.KindWalkForward),
}

var autoencodeCmd = &cobra.Command{
	Use:   "autoencode [task]",
	Short: "Train the window autoencoder and chart its latent space (default tr_ae)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  presetRunner("tr_ae", task.KindAutoencoder),
}

func init() {
	addDataFlags(trainCmd)
	addDataFlags(evaluateCmd)
	addDataFlags(autoencodeCmd)
}

func presetName(args []string, fallback string) string {
	if len(args) > 0 {
		return args[0]
	}
	return fallback
}

// presetRunner runs the named preset, which must be of the given kind.
func presetRunner(fallback, kind string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, err := loadEnv(cmd)
		if err != nil {
			return err
		}
		opts, err := readDataFlags(cmd)
		if err != nil {
			return err
		}
		base, err := e.preset(presetName(args, fallback))
		if err != nil {
			return err
		}
		if base.Kind != kind {
			return fmt.Errorf("task %s is a %s task, use the matching command", base.Name, base.Kind)
		}
		p := opts.apply(base)

		s, err := e.openSession(ctx, opts.needsDatabase())
		if err != nil {
			return err
		}
		defer s.Close()

		rt, err := s.runtime(ctx, p, opts)
		if err != nil {
			return err
		}
		e.logger.Info("==== Running task ====", "task", p.Name, "kind", p.Kind, "code", p.Code, "source", opts.Source, "cache", opts.Cache)
		if err := rt.Run(ctx, p); err != nil {
			return fmt.Errorf("task %s: %w", p.Name, err)
		}
		e.logger.Info("Task finished", "task", p.Name)
		return nil
	}
}

package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"stock-lstm-research/internal/database"
)

var cacheCmd = &cobra.Command{
	Use:   "cache [task]",
	Short: "Build the windowed dataset cache for a task",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, err := loadEnv(cmd)
		if err != nil {
			return err
		}
		opts, err := readDataFlags(cmd)
		if err != nil {
			return err
		}
		if opts.Cache == CacheNone {
			return fmt.Errorf("nothing to warm with --cache=%s", CacheNone)
		}
		neighbours, _ := cmd.Flags().GetInt("neighbours")
		if neighbours > 0 && opts.Cache != CachePgvector {
			return fmt.Errorf("--neighbours needs --cache=%s", CachePgvector)
		}

		base, err := e.preset(presetName(args, "close_step24"))
		if err != nil {
			return err
		}
		p := opts.apply(base)

		s, err := e.openSession(ctx, opts.needsDatabase())
		if err != nil {
			return err
		}
		defer s.Close()

		opts.NoLedger = true
		rt, err := s.runtime(ctx, p, opts)
		if err != nil {
			return err
		}
		if err := e.cfg.Paths.EnsureDirs(); err != nil {
			return err
		}

		start := time.Now()
		w, err := rt.Dataset(ctx, p)
		if err != nil {
			return err
		}
		e.logger.Info("Cache ready", "key", p.CacheKey().String(), "samples", w.Len(), "elapsed", time.Since(start).String())

		if neighbours == 0 || w.Len() == 0 {
			return nil
		}
		last := w.Len() - 1
		found, err := database.NewWindowStore(s.db).Nearest(ctx, p.CacheKey(), w.X[last], neighbours)
		if err != nil {
			return err
		}
		writeNeighbours(cmd.OutOrStdout(), w.Y[last].Time, found)
		return nil
	},
}

func init() {
	addDataFlags(cacheCmd)
	cacheCmd.Flags().Int("neighbours", 0, "print the k stored windows closest to the latest one")
}

func writeNeighbours(w io.Writer, query time.Time, found []database.Neighbor) {
	fmt.Fprintf(w, "Closest windows to the sample targeting %s\n", query.Format(time.DateTime))
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Index", "Target time", "Target", "Distance"})
	for _, n := range found {
		table.Append([]string{
			strconv.Itoa(n.Index),
			n.TargetTime.Format(time.DateTime),
			strconv.FormatFloat(n.Target, 'f', 4, 64),
			strconv.FormatFloat(n.Distance, 'f', 6, 64),
		})
	}
	table.Render()
}

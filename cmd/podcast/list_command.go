package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/swm-sink/ai-pod-nobody-knows-sub000/internal/pipeline"
	"github.com/swm-sink/ai-pod-nobody-knows-sub000/pkg/flowgraph/checkpoint"
)

func newListCommand(ctx *commandContext) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List resumable episodes",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := ctx.ensureSettings()
			if err != nil {
				return err
			}
			return ctx.withEngine(cmd, s, func(engine *pipeline.Engine) error {
				var items []checkpoint.Metadata
				if all {
					items, err = engine.List()
				} else {
					items, err = engine.ListRecoverable()
				}
				if err != nil {
					return err
				}
				if len(items) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No episodes")
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderEpisodes(items))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Include completed and abandoned episodes")
	return cmd
}

func newCleanupCommand(ctx *commandContext) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete checkpoints older than the retention period",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := ctx.ensureSettings()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("older-than") {
				olderThan = s.CheckpointRetention
			}
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}
			return ctx.withEngine(cmd, s, func(engine *pipeline.Engine) error {
				n, err := engine.Cleanup(olderThan)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d checkpoint(s)\n", n)
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Age threshold (default: configured retention)")
	return cmd
}

func renderEpisodes(items []checkpoint.Metadata) string {
	rows := make([][]string, 0, len(items))
	for _, md := range items {
		rows = append(rows, []string{
			md.EpisodeID,
			string(md.Status),
			md.CurrentStage,
			fmt.Sprintf("%.0f%%", md.Progress*100),
			formatUSD(md.CostSoFar),
			fmt.Sprintf("%d/%d", md.RecoveryAttempts, md.MaxRecoveryAttempts),
			md.SavedAt.Local().Format(time.DateTime),
			md.Topic,
		})
	}
	return renderTable(
		[]string{"Episode", "Status", "Stage", "Progress", "Cost", "Recoveries", "Saved", "Topic"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight},
	)
}

func formatUSD(v float64) string {
	return fmt.Sprintf("$%.2f", v)
}

package main

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/swm-sink/ai-pod-nobody-knows-sub000/internal/episode"
	"github.com/swm-sink/ai-pod-nobody-knows-sub000/internal/pipeline"
	"github.com/swm-sink/ai-pod-nobody-knows-sub000/internal/stages"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var dryRun bool
	var check bool
	var budget float64

	cmd := &cobra.Command{
		Use:   "run <topic>",
		Short: "Produce a new episode on topic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := ctx.ensureSettings()
			if err != nil {
				return err
			}
			if dryRun {
				s.DryRun = true
			}
			if cmd.Flags().Changed("budget") {
				s.BudgetUSD = budget
				if err := s.Validate(); err != nil {
					return err
				}
			}

			return ctx.withEngine(cmd, s, func(engine *pipeline.Engine) error {
				if check {
					return printReadiness(cmd.OutOrStdout(), engine.Check(), s.DryRun)
				}
				out, err := engine.Run(cmd.Context(), args[0], s.Episode())
				printSummary(cmd.OutOrStdout(), engine, out)
				return err
			})
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Run offline with placeholder adapters and no spend")
	cmd.Flags().BoolVar(&check, "check", false, "Report which stages have adapters configured and exit")
	cmd.Flags().Float64Var(&budget, "budget", 0, "Override the episode budget in USD")

	return cmd
}

func newResumeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "resume <episode-id>",
		Short: "Resume an interrupted episode from its last checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := ctx.ensureSettings()
			if err != nil {
				return err
			}
			return ctx.withEngine(cmd, s, func(engine *pipeline.Engine) error {
				out, err := engine.Resume(cmd.Context(), args[0])
				if out.EpisodeID != "" {
					printSummary(cmd.OutOrStdout(), engine, out)
				}
				return err
			})
		},
	}
}

// printReadiness lists each node and whether its adapters are configured.
// Missing adapters are an error unless the run is dry.
func printReadiness(w io.Writer, problems map[episode.Stage]error, dry bool) error {
	nodes := stages.Nodes()
	rows := make([][]string, 0, len(nodes))
	for _, st := range nodes {
		status := "ready"
		if err, ok := problems[st]; ok {
			status = err.Error()
		}
		rows = append(rows, []string{string(st), status})
	}
	fmt.Fprintln(w, renderTable([]string{"Stage", "Status"}, rows, nil))

	if len(problems) == 0 || dry {
		return nil
	}
	missing := make([]string, 0, len(problems))
	for st := range problems {
		missing = append(missing, string(st))
	}
	slices.Sort(missing)
	return fmt.Errorf("stages not ready: %s", strings.Join(missing, ", "))
}

func printSummary(w io.Writer, engine *pipeline.Engine, s episode.State) {
	if s.EpisodeID == "" {
		return
	}
	rows := [][]string{
		{"Episode", s.EpisodeID},
		{"Topic", s.Topic},
		{"Stage", string(s.CurrentStage)},
		{"Cost", formatUSD(engine.Services().Ledger.Total(s.EpisodeID))},
	}
	if q := s.StageOutputs.Quality; q != nil {
		rows = append(rows, []string{"Score", fmt.Sprintf("%.1f / %.1f", q.Gate.Score, q.Gate.Threshold)})
		rows = append(rows, []string{"Passed", fmt.Sprintf("%t", q.Passed)})
	}
	if a := s.StageOutputs.Audio; a != nil {
		rows = append(rows, []string{"Audio", a.FilePath})
	}
	fmt.Fprintln(w, renderTable([]string{"Field", "Value"}, rows, nil))
}

package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/artpar/apppublish/internal/shell/store"
	"github.com/spf13/cobra"
)

func newHistoryCmd(load func() (*Config, error)) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List recent publish runs, or the stages of one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			history, err := openHistory(cfg.History.DSN)
			if err != nil {
				return err
			}
			defer history.Close()

			if len(args) == 1 {
				return printRun(cmd, history, args[0])
			}
			return printRuns(cmd, history, store.ListOptions{Limit: limit})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to list")
	return cmd
}

func printRuns(cmd *cobra.Command, history store.Store, opts store.ListOptions) error {
	runs, err := history.ListRuns(cmd.Context(), opts)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tSTARTED\tTARGET\tTRANSPORT\tPACKAGES\tSTATUS")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			r.ID, r.StartedAt.Local().Format(time.DateTime), r.Target, r.Transport, r.Packages, r.Status)
	}
	return w.Flush()
}

func printRun(cmd *cobra.Command, history store.Store, id string) error {
	run, err := history.GetRun(cmd.Context(), id)
	if err != nil {
		return err
	}
	stages, err := history.ListStages(cmd.Context(), id)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run %s: %s on %s (%s)\n", run.ID, run.Status, run.Target, run.Transport)
	if run.Status.IsTerminal() && run.FinishedAt != nil {
		fmt.Fprintf(out, "duration: %s\n", run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond))
	}
	if run.Error != "" {
		fmt.Fprintf(out, "error: %s\n", run.Error)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PACKAGE\tSTAGE\tSTATUS\tMESSAGE")
	for _, s := range stages {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", orDash(s.Package), s.Stage, s.Status, s.Message)
	}
	return w.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

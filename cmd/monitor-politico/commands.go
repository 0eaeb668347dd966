package main

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/pcastr/monitor-politico/pkg/ingest"
	"github.com/pcastr/monitor-politico/pkg/logging"
	"github.com/pcastr/monitor-politico/pkg/metrics"
	"github.com/pcastr/monitor-politico/pkg/sink"
	"github.com/spf13/cobra"
)

func (a *App) runCmd() *cobra.Command {
	var all, refresh bool

	cmd := &cobra.Command{
		Use:   "run [table]",
		Short: "Fetch a table, or every active table with --all",
		Args: func(cmd *cobra.Command, args []string) error {
			if all && len(args) > 0 {
				return errors.New("--all takes no table name")
			}
			if !all && len(args) != 1 {
				return errors.New("expected one table name, or --all")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if a.config.MetricsAddr != "" {
				mctx, cancel := context.WithCancel(ctx)
				defer cancel()
				go func() {
					if err := metrics.Serve(mctx, a.config.MetricsAddr, logging.NewLogger("metrics")); err != nil {
						a.logger.Error().Err(err).Msg("Metrics server failed")
					}
				}()
			}

			runner, closeRunner, err := a.newRunner(ctx, refresh)
			if err != nil {
				return err
			}
			defer closeRunner()

			if all {
				results, err := runner.RunAll(ctx)
				printResults(cmd, results)
				return err
			}

			res, err := runner.RunTable(ctx, args[0])
			printResults(cmd, []ingest.Result{res})
			return err
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "run every active table")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "drop cached responses before fetching")
	return cmd
}

func printResults(cmd *cobra.Command, results []ingest.Result) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TABLE\tSTATUS\tFETCHED\tWRITTEN\tDROPPED\tDURATION")
	for _, r := range results {
		table := r.Table
		if table == "" {
			table = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\n",
			table, r.Status, r.Fetched, r.Written, r.Dropped, r.Duration.Round(time.Millisecond))
	}
	w.Flush()

	for _, r := range results {
		if r.Err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", r.Table, r.Err)
		}
	}
}

func (a *App) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the configured tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tables, errs := a.loader().LoadAll()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TABLE\tACTIVE\tDEPENDS ON\tDESCRIPTION")
			for _, t := range tables {
				dep := "-"
				if t.DependsOn != nil {
					dep = t.DependsOn.Table
				}
				fmt.Fprintf(w, "%s\t%t\t%s\t%s\n", t.Table, t.Active, dep, t.Description)
			}
			w.Flush()

			for _, err := range errs {
				fmt.Fprintln(cmd.ErrOrStderr(), err)
			}
			if len(tables) == 0 && len(errs) > 0 {
				return errs[0]
			}
			return nil
		},
	}
}

func (a *App) historyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <table>",
		Short: "Show the commit log of a table written by the table sink",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := a.loader().Find(args[0])
			if err != nil {
				return err
			}

			s := sink.NewTableSink(a.config.TableDir, a.logger)
			commits, err := s.History(t)
			if err != nil {
				return err
			}
			if len(commits) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No commits for %s in %s\n", t.Table, s.Dir(t))
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "VERSION\tTIMESTAMP\tOPERATION\tMODE\tADDED\tREMOVED\tRUN")
			for _, c := range commits {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%d\t%s\n",
					c.Version, c.Timestamp.Format(time.RFC3339), c.Operation, c.Mode,
					rows(c.Add), rows(c.Remove), c.RunID)
			}
			return w.Flush()
		},
	}
}

func rows(files []sink.FileAction) int64 {
	var n int64
	for _, f := range files {
		n += f.Rows
	}
	return n
}

package cli

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/shaiso/slurmdag/internal/repo"
	"github.com/shaiso/slurmdag/internal/rescue"
)

func newHistoryCmd(g *globals) *cobra.Command {
	var dbURL string
	var limit int
	var runRef string

	cmd := &cobra.Command{
		Use:   "history [DAG_FILE]",
		Short: "Show past runs recorded in the run journal",
		Long: `Show past runs recorded in the run journal.

Without --run lists the latest runs (of DAG_FILE if given).
With --run ID|TAG shows the node transitions of one run.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFor(cmd, g.jsonOutput)
			if dbURL == "" {
				return errors.New("run journal is not configured: set --db-url or $DB_URL")
			}

			ctx := cmd.Context()
			pool, err := repo.NewPool(ctx, dbURL)
			if err != nil {
				return err
			}
			defer pool.Close()
			journal := repo.NewJournalRepo(pool)

			if runRef != "" {
				return showRunEvents(cmd, out, journal, runRef)
			}

			var dagFile string
			if len(args) == 1 {
				if dagFile, err = filepath.Abs(args[0]); err != nil {
					return err
				}
				dagFile = rescue.RootName(dagFile)
			}
			runs, err := journal.ListRuns(ctx, dagFile, limit)
			if err != nil {
				return err
			}
			if runs == nil {
				runs = []repo.RunRecord{}
			}

			headers := []string{"TAG", "DAG_FILE", "NODES", "STARTED", "OUTCOME", "DONE", "FAILED", "RESCUE"}
			rows := make([][]string, len(runs))
			for i, r := range runs {
				outcome, done, failed, rescueFile := "running", "-", "-", ""
				if r.Summary != nil {
					outcome = r.Summary.Outcome.String()
					done = strconv.Itoa(r.Summary.Counts.Done)
					failed = strconv.Itoa(r.Summary.Counts.Failed)
					rescueFile = r.Summary.RescueFile
				}
				rows[i] = []string{
					r.Info.Tag,
					r.Info.DagFile,
					strconv.Itoa(r.Info.TotalNodes),
					r.Info.StartedAt.Local().Format(time.DateTime),
					outcome,
					done,
					failed,
					rescueFile,
				}
			}
			out.Print(headers, rows, runs)
			return nil
		},
	}

	cmd.Flags().StringVar(&dbURL, "db-url", envOr("DB_URL", ""), "PostgreSQL DSN of the run journal (default: $DB_URL)")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs")
	cmd.Flags().StringVar(&runRef, "run", "", "Show node transitions of the run with this ID or tag")

	return cmd
}

func showRunEvents(cmd *cobra.Command, out *Output, journal *repo.JournalRepo, ref string) error {
	ctx := cmd.Context()

	run, err := journal.GetRun(ctx, ref)
	if errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("run %q not found in the journal", ref)
	}
	if err != nil {
		return err
	}

	events, err := journal.NodeEvents(ctx, run.Info.ID)
	if err != nil {
		return err
	}

	if out.JSONMode() {
		out.JSON(struct {
			repo.RunRecord
			Events any `json:"events"`
		}{*run, events})
		return nil
	}

	out.Success(fmt.Sprintf("Run %s (%s), %s", run.Info.Tag, run.Info.ID, run.Info.DagFile))
	headers := []string{"TIME", "NODE", "FROM", "TO", "JOB_ID", "ATTEMPT"}
	rows := make([][]string, len(events))
	for i, ev := range events {
		rows[i] = []string{
			ev.At.Local().Format(time.DateTime),
			ev.Node,
			ev.From.String(),
			ev.To.String(),
			ev.JobID,
			strconv.Itoa(ev.Attempt),
		}
	}
	out.Table(headers, rows)
	return nil
}

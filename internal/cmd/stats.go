package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/masahif/idarchiver/internal/crawler"
	"github.com/masahif/idarchiver/internal/storage"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show what the database holds",
	Long: `Print the stored frontier, the number of missing IDs below it, the record
count per outcome, and the most recent run.`,
	Args: cobra.NoArgs,
	RunE: runStats,
}

func init() {
	statsCmd.Flags().Bool("json", false, "Print the summary as JSON")
}

type statsView struct {
	Database  string           `json:"database"`
	LastID    int64            `json:"last_id"`
	Persisted int64            `json:"persisted"`
	Missing   int64            `json:"missing"`
	Outcomes  map[string]int64 `json:"outcomes"`
	LastRun   *runView         `json:"last_run,omitempty"`
}

type runView struct {
	ID         string           `json:"id"`
	Status     string           `json:"status"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
	Error      string           `json:"error,omitempty"`
	Stats      crawler.RunStats `json:"stats"`
}

func newStatsView(database string, s *crawler.StoreSummary) statsView {
	v := statsView{
		Database:  database,
		LastID:    s.Frontier.LastID,
		Persisted: s.Frontier.Persisted,
		Missing:   s.Frontier.Missing(),
		Outcomes:  make(map[string]int64, len(crawler.Outcomes)),
	}
	for _, o := range crawler.Outcomes {
		v.Outcomes[string(o)] = s.Outcomes[o]
	}
	if r := s.LastRun; r != nil {
		v.LastRun = &runView{
			ID:        r.ID,
			Status:    string(r.Status),
			StartedAt: r.StartedAt,
			Error:     r.Error,
			Stats:     r.Stats,
		}
		if !r.FinishedAt.IsZero() {
			finished := r.FinishedAt
			v.LastRun.FinishedAt = &finished
		}
	}
	return v
}

func runStats(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.DatabasePath == "" {
		return fmt.Errorf("no database configured")
	}
	if !storage.IsPostgresDSN(cfg.DatabasePath) {
		if _, err := os.Stat(cfg.DatabasePath); err != nil {
			return fmt.Errorf("no database found at %s: %w", cfg.DatabasePath, err)
		}
	}

	store, err := storage.Open(cmd.Context(), cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = store.Close() }()

	summary, err := store.Summary(cmd.Context())
	if err != nil {
		return err
	}
	view := newStatsView(cfg.DatabasePath, summary)

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(view)
	}
	return printStats(cmd.OutOrStdout(), view)
}

func printStats(w io.Writer, v statsView) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Database:\t%s\n", v.Database)
	fmt.Fprintf(tw, "Last ID:\t%d\n", v.LastID)
	fmt.Fprintf(tw, "Records:\t%d\n", v.Persisted)
	fmt.Fprintf(tw, "Missing:\t%d\n", v.Missing)
	fmt.Fprintln(tw, "Outcomes:")
	for _, o := range crawler.Outcomes {
		fmt.Fprintf(tw, "  %s\t%d\n", o, v.Outcomes[string(o)])
	}

	if r := v.LastRun; r != nil {
		fmt.Fprintln(tw, "Last run:")
		fmt.Fprintf(tw, "  ID\t%s\n", r.ID)
		fmt.Fprintf(tw, "  Status\t%s\n", r.Status)
		fmt.Fprintf(tw, "  Started\t%s\n", r.StartedAt.Format(time.RFC3339))
		if r.FinishedAt != nil {
			fmt.Fprintf(tw, "  Duration\t%s\n", r.FinishedAt.Sub(r.StartedAt).Round(time.Second))
		}
		fmt.Fprintf(tw, "  Archived\t%d\n", r.Stats.Archived)
		fmt.Fprintf(tw, "  Backfilled\t%d\n", r.Stats.Backfilled)
		fmt.Fprintf(tw, "  Duplicates\t%d\n", r.Stats.Duplicates)
		fmt.Fprintf(tw, "  Deferred\t%d\n", r.Stats.Deferred)
		fmt.Fprintf(tw, "  Dropped\t%d\n", r.Stats.Dropped+r.Stats.Unclaimed)
		if r.Error != "" {
			fmt.Fprintf(tw, "  Error\t%s\n", r.Error)
		}
	}
	return tw.Flush()
}

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ismart-scholar/workbench/internal/ingest"
	"github.com/ismart-scholar/workbench/internal/models"
)

func newIngestCmd(a *app) *cobra.Command {
	opts := models.DefaultIngestOptions()
	var showResult bool
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Search OpenAlex and Crossref for papers matching the project keywords",
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := a.project()
			if err != nil {
				return err
			}
			runner := ingest.NewRunner(a.client, a.cfg.Ingest.SimulatedDuration, a.cfg.Ingest.TickInterval, a.bus, a.logger)

			errOut := cmd.ErrOrStderr()
			res, err := runner.Run(cmd.Context(), pid, opts, func(s ingest.Snapshot) {
				fmt.Fprintf(errOut, "\r%s %3d%%  %-32s", bar(s.Percent, 30), s.Percent, s.Label)
				if s.Done {
					fmt.Fprintln(errOut)
				}
			})
			if err != nil {
				return fmt.Errorf("ingestion failed: %w", err)
			}
			if showResult && len(res) > 0 {
				fmt.Fprintln(a.out, strings.TrimSpace(string(res)))
			}
			fmt.Fprintln(a.out, "Ingestion complete. Run `ismart papers list` to see the papers.")
			return nil
		},
	}

	f := cmd.Flags()
	f.IntVar(&opts.Limit, "limit", opts.Limit, "maximum papers to ingest (0 = backend default)")
	f.IntVar(&opts.PagesPerKeyword, "pages-per-keyword", opts.PagesPerKeyword, "result pages fetched per keyword")
	f.IntVar(&opts.InterBatchDelayMs, "inter-batch-delay-ms", opts.InterBatchDelayMs, "delay between batches")
	f.BoolVar(&opts.RequireAbstract, "require-abstract", opts.RequireAbstract, "skip papers without an abstract")
	f.BoolVar(&opts.AuthorsInBackground, "authors-in-background", opts.AuthorsInBackground, "resolve authors asynchronously")
	f.BoolVar(&opts.OpenAlexEnabled, "openalex", opts.OpenAlexEnabled, "search OpenAlex")
	f.BoolVar(&opts.CrossrefEnabled, "crossref", opts.CrossrefEnabled, "search Crossref")
	f.IntVar(&opts.MinCitations, "min-citations", opts.MinCitations, "minimum citation count")
	f.IntVar(&opts.YearMin, "year-min", opts.YearMin, "earliest publication year")
	f.IntVar(&opts.YearMax, "year-max", opts.YearMax, "latest publication year")
	f.StringVar(&opts.QuartileIn, "quartile-in", opts.QuartileIn, "comma-separated journal quartiles, e.g. Q1,Q2")
	f.StringVar(&opts.NotifyUser, "notify-user", opts.NotifyUser, "email to notify when done")
	f.BoolVar(&showResult, "show-result", false, "print the backend's raw response")
	return cmd
}

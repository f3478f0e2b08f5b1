package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

func newLiteratureCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "literature",
		Aliases: []string{"lit"},
		Short:   "Browse uploaded papers and their reviews",
	}
	cmd.AddCommand(
		newLiteratureListCmd(a),
		newLiteratureShowCmd(a),
		newLiteratureDeleteCmd(a),
		newLiteratureDownloadCmd(a),
		newLiteratureHistoryCmd(a),
	)
	return cmd
}

func newLiteratureListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List reviewed papers, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := a.project()
			if err != nil {
				return err
			}
			papers, err := a.client.ReviewedPapers(cmd.Context(), pid)
			if err != nil {
				return err
			}
			if len(papers) == 0 {
				fmt.Fprintln(a.out, "No reviewed papers yet. Upload some with `ismart upload`.")
				return nil
			}
			tw := newTable(a.out, "ID", "YEAR", "TYPE", "REVIEWED", "TITLE")
			for _, p := range papers {
				reviewed := ""
				if p.Analysis != nil {
					reviewed = p.Analysis.CreatedAt
				}
				year := ""
				if p.PublicationYear > 0 {
					year = fmt.Sprint(p.PublicationYear)
				}
				row(tw, p.PaperID, year, p.FileType, reviewed, clip(p.Title, 70))
			}
			return tw.Flush()
		},
	}
}

func newLiteratureShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <paper-id>",
		Short: "Show the review of an uploaded paper",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			pid, err := a.project()
			if err != nil {
				return err
			}
			d, err := a.client.LiteratureDetail(cmd.Context(), pid, id)
			if err != nil {
				return err
			}

			r := d.Review
			title := firstNonEmpty(r.Title, fmt.Sprintf("Paper %d", id))
			fmt.Fprintf(a.out, "%s\n", title)
			if d.FilePath != "" {
				fmt.Fprintf(a.out, "File: %s\n", d.FilePath)
			}
			if r.PeerReviewed != nil {
				fmt.Fprintf(a.out, "Peer reviewed: %t\n", *r.PeerReviewed)
			}
			if r.CritiqueScore != nil {
				fmt.Fprintf(a.out, "Critique score: %.2f\n", *r.CritiqueScore)
			}
			if r.Tone != "" {
				fmt.Fprintf(a.out, "Tone: %s\n", r.Tone)
			}
			if r.SentimentScore != nil {
				fmt.Fprintf(a.out, "Sentiment: %.2f\n", *r.SentimentScore)
			}
			if r.SummaryText != "" {
				fmt.Fprintf(a.out, "\n%s\n", r.SummaryText)
			}
			bulletList(a.out, "Strengths", r.Strengths)
			bulletList(a.out, "Weaknesses", r.Weaknesses)
			bulletList(a.out, "Research gaps", r.Gaps)
			bulletList(a.out, "Semantic patterns", r.SemanticPatterns)
			return nil
		},
	}
}

func newLiteratureDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <paper-id>",
		Short: "Delete an uploaded paper and its review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			res, err := a.client.DeleteLiteraturePaper(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, firstNonEmpty(res.Message, fmt.Sprintf("Deleted paper %d", id)))
			return nil
		},
	}
}

func newLiteratureDownloadCmd(a *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "download <paper-id>",
		Short: "Download the uploaded file of a paper",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			dir := "."
			if output != "" {
				if info, err := os.Stat(output); err == nil && info.IsDir() {
					dir = output
					output = ""
				}
			}

			tmp, err := os.CreateTemp(dir, ".download-*")
			if err != nil {
				return err
			}
			defer os.Remove(tmp.Name())

			name, n, err := a.client.DownloadLiteraturePaper(cmd.Context(), id, tmp)
			if cerr := tmp.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return err
			}

			dest := output
			if dest == "" {
				dest = filepath.Join(dir, firstNonEmpty(name, fmt.Sprintf("paper-%d.pdf", id)))
			}
			if _, err := os.Stat(dest); err == nil {
				return fmt.Errorf("%s already exists", dest)
			} else if !errors.Is(err, os.ErrNotExist) {
				return err
			}
			if err := os.Rename(tmp.Name(), dest); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Saved %s (%d bytes)\n", dest, n)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "destination file or directory")
	return cmd
}

func newLiteratureHistoryCmd(a *app) *cobra.Command {
	var limit int
	var all bool
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show uploads completed from this machine (duckdb storage only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, ok := a.duckStore()
			if !ok {
				return fmt.Errorf("upload history needs storage.driver: duckdb (current: %s)", a.cfg.Storage.Driver)
			}
			var pid int64
			if !all {
				var err error
				if pid, err = a.project(); err != nil {
					return err
				}
			}
			entries, err := ds.History(cmd.Context(), pid, limit)
			if err != nil {
				return err
			}
			tw := newTable(a.out, "WHEN", "PROJECT", "PAPER", "FILE", "TITLE")
			for _, e := range entries {
				row(tw, e.RecordedAt.Local().Format("2006-01-02 15:04"), e.ProjectID, e.PaperID, clip(e.FileName, 30), clip(e.Title, 50))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	cmd.Flags().BoolVar(&all, "all", false, "include every project")
	return cmd
}

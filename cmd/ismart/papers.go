package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ismart-scholar/workbench/internal/models"
)

func newPapersCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "papers",
		Short: "Browse ingested and recommended papers",
	}
	cmd.AddCommand(newPapersListCmd(a), newPapersRecommendedCmd(a), newPapersShowCmd(a))
	return cmd
}

func printPapers(a *app, papers []models.Paper) error {
	tw := newTable(a.out, "ID", "YEAR", "CITED", "TITLE", "JOURNAL")
	for _, p := range papers {
		year := ""
		if p.PublicationYear > 0 {
			year = fmt.Sprint(p.PublicationYear)
		}
		row(tw, p.PaperID, year, p.CitationCount, clip(p.Title, 70), clip(p.Journal, 30))
	}
	return tw.Flush()
}

func newPapersListCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the project's papers, most cited first",
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := a.project()
			if err != nil {
				return err
			}
			list, err := a.client.ListPapers(cmd.Context(), pid, limit)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%d paper(s)\n\n", list.PaperCount)
			return printPapers(a, list.Papers)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum papers to fetch")
	return cmd
}

func newPapersRecommendedCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "recommended",
		Short: "List recommended papers for the project",
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := a.project()
			if err != nil {
				return err
			}
			list, err := a.client.RecommendedPapers(cmd.Context(), pid)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%d recommendation(s)\n\n", list.RecommendationCount)
			tw := newTable(a.out, "ID", "YEAR", "TITLE", "WHY")
			for _, p := range list.RecommendedPapers {
				row(tw, p.PaperID, p.PublicationYear, clip(p.Title, 60), clip(string(p.Recommendation), 40))
			}
			return tw.Flush()
		},
	}
}

func newPapersShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <paper-id>",
		Short: "Show one paper",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			p, err := a.client.PaperDetail(cmd.Context(), id)
			if err != nil {
				return err
			}

			fmt.Fprintf(a.out, "%s\n\n", p.Title)
			if len(p.Authors) > 0 {
				names := make([]string, 0, len(p.Authors))
				for _, au := range p.Authors {
					names = append(names, au.Name)
				}
				fmt.Fprintf(a.out, "Authors:   %s\n", strings.Join(names, ", "))
			}
			if p.Journal != "" {
				fmt.Fprintf(a.out, "Journal:   %s\n", p.Journal)
			}
			if p.PublicationYear > 0 {
				fmt.Fprintf(a.out, "Year:      %d\n", p.PublicationYear)
			}
			fmt.Fprintf(a.out, "Citations: %d\n", p.CitationCount)
			if p.ImpactFactor != nil {
				fmt.Fprintf(a.out, "Impact:    %.2f\n", *p.ImpactFactor)
			}
			if p.DOI != "" {
				fmt.Fprintf(a.out, "DOI:       %s\n", p.DOI)
			}
			if link := firstNonEmpty(p.OAURL, p.URL); link != "" {
				fmt.Fprintf(a.out, "Link:      %s\n", link)
			}
			if p.Abstract != "" {
				fmt.Fprintf(a.out, "\n%s\n", p.Abstract)
			}
			return nil
		},
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ismart-scholar/workbench/internal/backend"
)

func newKeywordsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keywords",
		Short: "Analyze and show project keywords",
	}
	cmd.AddCommand(newKeywordsAnalyzeCmd(a), newKeywordsShowCmd(a))
	return cmd
}

func newKeywordsAnalyzeCmd(a *app) *cobra.Command {
	var prompt, doc string
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Extract keywords from a research prompt and optional document",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(prompt) == "" && doc == "" {
				return errors.New("--prompt or --doc is required")
			}
			user, err := a.user()
			if err != nil {
				return err
			}
			pid, err := a.project()
			if err != nil {
				return err
			}

			var docName string
			var content io.Reader
			if doc != "" {
				f, err := os.Open(doc)
				if err != nil {
					return err
				}
				defer f.Close()
				docName, content = filepath.Base(doc), f
			}

			res, err := a.client.AnalyzeKeywords(cmd.Context(), user.UserID, pid, prompt, docName, content)
			if err != nil {
				return err
			}
			msg := res.Message
			if msg == "" {
				msg = "Keyword analysis submitted"
			}
			fmt.Fprintln(a.out, msg)
			return nil
		},
	}
	cmd.Flags().StringVar(&prompt, "prompt", "", "research question or description")
	cmd.Flags().StringVar(&doc, "doc", "", "supporting document to analyze")
	return cmd
}

func newKeywordsShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show stored keywords and summaries",
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := a.project()
			if err != nil {
				return err
			}
			kd, err := a.client.FetchKeywords(cmd.Context(), pid)
			if errors.Is(err, backend.ErrNoProjectData) {
				fmt.Fprintln(a.out, "No keyword data for this project yet. Run `ismart keywords analyze`.")
				return nil
			}
			if err != nil {
				return err
			}
			if kd.Project != nil {
				fmt.Fprintf(a.out, "Project: %s\n", kd.Project.ProjectName)
				if kd.Project.RawQuery != "" {
					fmt.Fprintf(a.out, "Query:   %s\n", kd.Project.RawQuery)
				}
			}
			bulletList(a.out, "Keywords", kd.Keywords)
			if kd.Summaries != "" {
				fmt.Fprintf(a.out, "\nSummary:\n%s\n", kd.Summaries)
			}
			if len(kd.Files) > 0 {
				fmt.Fprintf(a.out, "\n%d supporting file(s)\n", len(kd.Files))
			}
			return nil
		},
	}
}

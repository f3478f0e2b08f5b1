package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ismart-scholar/workbench/internal/source"
	"github.com/ismart-scholar/workbench/internal/upload"
)

// fixedProject routes every upload to one project (the --project flag).
type fixedProject int64

func (p fixedProject) SelectedProjectID() (int64, bool) { return int64(p), p > 0 }

func (a *app) resolver() (*source.Resolver, error) {
	if a.cfg.Objects.Endpoint == "" {
		return source.NewResolver(nil), nil
	}
	objects, err := source.NewMinioObjects(a.cfg.Objects)
	if err != nil {
		return nil, fmt.Errorf("connecting to object store: %w", err)
	}
	return source.NewResolver(objects), nil
}

func (a *app) newUploadManager(projects upload.ProjectSelector) (*upload.Manager, error) {
	opts := upload.Options{
		Concurrency:      a.cfg.Upload.Concurrency,
		RetickDelay:      a.cfg.Upload.RetickDelay,
		ProgressInterval: a.cfg.Upload.ProgressInterval,
		Bus:              a.bus,
		Logger:           a.logger,
	}
	if ds, ok := a.duckStore(); ok {
		opts.Sink = ds
	}
	return upload.NewManager(a.client, projects, opts)
}

func newUploadCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "upload <file|dir|s3://bucket/key>...",
		Short: "Upload papers for review, a few at a time",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			var projects upload.ProjectSelector = a.session
			if a.projectID > 0 {
				projects = fixedProject(a.projectID)
			} else if _, err := a.project(); err != nil {
				return err
			}

			resolver, err := a.resolver()
			if err != nil {
				return err
			}
			files, err := resolver.Resolve(ctx, args)
			if err != nil {
				return err
			}
			if len(files) == 0 {
				return errors.New("no files to upload")
			}

			m, err := a.newUploadManager(projects)
			if err != nil {
				return err
			}
			defer m.Close()

			added := m.AddFiles(files)
			if skipped := len(files) - len(added); skipped > 0 {
				fmt.Fprintf(a.out, "Skipping %d duplicate file(s)\n", skipped)
			}

			interrupted := watchUploads(ctx, a, m)

			failed := 0
			tw := newTable(a.out, "STATUS", "FILE", "PAPER", "MESSAGE")
			for _, t := range m.Tasks() {
				paper := ""
				if t.Result != nil {
					paper = fmt.Sprint(t.Result.PaperID)
				}
				if t.Status == upload.StatusError {
					failed++
				}
				row(tw, t.Status, clip(t.FileName, 40), paper, t.Message)
			}
			fmt.Fprintln(a.out)
			if err := tw.Flush(); err != nil {
				return err
			}

			s := m.Stats()
			fmt.Fprintf(a.out, "\n%d done, %d failed, %d canceled\n", s.Done, s.Error, s.Canceled)
			if failed > 0 {
				return errUploadsFailed
			}
			if interrupted {
				return context.Canceled
			}
			return nil
		},
	}
}

// watchUploads prints status transitions until the queue drains. On ctx
// cancellation it cancels everything and reports true.
func watchUploads(ctx context.Context, a *app, m *upload.Manager) bool {
	type seen struct {
		status upload.Status
		step   int
	}
	last := make(map[string]seen)
	w := a.out
	interrupted := false

	report := func() bool {
		busy := false
		for _, t := range m.Tasks() {
			step := t.Progress / 25
			prev, ok := last[t.ID]
			if !ok || prev.status != t.Status || (t.Status == upload.StatusUploading && step > prev.step) {
				switch t.Status {
				case upload.StatusUploading:
					fmt.Fprintf(w, "%-10s %s %3d%%  %s\n", t.Status, bar(t.Progress, 20), t.Progress, t.FileName)
				case upload.StatusQueued:
				default:
					fmt.Fprintf(w, "%-10s %s  %s\n", t.Status, t.FileName, t.Message)
				}
				last[t.ID] = seen{status: t.Status, step: step}
			}
			if t.Status == upload.StatusQueued || t.Status == upload.StatusUploading {
				busy = true
			}
		}
		return busy
	}

	for {
		changes := m.Changes()
		if !report() {
			return interrupted
		}
		select {
		case <-changes:
		case <-ctx.Done():
			if !interrupted {
				interrupted = true
				fmt.Fprintln(w, "Interrupted, canceling uploads...")
				m.CancelAll()
			}
			<-changes
		}
	}
}

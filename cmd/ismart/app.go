package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ismart-scholar/workbench/internal/backend"
	"github.com/ismart-scholar/workbench/internal/config"
	"github.com/ismart-scholar/workbench/internal/events"
	"github.com/ismart-scholar/workbench/internal/logging"
	"github.com/ismart-scholar/workbench/internal/models"
	"github.com/ismart-scholar/workbench/internal/session"
	"github.com/ismart-scholar/workbench/internal/storage"
)

var errUploadsFailed = errors.New("one or more uploads failed")

// app is the state shared by every command, built once before the command runs.
type app struct {
	configPath string
	logLevel   string
	projectID  int64

	cfg     *config.AppConfig
	logger  *logrus.Logger
	store   storage.Store
	bus     *events.Bus
	session *session.Session
	client  *backend.Client
	out     io.Writer
}

func (a *app) init(cmd *cobra.Command) error {
	cfg, err := config.LoadConfig(cmd.Context(), a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}

	store, err := storage.Open(cfg.Storage)
	if err != nil {
		return fmt.Errorf("opening %s store: %w", cfg.Storage.Driver, err)
	}

	bus := events.NewBus(logger)
	sess := session.New(store, bus, logger)
	if err := sess.Load(); err != nil {
		store.Close()
		return err
	}

	a.cfg = cfg
	a.logger = logger
	a.store = store
	a.bus = bus
	a.session = sess
	a.client = backend.New(cfg.Backend.BaseURL, cfg.Backend.Timeout, logger,
		backend.WithRecommendURL(cfg.RecommendBaseURL()))
	a.out = cmd.OutOrStdout()
	return nil
}

func (a *app) close() {
	if a.store != nil && a.logger != nil {
		if err := a.store.Close(); err != nil {
			a.logger.WithError(err).Warn("failed to close store")
		}
	}
}

// user returns the signed-in user or a hint to log in.
func (a *app) user() (models.User, error) {
	u, err := a.session.RequireUser()
	if err != nil {
		return u, fmt.Errorf("%w: run `ismart login` first", err)
	}
	return u, nil
}

// project returns --project when given, else the selected project.
func (a *app) project() (int64, error) {
	if a.projectID > 0 {
		return a.projectID, nil
	}
	id, err := a.session.RequireProject()
	if err != nil {
		return 0, fmt.Errorf("%w: pass --project or run `ismart projects select <id>`", err)
	}
	return id, nil
}

// duckStore returns the store as a DuckStore when the duckdb driver is in use.
func (a *app) duckStore() (*storage.DuckStore, bool) {
	ds, ok := a.store.(*storage.DuckStore)
	return ds, ok
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "ismart",
		Short:         "Research workbench for the i-SMART literature backend",
		Version:       fmt.Sprintf("%s (built %s)", Version, BuildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", config.DefaultPath, "path to the YAML config file")
	flags.StringVar(&a.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	flags.Int64Var(&a.projectID, "project", 0, "project id to act on instead of the selected one")

	root.AddCommand(
		newLoginCmd(a),
		newSignupCmd(a),
		newLogoutCmd(a),
		newWhoamiCmd(a),
		newProjectsCmd(a),
		newKeywordsCmd(a),
		newIngestCmd(a),
		newPapersCmd(a),
		newLiteratureCmd(a),
		newUploadCmd(a),
		newServeCmd(a),
	)
	return root
}

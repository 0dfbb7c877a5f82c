package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/gosuda/airactl/internal/action"
	"github.com/gosuda/airactl/internal/api"
	"github.com/gosuda/airactl/internal/config"
	"github.com/gosuda/airactl/internal/domain"
	"github.com/gosuda/airactl/internal/history"
	"github.com/gosuda/airactl/internal/notify"
	"github.com/gosuda/airactl/internal/runlog"
	"github.com/gosuda/airactl/internal/store/localdb"
	"github.com/gosuda/airactl/internal/watch"
)

// runEnv bundles everything a watched run needs: the REST client, the local
// database, the rehydrated ledger and deriver, and the notifier registry.
type runEnv struct {
	cfg      *config.Config
	client   *api.Client
	db       *localdb.DB
	registry *runlog.Registry
	actions  *action.Deriver
	ledger   *history.Ledger
	session  *watch.Session
}

func newRunEnv(ctx context.Context) (*runEnv, error) {
	cfg, client, err := clientFromEnv()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := localdb.Open(filepath.Join(cfg.DataDir, "airactl.db"))
	if err != nil {
		return nil, err
	}

	ledger := history.NewLedger(db)
	if err := ledger.Load(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	actions := action.NewDeriver()
	if raw, err := db.Get(ctx, localdb.BlobMessages); err == nil {
		var st action.State
		if err := json.Unmarshal(raw, &st); err == nil {
			actions.Restore(st)
		} else {
			log.Warn().Err(err).Msg("discarding unreadable messages snapshot")
		}
	} else if !errors.Is(err, domain.ErrNotFound) {
		_ = db.Close()
		return nil, err
	}

	notifier := notify.NewRegistry()
	notifier.Register("log", notify.LogSink{})
	if cfg.Slack.WebhookURL != "" {
		notifier.Register("slack", notify.NewSlackSink(cfg.Slack.WebhookURL))
	}

	registry := runlog.NewRegistry()
	session := watch.NewSession(
		cfg.Stream.URL, client, registry, actions, ledger, notifier, db, watch.Options{},
	)

	return &runEnv{
		cfg:      cfg,
		client:   client,
		db:       db,
		registry: registry,
		actions:  actions,
		ledger:   ledger,
		session:  session,
	}, nil
}

func (e *runEnv) Close() {
	e.session.Close()
	if err := e.db.Close(); err != nil {
		log.Warn().Err(err).Msg("close local db")
	}
}

// reportRun prints the final state of a watched run.
func (e *runEnv) reportRun(id string) {
	run, ok := e.registry.Get(id)
	if !ok {
		if active, activeOK := e.registry.Active(); activeOK {
			run = active
		} else {
			return
		}
	}

	fmt.Printf("run %s: %s\n", run.ID, run.Status)
	if run.Summary != "" {
		fmt.Println(run.Summary)
	}
}

func runsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect agent runs",
	}
	cmd.AddCommand(runsListCmd(), runsShowCmd())
	return cmd
}

func runsListCmd() *cobra.Command {
	var project string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs in a project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, client, err := clientFromEnv()
			if err != nil {
				return err
			}
			projectID, err := resolveProject(project, cfg)
			if err != nil {
				return err
			}

			runs, err := client.ListRuns(cmd.Context(), projectID)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "RUN\tSTATUS\tCREATED\tOBJECTIVE")
			for i := range runs {
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					runs[i].RunID, runs[i].Status,
					runs[i].CreatedAt.Format(time.RFC3339), runs[i].Objective)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVarP(&project, "project", "p", "", "Project ID (default AIRACTL_PROJECT)")
	return cmd
}

func runsShowCmd() *cobra.Command {
	var withEvents bool

	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, client, err := clientFromEnv()
			if err != nil {
				return err
			}

			detail, err := client.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			fmt.Printf("run %s: %s\n", detail.RunID, detail.Status)
			if detail.Objective != "" {
				fmt.Printf("objective: %s\n", detail.Objective)
			}
			if detail.Summary != "" {
				fmt.Printf("summary: %s\n", detail.Summary)
			}
			if detail.Error != "" {
				fmt.Printf("error: %s\n", detail.Error)
			}

			if !withEvents {
				return nil
			}
			events, err := client.ListRunEvents(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for i := range events {
				line := events[i].Node
				if events[i].Content != "" {
					line += ": " + events[i].Content
				}
				if events[i].Error != "" {
					line += " (error: " + events[i].Error + ")"
				}
				fmt.Println(line)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&withEvents, "events", false, "Include the event log")
	return cmd
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start and watch agent runs",
	}
	cmd.AddCommand(runStartCmd(), runWatchCmd())
	return cmd
}

func runStartCmd() *cobra.Command {
	var project string

	cmd := &cobra.Command{
		Use:   "start <objective>",
		Short: "Start an agent run and watch it to completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			env, err := newRunEnv(ctx)
			if err != nil {
				return err
			}
			defer env.Close()

			projectID, err := resolveProject(project, env.cfg)
			if err != nil {
				return err
			}

			id, err := env.session.Start(ctx, projectID, args[0])
			if err != nil {
				return err
			}
			env.reportRun(id)
			return nil
		},
	}
	cmd.Flags().StringVarP(&project, "project", "p", "", "Project ID (default AIRACTL_PROJECT)")
	return cmd
}

func runWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <run-id>",
		Short: "Attach to an existing run and watch it to completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			env, err := newRunEnv(ctx)
			if err != nil {
				return err
			}
			defer env.Close()

			if err := env.session.Attach(ctx, args[0]); err != nil {
				return err
			}
			env.reportRun(args[0])
			return nil
		},
	}
}

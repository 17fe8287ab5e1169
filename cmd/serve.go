package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/clawcore/internal/config"
	"github.com/nextlevelbuilder/clawcore/internal/cron"
	"github.com/nextlevelbuilder/clawcore/internal/events"
	"github.com/nextlevelbuilder/clawcore/internal/gateway"
	"github.com/nextlevelbuilder/clawcore/internal/session"
	"github.com/nextlevelbuilder/clawcore/internal/store"
	"github.com/nextlevelbuilder/clawcore/internal/telemetry"
)

func serveCmd() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the WebSocket gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := setupLogging()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if cfg.Telemetry.Enabled {
				shutdown, err := telemetry.Setup(ctx, telemetry.Options{
					Endpoint:    cfg.Telemetry.Endpoint,
					Insecure:    cfg.Telemetry.Insecure,
					ServiceName: cfg.Telemetry.ServiceName,
					Version:     Version,
				})
				if err != nil {
					return err
				}
				defer shutdown(context.Background())
			}

			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			runner := func(ctx context.Context, sess *session.Session, prompt string, queue *events.Queue) error {
				a, err := buildAgent(cfg, sess, runtimeOptions{
					AutoApprove: true,
					Events:      queue,
				}, log)
				if err != nil {
					return err
				}
				_, err = a.Run(ctx, prompt)
				return err
			}

			srv := gateway.NewServer(gateway.Options{
				Addr:   fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
				Token:  cfg.Server.Token,
				Store:  st,
				Runner: runner,
				Log:    log,
			})

			if len(cfg.Cron) > 0 {
				sched, err := newCronScheduler(cfg, st, log)
				if err != nil {
					return err
				}
				go sched.Start(ctx)
			}

			if watch {
				go config.Watch(ctx, resolveConfigPath(), log, func(next *config.Config) {
					// Provider keys and agent defaults apply to new turns;
					// addr and store changes need a restart.
					*cfg = *next
				})
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", false, "reload config file on change")
	return cmd
}

// newCronScheduler maps configured jobs onto agent turns against the
// shared store. Each job runs in its own session unless it names one.
func newCronScheduler(cfg *config.Config, st store.Store, log *slog.Logger) (*cron.Scheduler, error) {
	jobs := make([]cron.Job, 0, len(cfg.Cron))
	for _, j := range cfg.Cron {
		jobs = append(jobs, cron.Job{
			Name:     j.Name,
			Schedule: j.Schedule,
			Prompt:   j.Prompt,
			Session:  j.Session,
		})
	}

	runner := func(ctx context.Context, job cron.Job) error {
		id := job.Session
		if id == "" {
			id = "cron-" + job.Name
		}
		sess, err := st.Load(ctx, id)
		if err == store.ErrNotFound {
			sess = session.NewWithID(id)
			err = nil
		}
		if err != nil {
			return err
		}
		a, err := buildAgent(cfg, sess, runtimeOptions{AutoApprove: true}, log)
		if err != nil {
			return err
		}
		if _, err := a.Run(ctx, job.Prompt); err != nil {
			return err
		}
		return st.Save(ctx, sess)
	}

	return cron.New(jobs, runner, log)
}

package coordinator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/blocksurvey/uptime-coordinator/pkg/alert"
	"github.com/blocksurvey/uptime-coordinator/pkg/db/ledger"
	"github.com/blocksurvey/uptime-coordinator/pkg/db/postgres"
	"github.com/blocksurvey/uptime-coordinator/pkg/logging"
	"github.com/blocksurvey/uptime-coordinator/pkg/roster"
	"github.com/blocksurvey/uptime-coordinator/pkg/submissions"
	"github.com/blocksurvey/uptime-coordinator/pkg/utils"
)

// App owns the survey loop and its supporting services: the ledger database,
// the submission store, the worker backend and the optional roster cron.
type App struct {
	Logger *zap.Logger
	Config Config

	DB          *postgres.Client
	Store       *ledger.Store
	Submissions submissions.Store
	Dispatcher  *Dispatcher
	Alerter     *alert.Alerter
	State       *State
	Roster      *roster.Syncer

	Cron   *cron.Cron
	Server *http.Server
}

// Initialize wires the application. The worker backend is picked from the
// environment: TEST_ENV runs local docker subprocesses, anything else talks
// to Kubernetes.
func Initialize(ctx context.Context) (*App, error) {
	logger, err := logging.New()
	if err != nil {
		panic(err)
	}

	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}

	db, err := postgres.New(ctx, logger)
	if err != nil {
		return nil, err
	}
	store := ledger.NewStore(logger, db)

	subs, err := submissions.New(ctx, logger, db)
	if err != nil {
		return nil, err
	}

	var (
		backend     Backend
		retryBudget int
	)
	if cfg.TestEnv {
		logger.Info("Running in test environment, workers are local docker processes")
		backend = NewLocalBackend(logger, cfg)
		retryBudget = cfg.RetryCount
	} else {
		backend, err = NewK8sBackend(logger, cfg)
		if err != nil {
			return nil, err
		}
		// The Job controller already retries each unit up to backoffLimit.
		retryBudget = 0
	}

	seed, err := store.LastBatch(ctx, cfg.Interval())
	if err != nil {
		if errors.Is(err, ledger.ErrNoBatches) {
			return nil, fmt.Errorf("bot_logs is empty, seed it with an initial row before starting: %w", err)
		}
		return nil, err
	}

	app := &App{
		Logger:      logger,
		Config:      cfg,
		DB:          db,
		Store:       store,
		Submissions: subs,
		Dispatcher:  NewDispatcher(logger, backend, retryBudget),
		Alerter: alert.New(logger, cfg.WebhookURL,
			time.Duration(cfg.AlarmLowerLimitSec*float64(time.Second)),
			time.Duration(cfg.AlarmUpperLimitSec*float64(time.Second))),
		State: NewState(logger, seed, cfg.RetryCount),
	}

	if err := app.setupRoster(ctx); err != nil {
		return nil, err
	}
	return app, nil
}

// setupRoster configures the optional spreadsheet sync cron. The cron spec
// uses a seconds field.
func (a *App) setupRoster(ctx context.Context) error {
	syncer, err := roster.New(ctx, a.Logger, a.Store)
	if err != nil {
		return err
	}
	a.Roster = syncer
	if syncer == nil || a.Config.RosterCron == "" {
		return nil
	}

	a.Cron = cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	_, err = a.Cron.AddFunc(a.Config.RosterCron, func() {
		rctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
		defer cancel()
		if err := syncer.Sync(rctx); err != nil {
			a.Logger.Error("Roster sync failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule roster sync: %w", err)
	}
	a.Cron.Start()
	a.Logger.Info("Roster sync scheduled", zap.String("cron", a.Config.RosterCron))
	return nil
}

// SetupServer prepares the health endpoints.
func (a *App) SetupServer() {
	addr := utils.Env("ADDR", ":3002")

	r := mux.NewRouter()
	r.Handle("/healthz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})).Methods("GET")
	r.Handle("/readyz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if a.Ready() {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	})).Methods("GET")

	a.Server = &http.Server{Addr: addr, Handler: r}
}

// Ready reports whether the loop is able to process batches.
func (a *App) Ready() bool { return !a.State.Stop }

// Run processes batches until the retry budget is exhausted or the context
// is cancelled. The returned error is nil only on clean shutdown.
func (a *App) Run(ctx context.Context) error {
	if a.Server == nil {
		a.SetupServer()
	}
	go func() { _ = a.Server.ListenAndServe() }()
	defer a.shutdown()

	for !a.State.Stop {
		if err := a.ProcessBatch(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				a.Logger.Info("Shutting down")
				return nil
			}
			return err
		}
	}
	return fmt.Errorf("batch retry budget exhausted")
}

func (a *App) shutdown() {
	if a.Server != nil {
		_ = a.Server.Close()
	}
	if a.Cron != nil {
		<-a.Cron.Stop().Done()
	}
	a.Dispatcher.Backend.Close()
	a.Submissions.Close()
	a.DB.Close()
}

package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"speedboard/internal/dashboard/application"
	"speedboard/internal/dashboard/infrastructure/render"
	dashboardhttp "speedboard/internal/dashboard/interfaces/http"
	"speedboard/internal/dashboard/notify"
	measurement "speedboard/internal/measurement/domain"
	measurementpg "speedboard/internal/measurement/infrastructure/postgres"
	measurementsqlite "speedboard/internal/measurement/infrastructure/sqlite"
	"speedboard/internal/observability/metrics"
)

func main() {
	logger := log.New(os.Stdout, "", log.LstdFlags)
	cfg, err := application.LoadConfig()
	if err != nil {
		logger.Fatalf("config error: %v", err)
	}

	store, err := openStore(cfg.Store, cfg.Gate)
	if err != nil {
		logger.Fatalf("measurement store error: %v", err)
	}

	renderer, err := render.NewRenderer(cfg.Render.ArtifactDir,
		render.WithSize(cfg.Render.Width, cfg.Render.Height),
		render.WithDataExport(cfg.Render.DataExport),
		render.WithPDF(cfg.Render.PDF),
		render.WithLogger(logger),
	)
	if err != nil {
		logger.Fatalf("renderer error: %v", err)
	}

	snapshots := application.NewSnapshotStore(nil)
	metrics.Init(func() time.Time { return snapshots.Snapshot().PublishedAt }, logger)

	broker := dashboardhttp.NewSSEBroker()
	broker.Publish(snapshots.Snapshot())
	snapshots.OnPublish(broker.Publish)

	var refresherOpts []application.RefresherOption
	if cfg.Notify.WebhookURL != "" {
		refresherOpts = append(refresherOpts, application.WithNotifier(notify.NewWebhookNotifier(cfg.Notify.WebhookURL)))
	}
	refresher, err := application.NewRefresher(store, store, store, renderer, snapshots, logger, refresherOpts...)
	if err != nil {
		logger.Fatalf("refresher error: %v", err)
	}
	scheduler := application.NewScheduler(refresher, cfg.Refresh.Interval, logger)

	viewHandler, err := dashboardhttp.NewViewHandler(snapshots, cfg.Render.URLPrefix, logger)
	if err != nil {
		logger.Fatalf("view handler error: %v", err)
	}

	imagesPrefix := strings.TrimSuffix(cfg.Render.URLPrefix, "/") + "/"
	mux := http.NewServeMux()
	mux.Handle("/", viewHandler)
	mux.Handle(imagesPrefix, http.StripPrefix(imagesPrefix, http.FileServer(http.Dir(cfg.Render.ArtifactDir))))
	mux.Handle("/api/v1/snapshots/stream", dashboardhttp.NewStreamHandler(broker))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: loggingMiddleware(mux, logger)}
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		scheduler.Start(groupCtx)
		return nil
	})
	group.Go(func() error {
		logger.Printf("http listening on %s", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if err := group.Wait(); err != nil {
		logger.Fatalf("server error: %v", err)
	}
	logger.Printf("shutdown complete")
}

func openStore(cfg application.StoreConfig, gate application.GateConfig) (measurement.Store, error) {
	policy, err := measurement.ParseGatePolicy(gate.Policy)
	if err != nil {
		return nil, err
	}
	switch cfg.Driver {
	case application.DriverSQLite:
		store, err := measurementsqlite.NewStore(cfg.Directory, cfg.UnitDivisor,
			measurementsqlite.WithSourceSuffix(cfg.SourceSuffix),
			measurementsqlite.WithResultsTable(cfg.ResultsTable),
			measurementsqlite.WithStatusTable(cfg.StatusTable),
			measurementsqlite.WithControlDatabase(cfg.ControlDatabase),
			measurementsqlite.WithGatePolicy(policy),
			measurementsqlite.WithQueryTimeout(cfg.QueryTimeout),
		)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		store, err := measurementpg.NewStore(cfg.DSN, cfg.UnitDivisor,
			measurementpg.WithSourceSuffix(cfg.SourceSuffix),
			measurementpg.WithResultsTable(cfg.ResultsTable),
			measurementpg.WithStatusTable(cfg.StatusTable),
			measurementpg.WithControlDatabase(cfg.ControlDatabase),
			measurementpg.WithGatePolicy(policy),
			measurementpg.WithTimeouts(cfg.ConnectTimeout, cfg.QueryTimeout),
		)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Flush keeps the snapshot stream working behind the middleware.
func (w *statusWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

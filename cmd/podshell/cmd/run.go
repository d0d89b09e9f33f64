package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"

	"github.com/podshell/podshell/internal/metrics"
	"github.com/podshell/podshell/internal/orchestrator"
	"github.com/podshell/podshell/pkg/shutdown"
	"github.com/podshell/podshell/pkg/tracing"
)

var (
	shutdownTimeout time.Duration
	noControl       bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start every watcher and keep the terminal profiles in sync",
	Long: `Run starts the enabled watchers and profile sinks and prints every event.

While running, commands can be typed on stdin:
  status
  sink <name> on|off
  watcher <name> on|off
  quit

Example:
  podshell run
  podshell run --config ~/.podshell/config.yaml
  PODSHELL_DOCKER_ENABLED=false podshell run`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 10*time.Second, "Maximum time for graceful shutdown")
	runCmd.Flags().BoolVar(&noControl, "no-control", false, "Do not read control commands from stdin")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := cfg.Log.NewLogger()
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	defer logger.Close()

	// hooks run in reverse registration order
	mgr := shutdown.New(shutdownTimeout, logger)

	tp, err := tracing.InitTracer(cfg.TracingConfig(Version), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	mgr.Register("tracing", tp.Shutdown)

	collector := metrics.NewCollector()
	// events and control output share the terminal
	out := newConsoleWriter(cmd.OutOrStdout())

	oc, err := cfg.Orchestrator(logger)
	if err != nil {
		return err
	}
	oc.Subscriber = newEventPrinter(out)
	oc.Metrics = collector
	oc.Tracer = tp.Tracer()

	o, err := orchestrator.New(oc)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}

	logger.Info("Starting podshell", map[string]interface{}{
		"version":  Version,
		"watchers": o.WatcherNames(),
		"sinks":    o.SinkNames(),
	})
	o.Start()
	mgr.Register("orchestrator", func(ctx context.Context) error {
		o.Stop()
		return nil
	})

	if cfg.Metrics.Addr != "" {
		srv := newMetricsServer(cfg.Metrics.Addr, collector, o)
		go func() {
			logger.Info("Metrics server listening", map[string]interface{}{"addr": cfg.Metrics.Addr})
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("Metrics server error", map[string]interface{}{"error": err.Error()})
			}
		}()
		mgr.Register("metrics server", shutdown.StopHTTPServer(srv))
	}

	if !noControl {
		go runControlLoop(os.Stdin, o, out, mgr.Trigger)
	}

	mgr.Wait(cmd.Context())

	logger.Info("Shutting down podshell")
	if errs := mgr.Shutdown(); len(errs) > 0 {
		return fmt.Errorf("shutdown completed with %d error(s): %v", len(errs), errs[0])
	}
	return nil
}

// newMetricsServer serves /metrics and /health
func newMetricsServer(addr string, collector *metrics.Collector, o *orchestrator.Orchestrator) *http.Server {
	router := mux.NewRouter()
	router.Handle("/metrics", collector.Handler()).Methods("GET")
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		alive := 0
		for _, st := range o.Watchers() {
			if st.Alive {
				alive++
			}
		}
		enabled := 0
		for _, st := range o.Sinks() {
			if st.Enabled {
				enabled++
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":         "healthy",
			"watchers_alive": alive,
			"sinks_enabled":  enabled,
		})
	}).Methods("GET")

	return &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

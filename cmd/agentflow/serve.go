package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"agentflow"
	"agentflow/flows"
	"agentflow/monitor"
)

func newServeCmd(configPath *string) *cobra.Command {
	var addr string
	var keep int

	cmd := &cobra.Command{
		Use:   "serve <workflow>",
		Short: "Serve a workflow over HTTP with event and metrics endpoints",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			recorder := newEventRecorder(keep)
			wf, err := a.load(args[0], recorder, monitor.NewPrometheusMonitor(reg, "agentflow"))
			if err != nil {
				return err
			}

			srv := &http.Server{
				Addr:              addr,
				Handler:           newServer(wf, recorder, reg, a.logger),
				ReadHeaderTimeout: 10 * time.Second,
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()

			a.logger.Info("serving workflow", zap.String("workflow", wf.Name()), zap.String("addr", addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	cmd.Flags().IntVar(&keep, "keep-events", 1000, "number of recent events kept for /api/events")
	return cmd
}

// newServer exposes one workflow:
//
//	GET    /api/graph   steps and edges
//	POST   /api/run     run on the posted JSON object, respond with the final store
//	GET    /api/events  recent workflow events
//	DELETE /api/events  forget recorded events
//	GET    /metrics     Prometheus metrics from reg
func newServer(wf *flows.Workflow, recorder *eventRecorder, reg *prometheus.Registry, logger *zap.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/graph", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, wf.Graph())
	})

	mux.HandleFunc("POST /api/run", func(w http.ResponseWriter, r *http.Request) {
		store := agentflow.NewStore()
		if err := json.NewDecoder(r.Body).Decode(store); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		out, err := wf.Run(r.Context(), store)
		if err != nil {
			logger.Warn("workflow run failed", zap.Error(err))
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"error":    err.Error(),
				"path":     agentflow.ErrorPath(err),
				"attempts": agentflow.Attempts(err),
			})
			return
		}
		writeJSON(w, http.StatusOK, out)
	})

	mux.HandleFunc("GET /api/events", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, recorder.Events())
	})

	mux.HandleFunc("DELETE /api/events", func(w http.ResponseWriter, r *http.Request) {
		recorder.Clear()
		w.WriteHeader(http.StatusNoContent)
	})

	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// eventView is the JSON form of a flows.FlowEvent.
type eventView struct {
	Type       flows.FlowEventType `json:"type"`
	Timestamp  time.Time           `json:"timestamp"`
	Workflow   string              `json:"workflow"`
	RunID      string              `json:"run_id"`
	Step       string              `json:"step,omitempty"`
	Action     string              `json:"action,omitempty"`
	Next       string              `json:"next,omitempty"`
	Steps      int                 `json:"steps"`
	DurationMS float64             `json:"duration_ms,omitempty"`
	Error      string              `json:"error,omitempty"`
	Store      *agentflow.Store    `json:"store,omitempty"`
}

// eventRecorder keeps the most recent events of every run.
type eventRecorder struct {
	mutex  sync.RWMutex
	keep   int
	events []eventView
}

func newEventRecorder(keep int) *eventRecorder {
	if keep <= 0 {
		keep = 1000
	}
	return &eventRecorder{keep: keep}
}

func (r *eventRecorder) Notify(_ context.Context, event flows.FlowEvent) {
	view := eventView{
		Type:       event.Type,
		Timestamp:  event.Timestamp,
		Workflow:   event.Workflow,
		RunID:      event.RunID,
		Step:       event.Step,
		Action:     event.Action,
		Next:       event.Next,
		Steps:      event.Steps,
		DurationMS: float64(event.Duration) / float64(time.Millisecond),
		Store:      event.Store,
	}
	if event.Err != nil {
		view.Error = event.Err.Error()
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.events = append(r.events, view)
	if over := len(r.events) - r.keep; over > 0 {
		r.events = append([]eventView(nil), r.events[over:]...)
	}
}

func (r *eventRecorder) Events() []eventView {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	events := make([]eventView, len(r.events))
	copy(events, r.events)
	return events
}

func (r *eventRecorder) Clear() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.events = nil
}

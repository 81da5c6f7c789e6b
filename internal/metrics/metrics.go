package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is private so tests and multiple programs in one process don't collide
// on the global default registerer.
var Registry = prometheus.NewRegistry()

var apiLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "studyflow_api_latency_seconds",
	Help:    "Latency of remote API calls.",
	Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10, 30},
}, []string{"op", "status"})

var renderDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "studyflow_render_duration_seconds",
	Help:    "Time spent rendering one page surface.",
	Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2},
}, []string{"kind", "status"})

var navigations = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "studyflow_navigation_total",
	Help: "Navigation requests labelled by input source and outcome.",
}, []string{"source", "outcome"})

var pageChanges = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "studyflow_page_changes_total",
	Help: "Settled page-changed notifications.",
})

var annotationWrites = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "studyflow_annotation_writes_total",
	Help: "Write-through persists of the annotation cache.",
}, []string{"status"})

func init() {
	Registry.MustRegister(apiLatency, renderDuration, navigations, pageChanges, annotationWrites)
}

func ObserveAPI(op string, failed bool, elapsed time.Duration) {
	apiLatency.WithLabelValues(op, status(failed)).Observe(elapsed.Seconds())
}

func ObserveRender(kind string, failed bool, elapsed time.Duration) {
	renderDuration.WithLabelValues(kind, status(failed)).Observe(elapsed.Seconds())
}

// CountNavigation records one navigate call; outcome is one of started, coalesced,
// noop or clamped.
func CountNavigation(source, outcome string) {
	navigations.WithLabelValues(source, outcome).Inc()
}

func CountPageChange() {
	pageChanges.Inc()
}

func CountAnnotationWrite(failed bool) {
	annotationWrites.WithLabelValues(status(failed)).Inc()
}

func status(failed bool) string {
	if failed {
		return "error"
	}
	return "ok"
}

// Router exposes /metrics plus any extra debug routes the caller mounts.
func Router() chi.Router {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(Registry, promhttp.HandlerOpts{}))
	return r
}

// Serve runs the metrics endpoint until ctx is cancelled.
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

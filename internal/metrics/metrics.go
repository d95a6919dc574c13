package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Operation metrics
	OperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accesstime_operations_total",
			Help: "Total access engine operations by outcome",
		},
		[]string{"operation", "result"},
	)

	OperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "accesstime_operation_duration_seconds",
			Help:    "Access engine operation duration in seconds",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)

	SimulationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accesstime_simulations_total",
			Help: "Total simulated invocations by outcome",
		},
		[]string{"operation", "result"},
	)

	// Purchase metrics
	PurchasesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accesstime_purchases_total",
			Help: "Total orders created",
		},
		[]string{"package"},
	)

	PurchaseAmountTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "accesstime_purchase_amount_total",
			Help: "Total token amount collected by purchases",
		},
	)

	SecondsCreditedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "accesstime_seconds_credited_total",
			Help: "Total seconds of access credited by grants",
		},
	)

	// Authorization metrics
	AuthorizationRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accesstime_authorization_rejections_total",
			Help: "Authorization entries or policy checks that were rejected",
		},
		[]string{"reason"},
	)

	// Event metrics
	EventsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accesstime_events_emitted_total",
			Help: "Events delivered to sinks",
		},
		[]string{"topic"},
	)

	EventErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accesstime_event_errors_total",
			Help: "Event deliveries that failed",
		},
		[]string{"topic"},
	)

	// Storage metrics
	StorageConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "accesstime_storage_conflicts_total",
			Help: "Units of work abandoned after repeated optimistic conflicts",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		OperationsTotal,
		OperationDuration,
		SimulationsTotal,
		PurchasesTotal,
		PurchaseAmountTotal,
		SecondsCreditedTotal,
		AuthorizationRejections,
		EventsEmitted,
		EventErrors,
		StorageConflicts,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // pre-created by systemd, or bound by Start
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start binds the listen address unless a listener was set, then serves
// in the background. Bind errors are returned.
func (s *Server) Start() error {
	if s.listener == nil {
		ln, err := net.Listen("tcp", s.server.Addr)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", s.server.Addr, err)
		}
		s.listener = ln
	} else {
		s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
	}

	s.logger.Info().Str("addr", s.listener.Addr().String()).Msg("Starting metrics server")
	ln := s.listener
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.server.Addr
}

// Stop drains in-flight scrapes until ctx is done.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping metrics server")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown metrics server: %w", err)
	}
	return nil
}

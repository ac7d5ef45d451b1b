// Package metrics exposes pipeline statistics as Prometheus metrics on a
// private registry. A *Metrics satisfies the observer interfaces of the
// coalescer, aggregator, supervisor, reloader and notification store.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vibepanel/vibepanel/internal/config"
	"github.com/vibepanel/vibepanel/internal/domain"
	"github.com/vibepanel/vibepanel/internal/reload"
)

const namespace = "vibepanel"

// Metrics holds every collector.
type Metrics struct {
	registry *prometheus.Registry

	eventsReceived  *prometheus.CounterVec
	eventsCoalesced *prometheus.CounterVec
	merges          *prometheus.CounterVec
	mergeRejections *prometheus.CounterVec
	snapshotVersion prometheus.Gauge
	availability    *prometheus.GaugeVec
	reloads         *prometheus.CounterVec
	reloadState     prometheus.Gauge
	persistence     *prometheus.CounterVec
}

var availabilities = []domain.Availability{domain.Unavailable, domain.Connecting, domain.Ready, domain.Errored}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		eventsReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_received_total",
			Help:      "Adapter events offered to the coalescer.",
		}, []string{"domain"}),
		eventsCoalesced: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_coalesced_total",
			Help:      "Events superseded inside a coalescing window.",
		}, []string{"domain"}),
		merges: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "merges_total",
			Help:      "Events merged into a new snapshot.",
		}, []string{"domain"}),
		mergeRejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "merge_rejections_total",
			Help:      "Events rejected by payload validation.",
		}, []string{"domain"}),
		snapshotVersion: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshot_version",
			Help:      "Version of the last published snapshot.",
		}),
		availability: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "adapter_availability",
			Help:      "1 for the current availability of each adapter.",
		}, []string{"domain", "state"}),
		reloads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "config_reloads_total",
			Help:      "Configuration reload attempts by result.",
		}, []string{"result"}),
		reloadState: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "config_reload_state",
			Help:      "Current reload state machine state.",
		}),
		persistence: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_writes_total",
			Help:      "Notification history writes by operation and result.",
		}, []string{"op", "result"}),
	}
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) EventReceived(d domain.Domain) {
	m.eventsReceived.WithLabelValues(d.String()).Inc()
}

func (m *Metrics) EventCoalesced(d domain.Domain) {
	m.eventsCoalesced.WithLabelValues(d.String()).Inc()
}

func (m *Metrics) MergeApplied(d domain.Domain, version uint64) {
	m.merges.WithLabelValues(d.String()).Inc()
	m.snapshotVersion.Set(float64(version))
}

func (m *Metrics) MergeRejected(d domain.Domain) {
	m.mergeRejections.WithLabelValues(d.String()).Inc()
}

func (m *Metrics) AdapterAvailability(d domain.Domain, a domain.Availability) {
	for _, s := range availabilities {
		v := 0.0
		if s == a {
			v = 1
		}
		m.availability.WithLabelValues(d.String(), s.String()).Set(v)
	}
}

func (m *Metrics) StateChanged(s reload.State) {
	m.reloadState.Set(float64(s))
}

func (m *Metrics) ReloadFinished(ok bool, change config.Change) {
	switch {
	case !ok:
		m.reloads.WithLabelValues("invalid").Inc()
	case change == 0:
		m.reloads.WithLabelValues("unchanged").Inc()
	default:
		m.reloads.WithLabelValues("applied").Inc()
	}
}

func (m *Metrics) PersistenceWrite(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.persistence.WithLabelValues(op, result).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Serve listens on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

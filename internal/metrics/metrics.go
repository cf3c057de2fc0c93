package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nshruti113/packet-sentinel/internal/models"
)

const namespace = "sentinel"

// Geo lookup outcomes
const (
	GeoResolved = "resolved"
	GeoFailed   = "failed"
	GeoDropped  = "dropped"
)

var (
	packetsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_total",
			Help:      "Packets processed by the pipeline, partitioned by protocol.",
		},
		[]string{"protocol"},
	)

	alertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Alerts produced, partitioned by type and severity.",
		},
		[]string{"type", "severity"},
	)

	publishErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_errors_total",
			Help:      "Events the publisher failed to deliver, partitioned by event kind.",
		},
		[]string{"event"},
	)

	geoLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geo_lookups_total",
			Help:      "Background geolocation lookups, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	geoCacheEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "geo_cache_entries",
			Help:      "Addresses currently held in the geolocation cache.",
		},
	)

	blocklistEntries = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "blocklist_entries",
			Help:      "Entries in the active blocklist snapshot.",
		},
		[]string{"feed"},
	)

	blocklistRefreshErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocklist_refresh_errors_total",
			Help:      "Failed blocklist refreshes.",
		},
		[]string{"feed"},
	)

	blocklistLastSuccess = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "blocklist_refresh_last_success_timestamp_seconds",
			Help:      "Unix time of the last successful blocklist refresh.",
		},
		[]string{"feed"},
	)

	anomalyTrained = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "anomaly_model_trained",
			Help:      "1 once the anomaly model has been fitted.",
		},
	)

	anomalyFitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "anomaly_fits_total",
			Help:      "Times the anomaly model has been fitted.",
		},
	)
)

// Register attaches sentinel collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		packetsTotal,
		alertsTotal,
		publishErrorsTotal,
		geoLookupsTotal,
		geoCacheEntries,
		blocklistEntries,
		blocklistRefreshErrors,
		blocklistLastSuccess,
		anomalyTrained,
		anomalyFitsTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

func ObservePacket(proto models.Protocol) {
	packetsTotal.WithLabelValues(string(proto)).Inc()
}

func ObserveAlert(a models.Alert) {
	alertsTotal.WithLabelValues(string(a.Type), string(a.Severity)).Inc()
}

func ObservePublishError(event string) {
	publishErrorsTotal.WithLabelValues(event).Inc()
}

func ObserveGeoLookup(outcome string) {
	geoLookupsTotal.WithLabelValues(outcome).Inc()
}

func SetGeoCacheEntries(n int) {
	geoCacheEntries.Set(float64(n))
}

// ObserveBlocklistRefresh records the outcome of one refresh attempt.
func ObserveBlocklistRefresh(feed string, entries int, at time.Time, err error) {
	if err != nil {
		blocklistRefreshErrors.WithLabelValues(feed).Inc()
		return
	}
	blocklistEntries.WithLabelValues(feed).Set(float64(entries))
	blocklistLastSuccess.WithLabelValues(feed).Set(float64(at.Unix()))
}

// ObserveAnomalyFit records a completed model fit.
func ObserveAnomalyFit() {
	anomalyFitsTotal.Inc()
	anomalyTrained.Set(1)
}

package hub

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Saturation: открытые соединения по измерениям scope
	ConnectionsOpen *prometheus.GaugeVec

	// Traffic: принятые события по типам
	EventsIngested *prometheus.CounterVec

	// Errors: отклонённые события (reason: validation | storage)
	EventsRejected *prometheus.CounterVec

	// Traffic: фактически доставленные broadcast-кадры
	BroadcastsSent *prometheus.CounterVec

	// Backpressure: заполненность буфера журнала
	JournalFill prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern — без реестра метрики живут в локальном,
	// никуда не подключенном регистре (удобно в тестах)
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		ConnectionsOpen: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "telemetry_connections_open",
			Help: "Number of open persistent connections per scope kind.",
		}, []string{"scope"}),

		EventsIngested: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "telemetry_events_ingested_total",
			Help: "Total number of accepted inbound events.",
		}, []string{"event"}),

		EventsRejected: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "telemetry_events_rejected_total",
			Help: "Total number of rejected inbound events by reason.",
		}, []string{"event", "reason"}), // reason: validation, storage, rate_limit

		BroadcastsSent: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "telemetry_broadcasts_sent_total",
			Help: "Total number of frames fanned out to bucket members.",
		}, []string{"event", "scope"}),

		JournalFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "telemetry_journal_buffer_utilization",
			Help: "Current number of entries in the ingest journal buffer.",
		}),
	}
}

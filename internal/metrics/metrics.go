package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	lvNew       = "new"
	lvDuplicate = "duplicate"

	lvSuccess = "success"
	lvError   = "error"
)

// Service holds the counters exposed on /metrics.
type Service struct {
	anrs          *prometheus.CounterVec
	groupsCreated prometheus.Counter
	ingested      *prometheus.CounterVec
	exports       *prometheus.CounterVec
	devices       prometheus.Gauge
	expired       prometheus.Counter
}

func New(reg prometheus.Registerer) *Service {
	return &Service{
		anrs: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "danr_anrs_processed_total",
			Help: "Total number of ANR reports processed.",
		}, []string{"result"}),
		groupsCreated: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "danr_anr_groups_created_total",
			Help: "Total number of ANR groups created.",
		}),
		ingested: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "danr_profiling_sessions_ingested_total",
			Help: "Total number of profiling session uploads.",
		}, []string{"profiler_type", "result"}),
		exports: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "danr_profiling_exports_total",
			Help: "Total number of profiling views served.",
		}, []string{"format"}),
		devices: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "danr_devices_registered",
			Help: "Number of registered devices.",
		}),
		expired: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "danr_devices_expired_total",
			Help: "Total number of devices expired for inactivity.",
		}),
	}
}

func (s *Service) ANRProcessed(duplicate, groupCreated bool) {
	if duplicate {
		s.anrs.WithLabelValues(lvDuplicate).Inc()
	} else {
		s.anrs.WithLabelValues(lvNew).Inc()
	}
	if groupCreated {
		s.groupsCreated.Inc()
	}
}

func (s *Service) SessionIngested(profilerType string, err error) {
	result := lvSuccess
	if err != nil {
		result = lvError
	}
	s.ingested.WithLabelValues(profilerType, result).Inc()
}

func (s *Service) ExportServed(format string) {
	s.exports.WithLabelValues(format).Inc()
}

func (s *Service) DevicesRegistered(n int) {
	s.devices.Set(float64(n))
}

func (s *Service) DevicesExpired(n int) {
	s.expired.Add(float64(n))
}

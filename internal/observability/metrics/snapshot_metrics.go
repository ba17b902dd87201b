package metrics

import (
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func registerSnapshotAge(publishedAt func() time.Time, logger *log.Logger) {
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "snapshot_age_seconds",
			Help: "Seconds since the current snapshot was published",
		},
		func() float64 {
			return snapshotAge(publishedAt, time.Now(), logger)
		},
	))
}

func snapshotAge(publishedAt func() time.Time, now time.Time, logger *log.Logger) float64 {
	at := publishedAt()
	if at.IsZero() {
		if logger != nil {
			logger.Printf("metrics snapshot age: no publication time")
		}
		return 0
	}
	age := now.Sub(at)
	if age < 0 {
		return 0
	}
	return age.Seconds()
}

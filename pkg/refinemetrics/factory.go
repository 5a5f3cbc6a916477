package refinemetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// promautoFactory mirrors promauto.With, isolated into its own tiny helper
// so New reads as a block of promauto constructors with no manual
// Register/MustRegister bookkeeping.
func promautoFactory(reg prometheus.Registerer) promauto.Factory {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return promauto.With(reg)
}

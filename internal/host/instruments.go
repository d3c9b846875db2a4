package host

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "siminf"

// Instruments are the process metrics of a host. All operations are safe
// for concurrent use.
type Instruments struct {
	PostTimeSteps   *prometheus.CounterVec
	RateEvaluations prometheus.Counter
	InvalidRates    prometheus.Counter
	StepDuration    prometheus.Histogram
}

func NewInstruments(reg prometheus.Registerer) *Instruments {
	factory := promauto.With(reg)
	return &Instruments{
		PostTimeSteps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "post_time_step_total",
			Help:      "Post time step updates by recompute signal",
		}, []string{"recompute"}),
		RateEvaluations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "rate_evaluations_total",
			Help:      "Transition rate evaluations",
		}),
		InvalidRates: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "invalid_rates_total",
			Help:      "Negative, infinite or NaN propensities",
		}),
		StepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "step_duration_seconds",
			Help:      "Wall time of one discrete step over all nodes",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		}),
	}
}

func (i *Instruments) postTimeStep(recompute bool, evaluated int) {
	if i == nil {
		return
	}
	i.PostTimeSteps.WithLabelValues(strconv.FormatBool(recompute)).Inc()
	if evaluated > 0 {
		i.RateEvaluations.Add(float64(evaluated))
	}
}

func (i *Instruments) invalidRate() {
	if i == nil {
		return
	}
	i.InvalidRates.Inc()
}

func (i *Instruments) stepDone(start time.Time) {
	if i == nil {
		return
	}
	i.StepDuration.Observe(time.Since(start).Seconds())
}

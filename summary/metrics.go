package summary

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the training gauges and counters, kept on a private registry so
// several trainers can live in one process.
type Metrics struct {
	reg *prometheus.Registry

	Steps       *prometheus.CounterVec
	Loss        prometheus.Gauge
	AvgLoss     prometheus.Gauge
	GradNorm    prometheus.Gauge
	Temperature prometheus.Gauge
	Epoch       prometheus.Gauge
}

func NewMetrics() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		Steps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deepchannel_steps_total",
				Help: "Training steps by outcome (applied or skipped by the margin gate).",
			},
			[]string{"result"},
		),
		Loss: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "deepchannel_loss",
			Help: "Hinge loss of the last step.",
		}),
		AvgLoss: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "deepchannel_running_avg_loss",
			Help: "Exponentially decayed running loss.",
		}),
		GradNorm: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "deepchannel_grad_norm",
			Help: "Global gradient norm before clipping, last applied step.",
		}),
		Temperature: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "deepchannel_temperature",
			Help: "Channel model temperature.",
		}),
		Epoch: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "deepchannel_epoch",
			Help: "Epoch progress (epoch + batch/train_size).",
		}),
	}
	m.reg.MustRegister(m.Steps, m.Loss, m.AvgLoss, m.GradNorm, m.Temperature, m.Epoch)
	return m
}

// ObserveStep records one training step.
func (m *Metrics) ObserveStep(loss, avgLoss float64, applied bool) {
	result := "skipped"
	if applied {
		result = "applied"
	}
	m.Steps.WithLabelValues(result).Inc()
	m.Loss.Set(loss)
	m.AvgLoss.Set(avgLoss)
}

// WriteTextfile dumps every metric in the node_exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.reg)
}

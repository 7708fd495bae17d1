package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type MetricsGenerator interface {
	IncOpsSubmitted(status string)
	IncGasEstimations(status string)
	IncReceiptPolls()
	IncOpsIncluded(status string)
	ObserveInclusionSeconds(float64)
}

const bundlerNamespace = "bundler"

// PipelineMetrics counts what the pipeline pushes through a bundler endpoint.
// If numOpsSubmitted keeps growing while numOpsIncluded does not, operations
// are stuck in the mempool or the endpoint is dropping them.
type PipelineMetrics struct {
	numOpsSubmitted   *prometheus.CounterVec
	numGasEstimations *prometheus.CounterVec
	numReceiptPolls   prometheus.Counter
	numOpsIncluded    *prometheus.CounterVec
	inclusionSeconds  prometheus.Histogram
}

func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	return &PipelineMetrics{
		numOpsSubmitted: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: bundlerNamespace,
				Name:      "num_ops_submitted_total",
				Help:      "The number of eth_sendUserOperation calls, by outcome",
			}, []string{"status"}),

		numGasEstimations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: bundlerNamespace,
				Name:      "num_gas_estimations_total",
				Help:      "The number of eth_estimateUserOperationGas calls, by outcome",
			}, []string{"status"}),

		numReceiptPolls: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: bundlerNamespace,
				Name:      "num_receipt_polls_total",
				Help:      "The number of entrypoint log queries issued while waiting for inclusion",
			}),

		numOpsIncluded: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: bundlerNamespace,
				Name:      "num_ops_included_total",
				Help:      "The number of operations observed on-chain, by execution success",
			}, []string{"status"}),

		inclusionSeconds: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: bundlerNamespace,
				Name:      "inclusion_seconds",
				Help:      "Time from submission to the UserOperationEvent showing up on-chain",
				Buckets:   []float64{1, 2, 5, 10, 30, 60, 120, 300},
			}),
	}
}

func (m *PipelineMetrics) IncOpsSubmitted(status string) {
	m.numOpsSubmitted.WithLabelValues(status).Inc()
}

func (m *PipelineMetrics) IncGasEstimations(status string) {
	m.numGasEstimations.WithLabelValues(status).Inc()
}

func (m *PipelineMetrics) IncReceiptPolls() {
	m.numReceiptPolls.Inc()
}

func (m *PipelineMetrics) IncOpsIncluded(status string) {
	m.numOpsIncluded.WithLabelValues(status).Inc()
}

func (m *PipelineMetrics) ObserveInclusionSeconds(seconds float64) {
	m.inclusionSeconds.Observe(seconds)
}

package qshard

import (
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

/*
Metrics counts what the engine does to the amplitude store. Every engine owns
its own registry so several ranks can live in one process.
*/
type Metrics struct {
	registry     *prometheus.Registry
	gates        *prometheus.CounterVec
	pageSwaps    prometheus.Counter
	exchanges    *prometheus.CounterVec
	exchanged    prometheus.Counter
	fusedBlocks  prometheus.Counter
	blockWidth   prometheus.Histogram
	folds        *prometheus.CounterVec
	collectives  *prometheus.CounterVec
	parallelJobs prometheus.Counter
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		gates: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "qshard_gates_total",
			Help: "Gate applications by gate and execution path",
		}, []string{"gate", "path"}),
		pageSwaps: factory.NewCounter(prometheus.CounterOpts{
			Name: "qshard_page_swaps_total",
			Help: "Page and data block pointer swaps",
		}),
		exchanges: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "qshard_qubit_exchanges_total",
			Help: "Qubits brought into local memory, by source partition",
		}, []string{"kind"}),
		exchanged: factory.NewCounter(prometheus.CounterOpts{
			Name: "qshard_exchanged_amplitudes_total",
			Help: "Amplitudes sent to peer processes",
		}),
		fusedBlocks: factory.NewCounter(prometheus.CounterOpts{
			Name: "qshard_fused_blocks_total",
			Help: "Fused blocks executed",
		}),
		blockWidth: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "qshard_fused_block_window_qubits",
			Help:    "Window width of executed fused blocks",
			Buckets: prometheus.LinearBuckets(0, 1, MaxFusedQubits+1),
		}),
		folds: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "qshard_fusion_specializations_total",
			Help: "Gate specializations made while compiling fused blocks",
		}, []string{"kind"}),
		collectives: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "qshard_collectives_total",
			Help: "Blocking collectives issued",
		}, []string{"op"}),
		parallelJobs: factory.NewCounter(prometheus.CounterOpts{
			Name: "qshard_parallel_jobs_total",
			Help: "Ranges handed to pool workers",
		}),
	}
}

// Registry is what the CLI serves on /metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) recordGate(gate, path string) {
	if m == nil {
		return
	}
	m.gates.WithLabelValues(gate, path).Inc()
}

func (m *Metrics) recordPageSwaps(n int) {
	if m == nil {
		return
	}
	m.pageSwaps.Add(float64(n))
}

func (m *Metrics) recordExchange(kind string, amplitudes int) {
	if m == nil {
		return
	}
	m.exchanges.WithLabelValues(kind).Inc()
	m.exchanged.Add(float64(amplitudes))
}

func (m *Metrics) recordBlock(width int) {
	if m == nil {
		return
	}
	m.fusedBlocks.Inc()
	m.blockWidth.Observe(float64(width))
}

func (m *Metrics) recordFold(kind string) {
	if m == nil {
		return
	}
	m.folds.WithLabelValues(kind).Inc()
}

func (m *Metrics) recordCollective(op string) {
	if m == nil {
		return
	}
	m.collectives.WithLabelValues(op).Inc()
}

func (m *Metrics) recordParallelJobs(n uint64) {
	if m == nil {
		return
	}
	m.parallelJobs.Add(float64(n))
}

/*
ExportMetrics flattens the registry into name{label=value,...} keys. Counters
report their value, histograms their sample count.
*/
func (m *Metrics) ExportMetrics() map[string]interface{} {
	out := make(map[string]interface{})

	families, err := m.registry.Gather()
	if err != nil {
		return out
	}

	for _, family := range families {
		for _, metric := range family.GetMetric() {
			pairs := make([]string, 0, len(metric.GetLabel()))
			for _, label := range metric.GetLabel() {
				pairs = append(pairs, label.GetName()+"="+label.GetValue())
			}
			sort.Strings(pairs)

			key := family.GetName()
			if len(pairs) > 0 {
				key += "{" + strings.Join(pairs, ",") + "}"
			}

			switch {
			case metric.GetCounter() != nil:
				out[key] = metric.GetCounter().GetValue()
			case metric.GetHistogram() != nil:
				out[key] = metric.GetHistogram().GetSampleCount()
			case metric.GetGauge() != nil:
				out[key] = metric.GetGauge().GetValue()
			}
		}
	}

	return out
}

// 页面请求与附件传输的prometheus指标
// *Metrics为nil时所有方法都不做任何事
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/andrewyi/attachcrawler/src/enum"
)

const namespace = "attachcrawler"

type Metrics struct {
	pagesFetched *prometheus.CounterVec
	transfers    *prometheus.CounterVec
	retries      *prometheus.CounterVec
	inFlight     prometheus.Gauge
	bytesWritten prometheus.Counter
	retryQueue   prometheus.Gauge
}

// 测试中每次使用新的prometheus.NewRegistry()，避免重复注册
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		pagesFetched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pages_fetched_total",
				Help:      "Listing and post pages fetched, by result.",
			},
			[]string{"result"},
		),
		transfers: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transfers_total",
				Help:      "Attachment transfers settled, by final task state.",
			},
			[]string{"state"},
		),
		retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transfer_retries_total",
				Help:      "Transfer attempts retried, by failure kind.",
			},
			[]string{"kind"},
		),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "transfers_in_flight",
			Help:      "Transfers currently holding an admission slot.",
		}),
		bytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_written_total",
			Help:      "Bytes streamed into partial files.",
		}),
		retryQueue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "retry_queue_length",
			Help:      "Tasks waiting in the retry queue.",
		}),
	}

	reg.MustRegister(
		m.pagesFetched,
		m.transfers,
		m.retries,
		m.inFlight,
		m.bytesWritten,
		m.retryQueue,
	)
	return m
}

func (m *Metrics) PageFetched(ok bool) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.pagesFetched.WithLabelValues(result).Inc()
}

func (m *Metrics) TransferStarted() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

func (m *Metrics) TransferFinished() {
	if m == nil {
		return
	}
	m.inFlight.Dec()
}

func (m *Metrics) TransferSettled(state enum.TaskState) {
	if m == nil {
		return
	}
	m.transfers.WithLabelValues(state.String()).Inc()
}

func (m *Metrics) TransferRetried(kind enum.FailureKind) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) BytesWritten(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.bytesWritten.Add(float64(n))
}

func (m *Metrics) RetryQueueLength(n int) {
	if m == nil {
		return
	}
	m.retryQueue.Set(float64(n))
}

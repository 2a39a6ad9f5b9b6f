package metrics

import (
	"time"

	gometrics "github.com/docker/go-metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tigrisdata/s3fs/metrics"
)

var (
	partsTotal           *prometheus.CounterVec
	partAttemptsTotal    *prometheus.CounterVec
	partDurationHist     *prometheus.HistogramVec
	sessionsTotal        *prometheus.CounterVec
	executorQueued       prometheus.Gauge
	executorRejections   prometheus.Counter
	sessionDurationTimer gometrics.LabeledTimer
	timeSince            = time.Since // for test purposes only
)

const (
	subsystem      = "transfer"
	operationLabel = "operation"
	resultLabel    = "result"
	pathLabel      = "path"
	outcomeLabel   = "outcome"

	partsTotalName = "parts_total"
	partsTotalDesc = "A counter for part operations that reached a final result."

	partAttemptsTotalName = "part_attempts_total"
	partAttemptsTotalDesc = "A counter for part operation attempts, including retries."

	partDurationName = "part_duration_seconds"
	partDurationDesc = "A histogram of latencies for part operations, including retries."

	sessionsTotalName = "sessions_total"
	sessionsTotalDesc = "A counter for finished transfers by path and outcome."

	executorQueuedName = "executor_queued_tasks"
	executorQueuedDesc = "A gauge for the number of part operations waiting for a worker."

	executorRejectionsName = "executor_rejections_total"
	executorRejectionsDesc = "A counter for part operations the executor refused to accept."

	sessionDurationName = "session_duration"
	sessionDurationDesc = "The time taken by a transfer from its first byte to its commit or abort."

	resultSuccess = "success"
	resultFailure = "failure"

	OperationUpload = "upload"
	OperationCopy   = "copy"
	OperationPut    = "put"

	PathWrite = "write"
	PathCopy  = "copy"

	OutcomeSingleShot = "single_shot"
	OutcomeCompleted  = "completed"
	OutcomeAborted    = "aborted"
)

func init() {
	registerMetrics(prometheus.DefaultRegisterer)

	sessionDurationTimer = metrics.TransferNamespace.NewLabeledTimer(sessionDurationName, sessionDurationDesc, pathLabel, outcomeLabel)
}

func registerMetrics(registerer prometheus.Registerer) {
	partsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.NamespacePrefix,
			Subsystem: subsystem,
			Name:      partsTotalName,
			Help:      partsTotalDesc,
		},
		[]string{operationLabel, resultLabel},
	)

	partAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.NamespacePrefix,
			Subsystem: subsystem,
			Name:      partAttemptsTotalName,
			Help:      partAttemptsTotalDesc,
		},
		[]string{operationLabel},
	)

	partDurationHist = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metrics.NamespacePrefix,
			Subsystem: subsystem,
			Name:      partDurationName,
			Help:      partDurationDesc,
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{operationLabel},
	)

	sessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.NamespacePrefix,
			Subsystem: subsystem,
			Name:      sessionsTotalName,
			Help:      sessionsTotalDesc,
		},
		[]string{pathLabel, outcomeLabel},
	)

	executorQueued = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metrics.NamespacePrefix,
			Subsystem: subsystem,
			Name:      executorQueuedName,
			Help:      executorQueuedDesc,
		})

	executorRejections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metrics.NamespacePrefix,
			Subsystem: subsystem,
			Name:      executorRejectionsName,
			Help:      executorRejectionsDesc,
		})

	registerer.MustRegister(partsTotal)
	registerer.MustRegister(partAttemptsTotal)
	registerer.MustRegister(partDurationHist)
	registerer.MustRegister(sessionsTotal)
	registerer.MustRegister(executorQueued)
	registerer.MustRegister(executorRejections)
}

// PartAttempt counts one attempt of a part operation.
func PartAttempt(operation string) {
	partAttemptsTotal.WithLabelValues(operation).Inc()
}

// InstrumentPart starts timing a part operation. The returned function
// records its final result.
func InstrumentPart(operation string) func(error) {
	start := time.Now()
	return func(err error) {
		result := resultSuccess
		if err != nil {
			result = resultFailure
		}
		partsTotal.WithLabelValues(operation, result).Inc()
		partDurationHist.WithLabelValues(operation).Observe(timeSince(start).Seconds())
	}
}

// InstrumentSession starts timing a transfer on the given path. The returned
// function records how it ended.
func InstrumentSession(path string) func(outcome string) {
	start := time.Now()
	return func(outcome string) {
		sessionsTotal.WithLabelValues(path, outcome).Inc()
		sessionDurationTimer.WithValues(path, outcome).UpdateSince(start)
	}
}

// TaskQueued and TaskDequeued track the executor backlog.
func TaskQueued() {
	executorQueued.Inc()
}

func TaskDequeued() {
	executorQueued.Dec()
}

// TaskRejected counts work refused by the executor.
func TaskRejected() {
	executorRejections.Inc()
}

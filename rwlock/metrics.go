// Copyright 2020 Nathan Taylor (nbtaylor@gmail.com)
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package rwlock

import "github.com/prometheus/client_golang/prometheus"

// metrics are the Prometheus collectors exposed by a single lock
// instance, labelled by its instance id (see Owner.ID). Grounded in the
// minio/minio pattern of per-subsystem gauge/counter vecs registered at
// construction (cmd/metrics.go).
type metrics struct {
	readers       prometheus.Gauge
	queueDepth    *prometheus.GaugeVec
	timeouts      prometheus.Counter
	cancellations prometheus.Counter
	vacuumed      prometheus.Counter
}

func newMetrics(id string) *metrics {
	labels := prometheus.Labels{"lock_id": id}
	return &metrics{
		readers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "rwlock",
			Name:        "active_readers",
			Help:        "Number of readers currently admitted, including the upgradable reader.",
			ConstLabels: labels,
		}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   "rwlock",
			Name:        "queue_depth",
			Help:        "Approximate number of queued waiters.",
			ConstLabels: labels,
		}, []string{"queue"}),
		timeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "rwlock",
			Name:        "waiter_timeouts_total",
			Help:        "Waiters that were dequeued past their deadline.",
			ConstLabels: labels,
		}),
		cancellations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "rwlock",
			Name:        "waiter_cancellations_total",
			Help:        "Waiters that resolved via cancellation.",
			ConstLabels: labels,
		}),
		vacuumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "rwlock",
			Name:        "vacuumed_waiters_total",
			Help:        "Dead waiters unlinked by the vacuum pass.",
			ConstLabels: labels,
		}),
	}
}

func (m *metrics) register(reg prometheus.Registerer) {
	if m == nil || reg == nil {
		return
	}
	reg.MustRegister(m.readers, m.queueDepth, m.timeouts, m.cancellations, m.vacuumed)
}

func (m *metrics) setReaders(n int64) {
	if m == nil {
		return
	}
	m.readers.Set(float64(n))
}

func (m *metrics) setQueueDepth(queue string, n int64) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(queue).Set(float64(n))
}

func (m *metrics) incTimeouts() {
	if m != nil {
		m.timeouts.Inc()
	}
}

func (m *metrics) incCancellations() {
	if m != nil {
		m.cancellations.Inc()
	}
}

func (m *metrics) addVacuumed(n int) {
	if m != nil && n > 0 {
		m.vacuumed.Add(float64(n))
	}
}

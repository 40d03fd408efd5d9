package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds every series the monitor exports. A nil *Collector is valid
// and records nothing.
type Collector struct {
	// Cycle metrics
	cyclesTotal   *prometheus.CounterVec
	parseFailures prometheus.Counter
	itemStatus    *prometheus.GaugeVec

	// Fetch metrics
	fetchAttempts *prometheus.CounterVec
	fetchDuration prometheus.Histogram

	// Notification metrics
	notifications *prometheus.CounterVec
	notifyErrors  *prometheus.CounterVec

	// Proxy stats
	proxies *prometheus.GaugeVec

	// API metrics
	apiRequests *prometheus.CounterVec
	apiDuration *prometheus.HistogramVec
}

// NewCollector registers all collectors with reg; nil means the default registry
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	c := &Collector{
		cyclesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cycles_total",
				Help:      "Total number of poll cycles by outcome",
			},
			[]string{"result"},
		),
		parseFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "parse_failures_total",
				Help:      "Total number of pages whose sale region could not be located",
			},
		),
		itemStatus: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "item_status",
				Help:      "1 for the status of the currently observed item, 0 otherwise",
			},
			[]string{"status"},
		),
		fetchAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetch_attempts_total",
				Help:      "Total number of page fetch attempts by result",
			},
			[]string{"result"},
		),
		fetchDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fetch_duration_seconds",
				Help:      "Page fetch duration in seconds",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
		),
		notifications: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_total",
				Help:      "Total number of change notifications by decision",
			},
			[]string{"decision"},
		),
		notifyErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notify_errors_total",
				Help:      "Total number of failed notification deliveries",
			},
			[]string{"notifier"},
		),
		proxies: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "proxies",
				Help:      "Current number of proxies per health state",
			},
			[]string{"health"},
		),
		apiRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_requests_total",
				Help:      "Total number of API requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		apiDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "api_request_duration_seconds",
				Help:      "API request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
	}

	return c
}

func (c *Collector) RecordCycle(result string) {
	if c == nil {
		return
	}
	c.cyclesTotal.WithLabelValues(result).Inc()
}

func (c *Collector) RecordParseFailure() {
	if c == nil {
		return
	}
	c.parseFailures.Inc()
}

// SetItemStatus flips the status gauge so exactly one label reads 1
func (c *Collector) SetItemStatus(current string, all []string) {
	if c == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1
		}
		c.itemStatus.WithLabelValues(s).Set(v)
	}
}

func (c *Collector) RecordFetchSuccess(seconds float64) {
	if c == nil {
		return
	}
	c.fetchAttempts.WithLabelValues("success").Inc()
	c.fetchDuration.Observe(seconds)
}

func (c *Collector) RecordFetchFailure() {
	if c == nil {
		return
	}
	c.fetchAttempts.WithLabelValues("failure").Inc()
}

func (c *Collector) RecordNotification(decision string) {
	if c == nil {
		return
	}
	c.notifications.WithLabelValues(decision).Inc()
}

func (c *Collector) RecordNotifyError(notifier string) {
	if c == nil {
		return
	}
	c.notifyErrors.WithLabelValues(notifier).Inc()
}

func (c *Collector) SetProxies(health string, count int) {
	if c == nil {
		return
	}
	c.proxies.WithLabelValues(health).Set(float64(count))
}

func (c *Collector) RecordAPIRequest(method, endpoint, status string) {
	if c == nil {
		return
	}
	c.apiRequests.WithLabelValues(method, endpoint, status).Inc()
}

func (c *Collector) RecordAPIDuration(method, endpoint string, seconds float64) {
	if c == nil {
		return
	}
	c.apiDuration.WithLabelValues(method, endpoint).Observe(seconds)
}

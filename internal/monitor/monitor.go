package monitor

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mazen160/go-random"
	log "github.com/sirupsen/logrus"
	"github.com/wootoff-monitor/internal/metrics"
	"github.com/wootoff-monitor/internal/proxypool"
	"github.com/wootoff-monitor/internal/tracker"
	"github.com/wootoff-monitor/internal/types"
)

// State is the phase the loop is currently in
type State int32

const (
	Idle State = iota
	Polling
	Evaluating
	Notifying
	Sleeping
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Polling:
		return "POLLING"
	case Evaluating:
		return "EVALUATING"
	case Notifying:
		return "NOTIFYING"
	case Sleeping:
		return "SLEEPING"
	case Stopped:
		return "STOPPED"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Cycle results as recorded in metrics
const (
	ResultNotified    = "notified"
	ResultNoChange    = "no_change"
	ResultFetchFailed = "fetch_failed"
	ResultParseFailed = "parse_failed"
)

const DefaultParseFailureAlertThreshold = 3

type Fetcher interface {
	Fetch(ctx context.Context, target string) (string, error)
}

type Parser interface {
	Parse(html string, fetchedAt time.Time) (types.Snapshot, error)
}

type Notifier interface {
	Notify(ctx context.Context, event types.Event) error
}

// ProxyView is the read side of the proxy pool
type ProxyView interface {
	Endpoints() []proxypool.Endpoint
	Counts() map[proxypool.Health]int
}

type Options struct {
	URL      string
	Interval time.Duration
	Jitter   time.Duration
	// ParseFailureAlertThreshold is the number of consecutive parse failures
	// after which every further failure is logged at error level
	ParseFailureAlertThreshold int

	Rand *rand.Rand
	Now  func() time.Time
}

// Monitor polls the sale page, classifies what it sees and notifies on change
type Monitor struct {
	opts     Options
	fetcher  Fetcher
	parser   Parser
	tracker  *tracker.Tracker
	notifier Notifier
	proxies  ProxyView
	metrics  *metrics.Collector

	state atomic.Int32

	mu                       sync.Mutex
	cycles                   uint64
	notifications            uint64
	fetchFailures            uint64
	parseFailures            uint64
	consecutiveParseFailures int
	lastCycleID              string
	lastCycleAt              time.Time
	lastDecision             types.Decision
	lastError                string
}

func New(opts Options, f Fetcher, p Parser, t *tracker.Tracker, n Notifier, proxies ProxyView, m *metrics.Collector) *Monitor {
	if opts.ParseFailureAlertThreshold <= 0 {
		opts.ParseFailureAlertThreshold = DefaultParseFailureAlertThreshold
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Monitor{
		opts:     opts,
		fetcher:  f,
		parser:   p,
		tracker:  t,
		notifier: n,
		proxies:  proxies,
		metrics:  m,
	}
}

func (m *Monitor) State() State {
	return State(m.state.Load())
}

func (m *Monitor) setState(s State) {
	m.state.Store(int32(s))
}

// Run polls until ctx is cancelled. Cancellation is only observed after the
// sleep that ends a cycle, so a cycle in progress always completes.
func (m *Monitor) Run(ctx context.Context) error {
	defer m.setState(Stopped)

	log.WithFields(log.Fields{
		"url":      m.opts.URL,
		"interval": m.opts.Interval,
		"jitter":   m.opts.Jitter,
	}).Info("Monitor started")

	for {
		m.RunCycle(ctx)

		m.setState(Sleeping)
		delay := m.NextDelay()
		log.Debugf("Sleeping %s", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-timer.C:
		}

		if ctx.Err() != nil {
			log.Info("Monitor stopped")
			return nil
		}
	}
}

// RunCycle performs one poll: fetch, parse, evaluate and, on a notable change,
// notify. Fetch and parse failures skip the cycle and leave the tracker as is.
func (m *Monitor) RunCycle(ctx context.Context) (types.Decision, error) {
	// the poll finishes even when shutdown is requested mid-flight
	cycleCtx := context.WithoutCancel(ctx)

	cycleID, err := random.String(8)
	if err != nil {
		cycleID = uuid.NewString()[:8]
	}
	logger := log.WithField("cycle", cycleID)

	m.mu.Lock()
	m.cycles++
	m.lastCycleID = cycleID
	m.lastCycleAt = m.opts.Now()
	m.mu.Unlock()

	defer m.publishProxyStats()

	m.setState(Polling)
	html, err := m.fetcher.Fetch(cycleCtx, m.opts.URL)
	if err != nil {
		m.recordFetchFailure(err)
		logger.Warnf("Skipping cycle: %v", err)
		return types.NoChange, err
	}

	snap, err := m.parser.Parse(html, m.opts.Now())
	if err != nil {
		streak := m.recordParseFailure(err)
		entry := logger.WithField("consecutive", streak)
		if streak >= m.opts.ParseFailureAlertThreshold {
			entry.Errorf("Page layout may have changed: %v", err)
		} else {
			entry.Warnf("Skipping cycle: %v", err)
		}
		return types.NoChange, err
	}

	m.setState(Evaluating)
	change := m.tracker.Update(snap)
	m.recordDecision(change.Decision)
	m.metrics.SetItemStatus(change.Current.Status.String(), statusLabels)

	if !change.Decision.Notable() {
		m.metrics.RecordCycle(ResultNoChange)
		logger.WithField("item", snap.String()).Debug("No change")
		return change.Decision, nil
	}

	m.setState(Notifying)
	event := types.Event{
		ID:         uuid.NewString(),
		Decision:   change.Decision,
		Snapshot:   change.Current,
		Previous:   change.Previous,
		DetectedAt: m.opts.Now(),
		URL:        m.opts.URL,
	}

	logger.WithFields(log.Fields{
		"decision": change.Decision.String(),
		"title":    snap.Title,
		"price":    snap.Price,
		"status":   snap.Status.String(),
	}).Info("Change detected")

	m.metrics.RecordNotification(change.Decision.String())
	m.metrics.RecordCycle(ResultNotified)
	if err := m.notifier.Notify(cycleCtx, event); err != nil {
		logger.Errorf("Notification failed: %v", err)
	}

	return change.Decision, nil
}

// NextDelay returns the base interval shifted by a uniform offset in
// [-jitter, +jitter]
func (m *Monitor) NextDelay() time.Duration {
	jitter := m.opts.Jitter
	if jitter <= 0 {
		return m.opts.Interval
	}
	offset := time.Duration(m.opts.Rand.Int64N(int64(2*jitter)+1)) - jitter
	delay := m.opts.Interval + offset
	if delay < 0 {
		return 0
	}
	return delay
}

func (m *Monitor) recordFetchFailure(err error) {
	m.mu.Lock()
	m.fetchFailures++
	m.lastError = err.Error()
	m.mu.Unlock()

	m.metrics.RecordCycle(ResultFetchFailed)
}

func (m *Monitor) recordParseFailure(err error) int {
	m.mu.Lock()
	m.parseFailures++
	m.consecutiveParseFailures++
	streak := m.consecutiveParseFailures
	m.lastError = err.Error()
	m.mu.Unlock()

	m.metrics.RecordParseFailure()
	m.metrics.RecordCycle(ResultParseFailed)
	return streak
}

func (m *Monitor) recordDecision(d types.Decision) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.consecutiveParseFailures = 0
	m.lastDecision = d
	m.lastError = ""
	if d.Notable() {
		m.notifications++
	}
}

func (m *Monitor) publishProxyStats() {
	if m.proxies == nil {
		return
	}
	for h, n := range m.proxies.Counts() {
		m.metrics.SetProxies(h.String(), n)
	}
}

var statusLabels = []string{
	types.StatusUnknown.String(),
	types.StatusActive.String(),
	types.StatusSoldOut.String(),
	types.StatusEnded.String(),
}

package monitor

import (
	"time"

	"github.com/wootoff-monitor/internal/proxypool"
	"github.com/wootoff-monitor/internal/types"
)

// Status is a point-in-time view of the loop for the ops API
type Status struct {
	State         State                    `json:"state"`
	URL           string                   `json:"url"`
	Cycles        uint64                   `json:"cycles"`
	Notifications uint64                   `json:"notifications"`
	FetchFailures uint64                   `json:"fetch_failures"`
	ParseFailures uint64                   `json:"parse_failures"`
	LastCycleID   string                   `json:"last_cycle_id,omitempty"`
	LastCycleAt   time.Time                `json:"last_cycle_at,omitempty"`
	LastDecision  types.Decision           `json:"last_decision"`
	LastError     string                   `json:"last_error,omitempty"`
	Current       *types.Snapshot          `json:"current,omitempty"`
	Proxies       []proxypool.Endpoint     `json:"proxies,omitempty"`
	ProxyCounts   map[proxypool.Health]int `json:"proxy_counts,omitempty"`
}

func (m *Monitor) Status() Status {
	m.mu.Lock()
	st := Status{
		State:         m.State(),
		URL:           m.opts.URL,
		Cycles:        m.cycles,
		Notifications: m.notifications,
		FetchFailures: m.fetchFailures,
		ParseFailures: m.parseFailures,
		LastCycleID:   m.lastCycleID,
		LastCycleAt:   m.lastCycleAt,
		LastDecision:  m.lastDecision,
		LastError:     m.lastError,
	}
	m.mu.Unlock()

	if cur, ok := m.tracker.Current(); ok {
		st.Current = &cur
	}
	if m.proxies != nil {
		st.Proxies = m.proxies.Endpoints()
		st.ProxyCounts = m.proxies.Counts()
	}
	return st
}

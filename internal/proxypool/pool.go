package proxypool

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"strconv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// ErrNoProxyAvailable is returned when the pool holds no endpoints at all
var ErrNoProxyAvailable = errors.New("no proxy available")

const (
	DefaultFailureThreshold = 3
	DefaultCooldown         = 5 * time.Minute
)

// Health is the selection state of an endpoint
type Health int

const (
	Healthy Health = iota
	Suspect
	Dead
)

func (h Health) String() string {
	switch h {
	case Healthy:
		return "HEALTHY"
	case Suspect:
		return "SUSPECT"
	case Dead:
		return "DEAD"
	}
	return fmt.Sprintf("Health(%d)", int(h))
}

func (h Health) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// Endpoint is one SOCKS5 proxy candidate
type Endpoint struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"-"`
	Password string `json:"-"`

	Health              Health    `json:"health"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	DeadSince           time.Time `json:"dead_since,omitempty"`
	LastUsed            time.Time `json:"last_used,omitempty"`
}

// Address returns host:port
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

func (e Endpoint) String() string {
	return e.Address()
}

type Options struct {
	FailureThreshold int
	Cooldown         time.Duration
	Rand             *rand.Rand
	Now              func() time.Time
}

// Pool holds the configured endpoints and their health table.
// The monitor loop is the only writer; the mutex lets status readers in.
type Pool struct {
	mu        sync.Mutex
	endpoints []*Endpoint
	index     map[string]*Endpoint
	active    string

	threshold int
	cooldown  time.Duration
	rng       *rand.Rand
	now       func() time.Time
}

// New builds a pool from the given endpoints. Duplicates are dropped and
// every endpoint starts HEALTHY.
func New(endpoints []Endpoint, opts Options) (*Pool, error) {
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = DefaultFailureThreshold
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultCooldown
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	p := &Pool{
		index:     make(map[string]*Endpoint, len(endpoints)),
		threshold: opts.FailureThreshold,
		cooldown:  opts.Cooldown,
		rng:       opts.Rand,
		now:       opts.Now,
	}

	for _, ep := range endpoints {
		key := ep.Address()
		if _, exists := p.index[key]; exists {
			continue
		}
		e := ep
		e.Health = Healthy
		e.ConsecutiveFailures = 0
		e.DeadSince = time.Time{}
		p.endpoints = append(p.endpoints, &e)
		p.index[key] = &e
	}

	if len(p.endpoints) == 0 {
		return nil, ErrNoProxyAvailable
	}

	return p, nil
}

// Select picks the endpoint for the next request: a random HEALTHY one, else a
// random SUSPECT one, else the DEAD one that has been cooling down longest.
func (p *Pool) Select() (Endpoint, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.endpoints) == 0 {
		return Endpoint{}, ErrNoProxyAvailable
	}

	now := p.now()
	p.readmitCooled(now)

	chosen := p.pickRandom(Healthy)
	if chosen == nil {
		chosen = p.pickRandom(Suspect)
	}
	if chosen == nil {
		chosen = p.oldestDead()
		p.readmit(chosen)
		log.Warnf("All proxies dead, retrying %s early", chosen.Address())
	}

	chosen.LastUsed = now
	p.active = chosen.Address()
	return *chosen, nil
}

// ReportSuccess resets the failure counter and marks the endpoint HEALTHY
func (p *Pool) ReportSuccess(ep Endpoint) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.index[ep.Address()]
	if !ok {
		return
	}
	if e.Health != Healthy {
		log.Infof("Proxy %s recovered (%s -> %s)", e.Address(), e.Health, Healthy)
	}
	e.Health = Healthy
	e.ConsecutiveFailures = 0
	e.DeadSince = time.Time{}
}

// ReportFailure counts a failed request and demotes the endpoint
func (p *Pool) ReportFailure(ep Endpoint) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.index[ep.Address()]
	if !ok {
		return
	}
	e.ConsecutiveFailures++

	switch {
	case e.ConsecutiveFailures >= p.threshold:
		if e.Health != Dead {
			e.Health = Dead
			e.DeadSince = p.now()
			log.Warnf("Proxy %s marked dead after %d consecutive failures", e.Address(), e.ConsecutiveFailures)
		}
	case e.Health == Healthy:
		e.Health = Suspect
		log.Debugf("Proxy %s suspect (%d failures)", e.Address(), e.ConsecutiveFailures)
	}
}

// Endpoints returns a copy of the health table
func (p *Pool) Endpoints() []Endpoint {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Endpoint, len(p.endpoints))
	for i, e := range p.endpoints {
		out[i] = *e
	}
	return out
}

// Active returns the most recently selected endpoint
func (p *Pool) Active() (Endpoint, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.index[p.active]
	if !ok {
		return Endpoint{}, false
	}
	return *e, true
}

// Counts returns the number of endpoints per health state
func (p *Pool) Counts() map[Health]int {
	p.mu.Lock()
	defer p.mu.Unlock()

	counts := map[Health]int{Healthy: 0, Suspect: 0, Dead: 0}
	for _, e := range p.endpoints {
		counts[e.Health]++
	}
	return counts
}

func (p *Pool) pickRandom(h Health) *Endpoint {
	candidates := make([]*Endpoint, 0, len(p.endpoints))
	for _, e := range p.endpoints {
		if e.Health == h {
			candidates = append(candidates, e)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	return candidates[p.rng.IntN(len(candidates))]
}

func (p *Pool) oldestDead() *Endpoint {
	var oldest *Endpoint
	for _, e := range p.endpoints {
		if e.Health != Dead {
			continue
		}
		if oldest == nil || e.DeadSince.Before(oldest.DeadSince) {
			oldest = e
		}
	}
	return oldest
}

func (p *Pool) readmitCooled(now time.Time) {
	for _, e := range p.endpoints {
		if e.Health == Dead && now.Sub(e.DeadSince) >= p.cooldown {
			p.readmit(e)
			log.Infof("Proxy %s cooled down, back on probation", e.Address())
		}
	}
}

// readmit puts a dead endpoint on probation: one more failure kills it again
func (p *Pool) readmit(e *Endpoint) {
	e.Health = Suspect
	e.ConsecutiveFailures = p.threshold - 1
	e.DeadSince = time.Time{}
}

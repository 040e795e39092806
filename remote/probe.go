package remote

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/golang/glog"
)

const (
	defaultProbeInterval = 10 * time.Second
	defaultProbeTimeout  = 5 * time.Second
)

// HTTPProbeConfig configures the reachability probe.
type HTTPProbeConfig struct {
	// URL is hit with GET; any HTTP response counts as reachable.
	URL string

	// Transport is reported verbatim in Status; platform glue that knows
	// the actual link type sets it, otherwise it stays empty.
	Transport string

	Interval time.Duration
	Timeout  time.Duration
}

// HTTPProbe implements ConnectivityProbe by polling a reachability URL.
// Listeners get every sample, not just edges; edge detection is the
// Connectivity Monitor's job.
type HTTPProbe struct {
	mu sync.Mutex

	conf   HTTPProbeConfig
	client *http.Client

	listeners map[int]func(Status)
	nextId    int
}

var _ ConnectivityProbe = (*HTTPProbe)(nil)

func NewHTTPProbe(conf HTTPProbeConfig) *HTTPProbe {
	if conf.Interval <= 0 {
		conf.Interval = defaultProbeInterval
	}
	if conf.Timeout <= 0 {
		conf.Timeout = defaultProbeTimeout
	}
	return &HTTPProbe{
		conf:      conf,
		client:    &http.Client{Timeout: conf.Timeout},
		listeners: make(map[int]func(Status)),
	}
}

// FetchCurrent samples reachability once.
func (p *HTTPProbe) FetchCurrent(ctx context.Context) (Status, error) {
	st := Status{Transport: p.conf.Transport}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.conf.URL, nil)
	if err != nil {
		return st, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		glog.V(5).Infof("probe: %s unreachable: %v", p.conf.URL, err)
		return st, nil
	}
	resp.Body.Close()

	st.Connected = true
	st.Reachable = resp.StatusCode < http.StatusInternalServerError
	return st, nil
}

func (p *HTTPProbe) AddListener(cb func(Status)) func() {
	p.mu.Lock()
	id := p.nextId
	p.nextId++
	p.listeners[id] = cb
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

// Run polls until ctx is cancelled, fanning samples out to listeners.
func (p *HTTPProbe) Run(ctx context.Context) {
	ticker := time.NewTicker(p.conf.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st, err := p.FetchCurrent(ctx)
			if err != nil {
				glog.Errorf("probe: fetch: %v", err)
				continue
			}
			p.mu.Lock()
			cbs := make([]func(Status), 0, len(p.listeners))
			for _, cb := range p.listeners {
				cbs = append(cbs, cb)
			}
			p.mu.Unlock()
			for _, cb := range cbs {
				cb(st)
			}
		}
	}
}

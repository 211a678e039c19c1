package gateway

import (
	"context"
	"net"
	"sync"
	"time"
)

const (
	authFailWindow = 5 * time.Minute
	authFailLimit  = 10
	authFailHosts  = 10000
)

// failureWindow counts failed auth attempts per remote host over a sliding
// window. A host with authFailLimit failures inside the window is blocked
// until the oldest of them ages out. Only authFailHosts hosts are tracked;
// past that the host whose last failure is oldest is forgotten.
type failureWindow struct {
	window time.Duration
	limit  int
	now    func() time.Time

	mu    sync.Mutex
	hosts map[string][]time.Time
}

func newFailureWindow() *failureWindow {
	return &failureWindow{
		window: authFailWindow,
		limit:  authFailLimit,
		now:    time.Now,
		hosts:  make(map[string][]time.Time),
	}
}

func hostOf(remoteAddr string) string {
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil && host != "" {
		return host
	}
	return remoteAddr
}

// recent drops failures older than the window. Caller holds mu.
func (f *failureWindow) recent(host string, now time.Time) []time.Time {
	cutoff := now.Add(-f.window)
	times := f.hosts[host]
	i := 0
	for i < len(times) && !times[i].After(cutoff) {
		i++
	}
	times = times[i:]
	if len(times) == 0 {
		delete(f.hosts, host)
	} else {
		f.hosts[host] = times
	}
	return times
}

// Blocked reports whether remoteAddr has used up its failures.
func (f *failureWindow) Blocked(remoteAddr string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.recent(hostOf(remoteAddr), f.now())) >= f.limit
}

// Fail records a failed attempt from remoteAddr.
func (f *failureWindow) Fail(remoteAddr string) {
	host := hostOf(remoteAddr)
	now := f.now()

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, tracked := f.hosts[host]; !tracked && len(f.hosts) >= authFailHosts {
		f.evictStalest()
	}
	f.hosts[host] = append(f.recent(host, now), now)
}

// Reset forgets remoteAddr's failures after it authenticates.
func (f *failureWindow) Reset(remoteAddr string) {
	f.mu.Lock()
	delete(f.hosts, hostOf(remoteAddr))
	f.mu.Unlock()
}

// Tracked returns the number of hosts with failures on record.
func (f *failureWindow) Tracked() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.hosts)
}

func (f *failureWindow) evictStalest() {
	var stalest string
	var last time.Time
	for host, times := range f.hosts {
		t := times[len(times)-1]
		if stalest == "" || t.Before(last) {
			stalest, last = host, t
		}
	}
	delete(f.hosts, stalest)
}

func (f *failureWindow) sweep() {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.now()
	for host := range f.hosts {
		f.recent(host, now)
	}
}

// run sweeps expired failures every minute until ctx is done.
func (f *failureWindow) run(ctx context.Context) {
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			f.sweep()
		}
	}
}

package crawl

import "sync"

// breakerThreshold is the number of consecutive failures after which a host
// is paused for the remainder of the run.
const breakerThreshold = 3

// hostBreaker pauses fetches from hosts that fail repeatedly.
type hostBreaker struct {
	mu          sync.Mutex
	consecutive map[string]int
	paused      map[string]bool
}

func newHostBreaker() *hostBreaker {
	return &hostBreaker{
		consecutive: make(map[string]int),
		paused:      make(map[string]bool),
	}
}

// Allow reports whether fetches from host may proceed.
func (b *hostBreaker) Allow(host string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.paused[host]
}

// Failure records a fetch failure; the host pauses at the threshold.
func (b *hostBreaker) Failure(host string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutive[host]++
	if b.consecutive[host] >= breakerThreshold {
		b.paused[host] = true
	}
}

// Success resets the consecutive-failure count for host.
func (b *hostBreaker) Success(host string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutive[host] = 0
}

// PausedHosts returns hosts paused during the run, for the limitations report.
func (b *hostBreaker) PausedHosts() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var hosts []string
	for h, p := range b.paused {
		if p {
			hosts = append(hosts, h)
		}
	}
	return hosts
}

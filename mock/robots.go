package mock

import (
	"time"

	"github.com/fwojciec/fetchgate"
)

var _ fetchgate.RobotsPolicy = (*RobotsPolicy)(nil)

// RobotsPolicy is a mock implementation of fetchgate.RobotsPolicy.
type RobotsPolicy struct {
	CrawlDelayFn func(host string) (time.Duration, bool)
}

func (p *RobotsPolicy) CrawlDelay(host string) (time.Duration, bool) {
	return p.CrawlDelayFn(host)
}

// StaticRobots is a RobotsPolicy backed by a fixed host→delay table,
// convenient in tests and the simulator.
type StaticRobots map[string]time.Duration

var _ fetchgate.RobotsPolicy = (StaticRobots)(nil)

func (p StaticRobots) CrawlDelay(host string) (time.Duration, bool) {
	d, ok := p[host]
	return d, ok
}

package metrics

import (
	"time"

	"github.com/cuemby/hyperwatch/pkg/datastore"
)

// LeaderChecker reports whether this replica currently holds leadership in
// an optional pkg/cluster.Election. Declared here rather than imported to
// avoid a cycle (pkg/cluster keeps the same kind of distance from
// pkg/executor).
type LeaderChecker interface {
	IsLeader() bool
}

// Collector periodically samples the datastore and an optional leader
// election so gauge metrics stay current without every call site having to
// know about Prometheus.
type Collector struct {
	store  *datastore.Datastore
	leader LeaderChecker
	stopCh chan struct{}
}

// NewCollector builds a Collector. leader may be nil when the engine isn't
// running under Raft-backed election (oneshot or single-replica mode).
func NewCollector(store *datastore.Datastore, leader LeaderChecker) *Collector {
	return &Collector{
		store:  store,
		leader: leader,
		stopCh: make(chan struct{}),
	}
}

// Start begins the periodic sample loop in a background goroutine.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop ends the sample loop.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectConsumers()
	c.collectLeadership()
}

func (c *Collector) collectConsumers() {
	raw := c.store.Get(datastore.ConsumersKey, nil)
	consumers, ok := raw.(datastore.Consumers)
	if !ok {
		return
	}

	total := 0
	for _, hosts := range consumers {
		if len(hosts) > 0 {
			total++
		}
	}
	ConsumersTotal.Set(float64(total))
}

func (c *Collector) collectLeadership() {
	if c.leader == nil {
		return
	}
	if c.leader.IsLeader() {
		RaftIsLeader.Set(1)
	} else {
		RaftIsLeader.Set(0)
	}
}

package queue

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// BrokerMonitor owns the process-wide view of broker health. It pings the
// broker on an interval and flips the availability flag on connect and
// disconnect, so submission can pick queued or direct mode per call.
type BrokerMonitor struct {
	client    *redis.Client
	interval  time.Duration
	logger    *log.Logger
	available atomic.Bool
}

func NewBrokerMonitor(client *redis.Client, interval time.Duration, logger *log.Logger) *BrokerMonitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &BrokerMonitor{
		client:   client,
		interval: interval,
		logger:   logger,
	}
}

// Available reports whether the broker was reachable at the last check.
// A nil client means the broker was never configured.
func (m *BrokerMonitor) Available() bool {
	return m != nil && m.client != nil && m.available.Load()
}

// Start probes once synchronously, then keeps probing until ctx is done.
func (m *BrokerMonitor) Start(ctx context.Context) {
	if m.client == nil {
		return
	}
	m.probe(ctx)

	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.probe(ctx)
			}
		}
	}()
}

func (m *BrokerMonitor) probe(ctx context.Context) {
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	err := m.client.Ping(pingCtx).Err()
	was := m.available.Swap(err == nil)
	if m.logger == nil {
		return
	}
	if err != nil && was {
		m.logger.Printf("broker unavailable, submissions fall back to direct mode: %v", err)
	}
	if err == nil && !was {
		m.logger.Printf("broker available, submissions use queued mode")
	}
}

package metrics

import (
	"context"
	"time"

	"github.com/cuemby/modlog/pkg/log"
)

// Source reports the sizes sampled by the Collector
type Source interface {
	Total(ctx context.Context) (int, error)
	ArchiveCount() (int, error)
}

// Collector samples store and backup gauges on an interval
type Collector struct {
	source   Source
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(source Source, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		source:   source,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		defer close(c.doneCh)
		defer ticker.Stop()

		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				return
			}
		}
	}()
}

// Stop stops the collector and waits for the loop to exit
func (c *Collector) Stop() {
	close(c.stopCh)
	<-c.doneCh
}

func (c *Collector) collect() {
	logger := log.WithComponent("metrics")
	ctx, cancel := context.WithTimeout(context.Background(), c.interval)
	defer cancel()

	if n, err := c.source.Total(ctx); err != nil {
		logger.Warn().Err(err).Msg("Failed to count log entries")
	} else {
		LogEntries.Set(float64(n))
	}

	if n, err := c.source.ArchiveCount(); err != nil {
		logger.Warn().Err(err).Msg("Failed to count backup archives")
	} else {
		BackupArchives.Set(float64(n))
	}
}

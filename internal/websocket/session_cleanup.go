package websocket

import (
	"time"

	"go.uber.org/zap"
)

// IdleReaper periodically closes relay clients that stopped sending audio.
type IdleReaper struct {
	hub         *Hub
	idleTimeout time.Duration
	interval    time.Duration
	logger      *zap.Logger
	stopChan    chan struct{}
}

// NewIdleReaper creates a reaper. interval defaults to a quarter of idleTimeout.
func NewIdleReaper(hub *Hub, idleTimeout, interval time.Duration, logger *zap.Logger) *IdleReaper {
	if interval <= 0 {
		interval = idleTimeout / 4
	}
	return &IdleReaper{
		hub:         hub,
		idleTimeout: idleTimeout,
		interval:    interval,
		logger:      logger,
		stopChan:    make(chan struct{}),
	}
}

// Start begins the background sweep.
func (r *IdleReaper) Start() {
	go r.reapLoop()
	r.logger.Info("Idle reaper started",
		zap.Duration("idleTimeout", r.idleTimeout),
		zap.Duration("interval", r.interval))
}

// Stop ends the sweep.
func (r *IdleReaper) Stop() {
	close(r.stopChan)
	r.logger.Info("Idle reaper stopped")
}

func (r *IdleReaper) reapLoop() {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopChan:
			return
		case now := <-ticker.C:
			if closed := r.hub.CloseIdle(now, r.idleTimeout); closed > 0 {
				r.logger.Info("Closed idle relay clients", zap.Int("closed", closed))
			}
		}
	}
}

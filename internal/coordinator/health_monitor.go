// Package coordinator implements the leader-side bookkeeping of the server fleet.
// This file implements expiry of stale server statuses.
package coordinator

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/dreamware/lettermatch/internal/cluster"
)

// HealthMonitor periodically drops servers that stopped answering the
// leader's heartbeats from a Registry.
// Thread-safe: All methods are safe for concurrent access.
type HealthMonitor struct {
	registry    *Registry
	onUnhealthy func(serverID cluster.PeerID) // Called once per expired server
	ctx         context.Context               // Context for cancellation
	cancel      context.CancelFunc            // Cancel function for shutdown
	interval    time.Duration                 // How often to sweep the registry
	mu          sync.Mutex                    // Protects onUnhealthy
	wg          sync.WaitGroup                // Wait group for graceful shutdown
}

// NewHealthMonitor creates a monitor that sweeps registry every interval.
//
// Example:
//
//	monitor := NewHealthMonitor(registry, 500*time.Millisecond)
//	go monitor.Start(ctx)
func NewHealthMonitor(registry *Registry, interval time.Duration) *HealthMonitor {
	ctx, cancel := context.WithCancel(context.Background())
	return &HealthMonitor{
		registry: registry,
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// SetOnUnhealthy sets the callback invoked for each server whose status
// expired. The callback runs on the monitor goroutine.
func (h *HealthMonitor) SetOnUnhealthy(callback func(serverID cluster.PeerID)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onUnhealthy = callback
}

// Start sweeps the registry until ctx or the monitor is stopped.
// This method blocks.
func (h *HealthMonitor) Start(ctx context.Context) {
	h.wg.Add(1)
	defer h.wg.Done()

	if ctx == nil {
		ctx = h.ctx
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.sweep()
		case <-ctx.Done():
			return
		case <-h.ctx.Done():
			return
		}
	}
}

// Stop cancels the sweep loop and waits for it to return.
func (h *HealthMonitor) Stop() {
	h.cancel()
	h.wg.Wait()
}

func (h *HealthMonitor) sweep() {
	expired := h.registry.Expire()
	if len(expired) == 0 {
		return
	}

	h.mu.Lock()
	callback := h.onUnhealthy
	h.mu.Unlock()

	for _, id := range expired {
		log.Printf("Server %s stopped answering heartbeats, dropping its status", id.Short())
		if callback != nil {
			callback(id)
		}
	}
}

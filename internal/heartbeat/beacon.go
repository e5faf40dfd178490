package heartbeat

import (
	"context"
	"log"
	"sync"
	"time"
)

// BeaconStats counts emissions.
type BeaconStats struct {
	Sent     int       `json:"sent"`
	Failed   int       `json:"failed"`
	LastSent time.Time `json:"last_sent"`
}

// Beacon calls an emit function at a fixed interval.
// Thread-safe: Stats may be called while the beacon runs.
type Beacon struct {
	name     string
	interval time.Duration
	emit     func() error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	stats   BeaconStats
	failing bool
}

// NewBeacon creates a beacon that calls emit every interval once started.
//
// Example:
//
//	b := NewBeacon("match", 500*time.Millisecond, tr.SendHeartbeat)
//	go b.Start(ctx)
//	defer b.Stop()
func NewBeacon(name string, interval time.Duration, emit func() error) *Beacon {
	ctx, cancel := context.WithCancel(context.Background())
	return &Beacon{
		name:     name,
		interval: interval,
		emit:     emit,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start emits immediately and then on every tick. It blocks until ctx is
// done or Stop is called.
func (b *Beacon) Start(ctx context.Context) {
	b.wg.Add(1)
	defer b.wg.Done()

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	b.tick()
	for {
		select {
		case <-ticker.C:
			b.tick()
		case <-ctx.Done():
			return
		case <-b.ctx.Done():
			return
		}
	}
}

// Stop ends Start and waits for it to return.
func (b *Beacon) Stop() {
	b.cancel()
	b.wg.Wait()
}

// Stats returns emit counters since the beacon was created.
func (b *Beacon) Stats() BeaconStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// tick emits once. Failures are logged when they start and when they end,
// not on every tick.
func (b *Beacon) tick() {
	err := b.emit()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.stats.Failed++
		if !b.failing {
			log.Printf("beacon[%s]: emit failed: %v", b.name, err)
		}
		b.failing = true
		return
	}
	if b.failing {
		log.Printf("beacon[%s]: emitting again", b.name)
	}
	b.failing = false
	b.stats.Sent++
	b.stats.LastSent = time.Now()
}

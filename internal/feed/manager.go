package feed

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/credo/carbon-engine/internal/model"
)

const defaultSubscriberBuf = 64

// Manager fans out ticks to subscribers and keeps the latest tick per asset.
type Manager struct {
	source  Source
	assets  []string
	limiter *rate.Limiter

	mu          sync.RWMutex
	last        map[string]model.Tick
	subscribers map[int64]*subscriber

	nextSubID int64
	dropped   atomic.Int64
	skipped   atomic.Int64
}

type subscriber struct {
	ch chan model.Tick
	// lossy subscribers lose their oldest buffered tick instead of being
	// disconnected when full.
	lossy bool
}

// NewManager wires src into a tick cache. maxPerSecond <= 0 disables
// throttling; otherwise ticks above the rate are dropped.
func NewManager(src Source, assets []string, maxPerSecond float64) *Manager {
	m := &Manager{
		source:      src,
		assets:      assets,
		last:        make(map[string]model.Tick),
		subscribers: make(map[int64]*subscriber),
	}
	if maxPerSecond > 0 {
		burst := int(maxPerSecond)
		if burst < len(assets) {
			burst = len(assets)
		}
		if burst < 1 {
			burst = 1
		}
		m.limiter = rate.NewLimiter(rate.Limit(maxPerSecond), burst)
	}
	return m
}

// Start launches the streaming loop in a goroutine. Subscribers' channels are
// closed when the source stops.
func (m *Manager) Start(ctx context.Context) {
	if m.source == nil {
		return
	}
	go func() {
		err := m.source.Run(ctx, m.assets, m.Publish)
		if err != nil && ctx.Err() == nil {
			slog.Error("price source stopped", "err", err)
		} else {
			slog.Info("price source finished")
		}
		m.closeAll()
	}()
}

// Subscribe registers a buffered channel that receives ticks. A subscriber
// that falls a full buffer behind is disconnected and its channel closed.
func (m *Manager) Subscribe(buffer int) (int64, <-chan model.Tick) {
	return m.subscribe(buffer, false)
}

// SubscribeLatest registers a subscriber that is never disconnected for being
// slow: when its buffer is full the oldest buffered tick is discarded to make
// room. The channel is closed only by Unsubscribe or when the source stops.
func (m *Manager) SubscribeLatest(buffer int) (int64, <-chan model.Tick) {
	return m.subscribe(buffer, true)
}

func (m *Manager) subscribe(buffer int, lossy bool) (int64, <-chan model.Tick) {
	if buffer <= 0 {
		buffer = defaultSubscriberBuf
	}
	sub := &subscriber{ch: make(chan model.Tick, buffer), lossy: lossy}
	id := atomic.AddInt64(&m.nextSubID, 1)

	m.mu.Lock()
	m.subscribers[id] = sub
	m.mu.Unlock()
	return id, sub.ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (m *Manager) Unsubscribe(id int64) {
	m.mu.Lock()
	if sub, ok := m.subscribers[id]; ok {
		delete(m.subscribers, id)
		close(sub.ch)
	}
	m.mu.Unlock()
}

// Latest returns the most recent tick for an asset.
func (m *Manager) Latest(assetID string) (model.Tick, bool) {
	m.mu.RLock()
	t, ok := m.last[assetID]
	m.mu.RUnlock()
	return t, ok
}

// Dropped is the number of ticks discarded by the rate limiter.
func (m *Manager) Dropped() int64 { return m.dropped.Load() }

// Skipped is the number of buffered ticks discarded for lagging
// SubscribeLatest subscribers.
func (m *Manager) Skipped() int64 { return m.skipped.Load() }

// Publish caches t and delivers it to every subscriber. A full Subscribe
// channel is closed and removed; a full SubscribeLatest channel loses its
// oldest tick.
func (m *Manager) Publish(t model.Tick) {
	if t.AssetID == "" {
		return
	}
	if m.limiter != nil && !m.limiter.Allow() {
		m.dropped.Add(1)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.last[t.AssetID] = t
	for id, sub := range m.subscribers {
		select {
		case sub.ch <- t:
			continue
		default:
		}
		if !sub.lossy {
			slog.Warn("dropping slow price subscriber", "subscriber", id, "asset_id", t.AssetID)
			close(sub.ch)
			delete(m.subscribers, id)
			continue
		}
		// Publish holds m.mu, so nothing else sends on sub.ch between the
		// receive and the send.
		select {
		case <-sub.ch:
			m.skipped.Add(1)
		default:
		}
		select {
		case sub.ch <- t:
		default:
			m.skipped.Add(1)
		}
	}
}

func (m *Manager) closeAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, sub := range m.subscribers {
		close(sub.ch)
		delete(m.subscribers, id)
	}
}

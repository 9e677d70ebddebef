package transport

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	memorySweepInterval = 30 * time.Second
	memoryBufferSize    = 16
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// Memory is an in-process Bus. Keys expire lazily on read plus a periodic
// sweep; published messages fan out to buffered subscriber channels and are
// dropped when a subscriber's buffer is full.
type Memory struct {
	mu          sync.RWMutex
	entries     map[string]memoryEntry
	subscribers map[string]map[*memorySubscription]struct{}
	done        chan struct{}
	closeOnce   sync.Once
	now         func() time.Time
}

// NewMemory creates an in-memory bus and starts its expiry sweeper.
func NewMemory() *Memory {
	m := &Memory{
		entries:     make(map[string]memoryEntry),
		subscribers: make(map[string]map[*memorySubscription]struct{}),
		done:        make(chan struct{}),
		now:         time.Now,
	}

	go m.sweepLoop()
	return m
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok || m.now().After(entry.expiresAt) {
		return nil, ErrKeyNotFound
	}

	value := make([]byte, len(entry.value))
	copy(value, entry.value)
	return value, nil
}

func (m *Memory) SetTTL(_ context.Context, key string, value []byte, ttl time.Duration) error {
	stored := make([]byte, len(value))
	copy(stored, value)

	m.mu.Lock()
	m.entries[key] = memoryEntry{value: stored, expiresAt: m.now().Add(ttl)}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Expire(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok || m.now().After(entry.expiresAt) {
		delete(m.entries, key)
		return ErrKeyNotFound
	}

	entry.expiresAt = m.now().Add(ttl)
	m.entries[key] = entry
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Publish(_ context.Context, channel string, payload []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for sub := range m.subscribers[channel] {
		select {
		case sub.ch <- payload:
		default:
			log.Warn().Str("channel", channel).Msg("Dropping message for slow subscriber")
		}
	}

	return nil
}

func (m *Memory) Subscribe(_ context.Context, channel string) (Subscription, error) {
	sub := &memorySubscription{
		bus:     m,
		channel: channel,
		ch:      make(chan []byte, memoryBufferSize),
	}

	m.mu.Lock()
	if m.subscribers[channel] == nil {
		m.subscribers[channel] = make(map[*memorySubscription]struct{})
	}
	m.subscribers[channel][sub] = struct{}{}
	m.mu.Unlock()

	return sub, nil
}

// Close stops the sweeper and closes every subscription.
func (m *Memory) Close() error {
	m.closeOnce.Do(func() {
		close(m.done)

		m.mu.Lock()
		for _, subs := range m.subscribers {
			for sub := range subs {
				close(sub.ch)
			}
		}
		m.subscribers = make(map[string]map[*memorySubscription]struct{})
		m.mu.Unlock()
	})
	return nil
}

func (m *Memory) sweepLoop() {
	ticker := time.NewTicker(memorySweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Memory) sweep() {
	now := m.now()

	m.mu.Lock()
	for key, entry := range m.entries {
		if now.After(entry.expiresAt) {
			delete(m.entries, key)
		}
	}
	m.mu.Unlock()
}

type memorySubscription struct {
	bus       *Memory
	channel   string
	ch        chan []byte
	closeOnce sync.Once
}

func (s *memorySubscription) C() <-chan []byte {
	return s.ch
}

func (s *memorySubscription) Close() error {
	s.closeOnce.Do(func() {
		s.bus.mu.Lock()
		if subs, ok := s.bus.subscribers[s.channel]; ok {
			if _, present := subs[s]; present {
				delete(subs, s)
				close(s.ch)
			}
			if len(subs) == 0 {
				delete(s.bus.subscribers, s.channel)
			}
		}
		s.bus.mu.Unlock()
	})
	return nil
}

// Package queue holds accepted, spooled messages in named queues and hands
// them to a delivery provider.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/shineum/inbound-mta/internal/message"
	"github.com/shineum/inbound-mta/internal/provider"
)

// ErrEmptyQueueName is returned by Insert for an empty queue name.
var ErrEmptyQueueName = errors.New("empty queue name")

var (
	metricInserted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inbound_queue_inserted_total",
			Help: "Messages inserted into a queue, including those recovered from the spool.",
		},
	)
	metricDispatch = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbound_queue_dispatch_total",
			Help: "Messages handed to the delivery provider. Result values: delivered, error.",
		},
		[]string{"result"},
	)
)

// Spool is the part of the spool the manager needs after delivery.
type Spool interface {
	Remove(ctx context.Context, id string) error
}

// Manager schedules queued messages for delivery.
type Manager struct {
	provider provider.Provider
	spool    Spool

	// mu is the coordination lock; it is never held across delivery or spool I/O.
	mu     sync.Mutex
	queues map[string][]*message.Message
	wake   chan struct{}
}

// New returns a Manager delivering through p and removing delivered messages
// from spool.
func New(p provider.Provider, spool Spool) *Manager {
	return &Manager{
		provider: p,
		spool:    spool,
		queues:   make(map[string][]*message.Message),
		wake:     make(chan struct{}, 1),
	}
}

// Insert appends msg to the named queue and wakes the dispatcher. The message
// must already be persisted.
func (m *Manager) Insert(_ context.Context, name string, msg *message.Message) error {
	if name == "" {
		return ErrEmptyQueueName
	}

	m.mu.Lock()
	m.queues[name] = append(m.queues[name], msg)
	m.mu.Unlock()

	metricInserted.Inc()
	slog.Debug("message queued", "queue", name, "id", msg.ID())

	select {
	case m.wake <- struct{}{}:
	default:
	}
	return nil
}

// Len returns the number of messages waiting in the named queue.
func (m *Manager) Len(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queues[name])
}

// Run dispatches queued messages until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.wake:
			m.drain(ctx)
		}
	}
}

// drain takes every queued message and delivers it, queues in name order.
// A failed delivery leaves the message in the spool, so it is picked up again
// by recovery on the next start.
func (m *Manager) drain(ctx context.Context) {
	m.mu.Lock()
	queues := m.queues
	m.queues = make(map[string][]*message.Message)
	m.mu.Unlock()

	for _, name := range slices.Sorted(maps.Keys(queues)) {
		for _, msg := range queues[name] {
			if ctx.Err() != nil {
				return
			}
			log := slog.With("queue", name, "id", msg.ID(), "provider", m.provider.Name())

			if err := m.provider.Deliver(ctx, msg); err != nil {
				metricDispatch.WithLabelValues("error").Inc()
				log.Error("delivery failed, message stays spooled", "error", err)
				continue
			}
			metricDispatch.WithLabelValues("delivered").Inc()

			if err := m.spool.Remove(ctx, msg.ID()); err != nil {
				log.Error("failed to remove delivered message from spool", "error", err)
				continue
			}
			log.Info("message delivered")
		}
	}
}

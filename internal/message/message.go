// Package message defines the per-recipient message produced when a mail
// transaction completes.
package message

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"sync"

	"github.com/google/uuid"

	"github.com/shineum/inbound-mta/internal/address"
)

// QueueKey is the metadata key that overrides the destination queue.
const QueueKey = "queue"

// NullQueue is the queue name that discards a message without persisting it.
const NullQueue = "null"

// ErrQueueType is returned by QueueName when the "queue" metadata value is not a string.
var ErrQueueType = errors.New("queue metadata must be a string")

// Store is a keyed byte store, such as one of the spool's named stores.
type Store interface {
	Put(ctx context.Context, key string, value []byte) error
}

// Message is one accepted message for a single recipient. The body is shared
// with the other recipients of the same transaction and must not be modified.
type Message struct {
	id        string
	sender    address.Address
	recipient address.Address
	body      []byte

	mu   sync.Mutex
	meta map[string]any
}

// New creates a message with a fresh identifier. The metadata document is
// copied, the body is not.
func New(sender, recipient address.Address, meta map[string]any, body []byte) *Message {
	m := maps.Clone(meta)
	if m == nil {
		m = map[string]any{}
	}
	return &Message{
		id:        uuid.NewString(),
		sender:    sender,
		recipient: recipient,
		body:      body,
		meta:      m,
	}
}

// ID returns the stable message identifier.
func (m *Message) ID() string { return m.id }

// Sender returns the envelope sender.
func (m *Message) Sender() address.Address { return m.sender }

// Recipient returns the envelope recipient.
func (m *Message) Recipient() address.Address { return m.recipient }

// Body returns the raw message content as received after DATA.
func (m *Message) Body() []byte { return m.body }

// Meta returns the metadata value stored under key.
func (m *Message) Meta(key string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.meta[key]
	return v, ok
}

// SetMeta stores a metadata value. Policy hooks use this to route messages.
func (m *Message) SetMeta(key string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.meta[key] = value
}

// QueueName resolves the destination queue: the "queue" metadata string if
// present, otherwise the recipient's domain.
func (m *Message) QueueName() (string, error) {
	v, ok := m.Meta(QueueKey)
	if !ok {
		return m.recipient.Domain(), nil
	}
	name, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("message %s: %w, got %T", m.id, ErrQueueType, v)
	}
	return name, nil
}

// record is the persisted form of a message's metadata.
type record struct {
	Sender    string         `json:"sender"`
	Recipient string         `json:"recipient"`
	Meta      map[string]any `json:"meta"`
}

// Save writes the metadata record to meta and the body to data, both keyed by ID.
func (m *Message) Save(ctx context.Context, meta, data Store) error {
	m.mu.Lock()
	rec := record{
		Sender:    m.sender.String(),
		Recipient: m.recipient.String(),
		Meta:      maps.Clone(m.meta),
	}
	m.mu.Unlock()

	buf, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode metadata for %s: %w", m.id, err)
	}

	// Metadata last: spool recovery enumerates metadata records.
	if err := data.Put(ctx, m.id, m.body); err != nil {
		return fmt.Errorf("failed to save body for %s: %w", m.id, err)
	}
	if err := meta.Put(ctx, m.id, buf); err != nil {
		return fmt.Errorf("failed to save metadata for %s: %w", m.id, err)
	}
	return nil
}

// Load reconstructs a message saved with Save.
func Load(id string, metaRecord, body []byte) (*Message, error) {
	var rec record
	if err := json.Unmarshal(metaRecord, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode metadata for %s: %w", id, err)
	}

	sender, err := address.Parse(rec.Sender)
	if err != nil {
		return nil, fmt.Errorf("message %s: sender: %w", id, err)
	}
	recipient, err := address.Parse(rec.Recipient)
	if err != nil {
		return nil, fmt.Errorf("message %s: recipient: %w", id, err)
	}

	meta := rec.Meta
	if meta == nil {
		meta = map[string]any{}
	}

	return &Message{
		id:        id,
		sender:    sender,
		recipient: recipient,
		body:      body,
		meta:      meta,
	}, nil
}

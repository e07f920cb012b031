package smtp

import (
	"context"
	"fmt"

	"github.com/shineum/inbound-mta/internal/message"
	"github.com/shineum/inbound-mta/internal/policy"
	"github.com/shineum/inbound-mta/internal/spool"
)

type queued struct {
	name string
	msg  *message.Message
}

// fanOut creates one message per recipient, runs the message_received hook
// on each, persists the accepted ones and queues them. A rejection only
// affects its own recipient and is reported to the client straight away.
// It returns the identifiers of the accepted messages in recipient order.
// On error, spooled messages not yet queued are removed again.
func (s *Session) fanOut(ctx context.Context, txn *transaction, body []byte) (ids []string, err error) {
	var (
		pending []queued
		handed  int
	)
	defer func() {
		if err != nil {
			s.discard(ctx, pending[handed:])
		}
	}()

	for _, rcpt := range txn.recipients {
		msg := message.New(txn.sender, rcpt, txn.meta, body)

		rej, err := s.config.Policy.Invoke(ctx, policy.HookMessageReceived, msg)
		if err != nil {
			return nil, err
		}
		if rej != nil {
			metricMessages.WithLabelValues("rejected").Inc()
			if err := s.reject(policy.HookMessageReceived, rej); err != nil {
				return nil, err
			}
			continue
		}
		ids = append(ids, msg.ID())

		name, err := msg.QueueName()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve queue for %s: %w", msg.ID(), err)
		}
		if name == message.NullQueue {
			metricMessages.WithLabelValues("discarded").Inc()
			s.log.Debug("discarding message", "id", msg.ID(), "recipient", rcpt.String())
			continue
		}

		pending = append(pending, queued{name: name, msg: msg})
		if err := s.save(ctx, msg); err != nil {
			return nil, err
		}
	}

	for _, q := range pending {
		if err := s.config.Queue.Insert(ctx, q.name, q.msg); err != nil {
			return nil, fmt.Errorf("failed to queue %s: %w", q.msg.ID(), err)
		}
		handed++
		metricMessages.WithLabelValues("queued").Inc()
	}
	return ids, nil
}

// discard removes messages from the spool so recovery does not deliver them.
func (s *Session) discard(ctx context.Context, msgs []queued) {
	ctx = context.WithoutCancel(ctx)
	for _, q := range msgs {
		if err := s.config.Spool.Remove(ctx, q.msg.ID()); err != nil {
			s.log.Error("failed to remove unqueued message from spool", "id", q.msg.ID(), "error", err)
		}
	}
}

func (s *Session) save(ctx context.Context, msg *message.Message) error {
	meta, err := s.config.Spool.Store(spool.MetaStore)
	if err != nil {
		return err
	}
	data, err := s.config.Spool.Store(spool.DataStore)
	if err != nil {
		return err
	}
	if err := msg.Save(ctx, meta, data); err != nil {
		return fmt.Errorf("failed to spool %s: %w", msg.ID(), err)
	}
	return nil
}

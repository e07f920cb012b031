package spool

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/shineum/inbound-mta/internal/address"
	"github.com/shineum/inbound-mta/internal/message"
)

func openTestSpool(t *testing.T) (*Spool, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "spool.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s, path
}

func saveMessage(t *testing.T, s *Spool, rcpt string) *message.Message {
	t.Helper()
	to, err := address.Parse(rcpt)
	if err != nil {
		t.Fatalf("parse %q: %v", rcpt, err)
	}
	msg := message.New(address.NullSender(), to, map[string]any{"queue": "bounces"}, []byte("body\r\n"))

	meta, err := s.Store(MetaStore)
	if err != nil {
		t.Fatalf("Store(meta): %v", err)
	}
	data, err := s.Store(DataStore)
	if err != nil {
		t.Fatalf("Store(data): %v", err)
	}
	if err := msg.Save(context.Background(), meta, data); err != nil {
		t.Fatalf("Save: %v", err)
	}
	return msg
}

func TestStore_UnknownName(t *testing.T) {
	t.Parallel()

	s, _ := openTestSpool(t)
	defer s.Close()

	if _, err := s.Store("nope"); !errors.Is(err, ErrUnknownStore) {
		t.Errorf("got %v, want ErrUnknownStore", err)
	}
}

func TestStore_PutGet(t *testing.T) {
	t.Parallel()

	s, _ := openTestSpool(t)
	defer s.Close()

	st, _ := s.store(DataStore)
	ctx := context.Background()
	if err := st.Put(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := st.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "v" {
		t.Errorf("Get: got %q, want %q", got, "v")
	}
	if got, _ := st.Get(ctx, "missing"); got != nil {
		t.Errorf("Get(missing): got %q, want nil", got)
	}
}

func TestStart_RecoversAfterReopen(t *testing.T) {
	t.Parallel()

	s, path := openTestSpool(t)
	saved := saveMessage(t, s, "user@example.com")
	if s.Started() {
		t.Error("Started: got true before Start")
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	var recovered []*message.Message
	err = s.Start(context.Background(), func(m *message.Message) error {
		recovered = append(recovered, m)
		return nil
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !s.Started() {
		t.Error("Started: got false after Start")
	}

	if len(recovered) != 1 {
		t.Fatalf("recovered %d messages, want 1", len(recovered))
	}
	m := recovered[0]
	if m.ID() != saved.ID() {
		t.Errorf("ID: got %q, want %q", m.ID(), saved.ID())
	}
	if string(m.Body()) != "body\r\n" {
		t.Errorf("Body: got %q", m.Body())
	}
	if q, _ := m.QueueName(); q != "bounces" {
		t.Errorf("QueueName: got %q, want %q", q, "bounces")
	}
}

func TestStart_CallbackError(t *testing.T) {
	t.Parallel()

	s, _ := openTestSpool(t)
	defer s.Close()
	saveMessage(t, s, "user@example.com")

	boom := errors.New("queue unavailable")
	err := s.Start(context.Background(), func(*message.Message) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want wrapped callback error", err)
	}
	if s.Started() {
		t.Error("Started: got true after failed Start")
	}
}

func TestStart_SkipsCorruptRecords(t *testing.T) {
	t.Parallel()

	s, _ := openTestSpool(t)
	defer s.Close()

	meta, _ := s.Store(MetaStore)
	if err := meta.Put(context.Background(), "orphan", []byte(`{"sender":"","recipient":"a@b.example"}`)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	calls := 0
	if err := s.Start(context.Background(), func(*message.Message) error { calls++; return nil }); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if calls != 0 {
		t.Errorf("recovered %d messages, want 0", calls)
	}
	if !s.Started() {
		t.Error("Started: got false after Start")
	}
}

func TestRemove(t *testing.T) {
	t.Parallel()

	s, _ := openTestSpool(t)
	defer s.Close()
	msg := saveMessage(t, s, "user@example.com")

	ctx := context.Background()
	if err := s.Remove(ctx, msg.ID()); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	for _, name := range []string{MetaStore, DataStore} {
		st, _ := s.store(name)
		if v, _ := st.Get(ctx, msg.ID()); v != nil {
			t.Errorf("%s still holds %s", name, msg.ID())
		}
	}
}

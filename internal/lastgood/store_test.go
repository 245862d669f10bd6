package lastgood

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryStorePutGet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.Put(ctx, "pulse", "Bengaluru", []byte(`{"traffic_score":70}`)); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	snap, err := s.Get(ctx, "pulse", "Bengaluru")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(snap.Payload) != `{"traffic_score":70}` {
		t.Errorf("Payload = %s", snap.Payload)
	}
	if snap.SavedAt.IsZero() {
		t.Error("SavedAt not set")
	}
}

func TestMemoryStoreCityCaseInsensitive(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.Put(ctx, "pulse", "  Bengaluru ", []byte(`{}`)); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if _, err := s.Get(ctx, "pulse", "BENGALURU"); err != nil {
		t.Errorf("Get() with different case error = %v", err)
	}
}

func TestMemoryStoreNotFound(t *testing.T) {
	s := NewMemoryStore()

	_, err := s.Get(context.Background(), "pulse", "Mumbai")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreOverwrite(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_ = s.Put(ctx, "pulse", "Delhi", []byte(`{"v":1}`))
	_ = s.Put(ctx, "pulse", "Delhi", []byte(`{"v":2}`))

	snap, err := s.Get(ctx, "pulse", "Delhi")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(snap.Payload) != `{"v":2}` {
		t.Errorf("Payload = %s, want latest write", snap.Payload)
	}
}

func TestMemoryStoreIsolatesPayload(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	payload := []byte(`{"v":1}`)
	_ = s.Put(ctx, "pulse", "Delhi", payload)
	payload[2] = 'X'

	snap, _ := s.Get(ctx, "pulse", "Delhi")
	if string(snap.Payload) != `{"v":1}` {
		t.Errorf("Payload = %s, mutated through caller slice", snap.Payload)
	}
	snap.Payload[2] = 'Y'

	again, _ := s.Get(ctx, "pulse", "Delhi")
	if string(again.Payload) != `{"v":1}` {
		t.Errorf("Payload = %s, mutated through returned slice", again.Payload)
	}
}

func TestMemoryStoreSeparateFeatures(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_ = s.Put(ctx, "pulse", "Delhi", []byte(`{"kind":"pulse"}`))
	_ = s.Put(ctx, "explore", "Delhi", []byte(`{"kind":"explore"}`))

	snap, err := s.Get(ctx, "explore", "Delhi")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(snap.Payload) != `{"kind":"explore"}` {
		t.Errorf("Payload = %s, features not isolated", snap.Payload)
	}
}

package content

import (
	"sync"
	"testing"
	"time"
)

func TestManager_InitialState(t *testing.T) {
	m := NewManager()

	r, ok := m.Get()
	if ok || r != nil {
		t.Fatal("expected no revision on new manager")
	}
	if m.ContentRevision() != "" {
		t.Fatal("expected empty ContentRevision")
	}
	if !m.ResolvedAt().IsZero() {
		t.Fatal("expected zero ResolvedAt")
	}
	if m.ReadyErr() == nil {
		t.Fatal("expected ReadyErr before Set")
	}
}

func TestManager_SetAndGet(t *testing.T) {
	m := NewManager()
	m.Set(Revision{ID: "2024-06-01.3", Origin: OriginS3})

	r, ok := m.Get()
	if !ok {
		t.Fatal("expected Get to return true after Set")
	}
	if r.ID != "2024-06-01.3" || r.Origin != OriginS3 {
		t.Fatalf("got %+v", r)
	}
	if r.ResolvedAt.IsZero() {
		t.Fatal("ResolvedAt should default to now")
	}
	if m.ContentRevision() != "2024-06-01.3" {
		t.Fatalf("ContentRevision = %q", m.ContentRevision())
	}
	if err := m.ReadyErr(); err != nil {
		t.Fatalf("ReadyErr = %v", err)
	}
}

func TestManager_EmptyIDIsNotReady(t *testing.T) {
	m := NewManager()
	m.Set(Revision{})
	if _, ok := m.Get(); ok {
		t.Fatal("empty revision id should not count as active")
	}
	if r, _ := m.Get(); r.Origin != OriginUnknown {
		t.Fatalf("Origin = %q, want unknown", r.Origin)
	}
}

func TestManager_SetCopies(t *testing.T) {
	m := NewManager()
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	r := Revision{ID: "a", ResolvedAt: at}
	m.Set(r)
	r.ID = "mutated"

	if m.ContentRevision() != "a" {
		t.Fatal("caller mutation leaked into manager")
	}
	if !m.ResolvedAt().Equal(at) {
		t.Fatalf("ResolvedAt = %v, want %v", m.ResolvedAt(), at)
	}
}

func TestManager_ConcurrentAccess(t *testing.T) {
	m := NewManager()
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			m.Set(Revision{ID: string(rune('a' + i%26))})
		}()
		go func() {
			defer wg.Done()
			_ = m.ContentRevision()
			_, _ = m.Get()
		}()
	}
	wg.Wait()
	if _, ok := m.Get(); !ok {
		t.Fatal("expected an active revision")
	}
}

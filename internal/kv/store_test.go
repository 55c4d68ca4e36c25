package kv

import "testing"

func TestMemoryStoreGetMissing(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.Get("nope"); err != ErrKeyNotFound {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
}

func TestMemoryStorePutGetDelete(t *testing.T) {
	s := NewMemoryStore()

	if err := PutString(s, "server_ip", "192.168.1.10"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := GetString(s, "server_ip")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "192.168.1.10" {
		t.Errorf("got %q, want %q", got, "192.168.1.10")
	}

	if err := s.Delete("server_ip"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get("server_ip"); err != ErrKeyNotFound {
		t.Fatalf("expected ErrKeyNotFound after delete, got %v", err)
	}
}

func TestMemoryStoreListAndStats(t *testing.T) {
	s := NewMemoryStore()

	if keys := s.List(); len(keys) != 0 {
		t.Fatalf("List() on empty store = %v, want empty", keys)
	}
	if stats := s.Stats(); stats.Keys != 0 || stats.Bytes != 0 {
		t.Fatalf("Stats() on empty store = %+v, want zero", stats)
	}

	if err := s.Put("a", []byte{1, 2, 3}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Put("b", []byte{1, 2}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	keys := s.List()
	if len(keys) != 2 {
		t.Fatalf("List() = %v, want 2 keys", keys)
	}

	stats := s.Stats()
	if stats.Keys != 2 {
		t.Errorf("Stats().Keys = %d, want 2", stats.Keys)
	}
	if stats.Bytes != 5 {
		t.Errorf("Stats().Bytes = %d, want 5", stats.Bytes)
	}
}

func TestMemoryStoreValueIsolation(t *testing.T) {
	s := NewMemoryStore()
	original := []byte{1, 2, 3}
	if err := s.Put("k", original); err != nil {
		t.Fatalf("Put: %v", err)
	}
	original[0] = 0xFF // mutate caller's slice after storing

	got, err := s.Get("k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got[0] != 1 {
		t.Errorf("store aliased caller's slice: got %v", got)
	}
}

package events

import "testing"

func TestRingBuffer(t *testing.T) {
	store := NewStore(3)

	store.Add(EventRefresh, "", "", true, "first")
	store.Add(EventRefresh, "", "", true, "second")
	store.Add(EventRefresh, "", "", true, "third")
	store.Add(EventRefresh, "", "", true, "fourth")

	if store.Count() != 3 {
		t.Errorf("Expected 3 events, got %d", store.Count())
	}

	all := store.GetAll()
	if all[0].Details != "fourth" {
		t.Errorf("Expected newest first, got %q", all[0].Details)
	}
	if all[2].Details != "second" {
		t.Errorf("Expected oldest event dropped, got %q", all[2].Details)
	}

	// IDs keep growing even when the buffer wraps
	if store.LastID() != 4 {
		t.Errorf("Expected last ID 4, got %d", store.LastID())
	}
}

func TestGetLast(t *testing.T) {
	store := NewStore(10)
	store.Add(EventLogin, "admin", "10.0.0.1", true, "")
	store.Add(EventFiltrationMode, "admin", "10.0.0.1", true, "module 9 mode 2")

	last := store.GetLast(1)
	if len(last) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(last))
	}
	if last[0].Type != EventFiltrationMode {
		t.Errorf("Expected newest event, got %s", last[0].Type)
	}

	// Asking for more than stored returns everything
	if got := store.GetLast(50); len(got) != 2 {
		t.Errorf("Expected 2 events, got %d", len(got))
	}
}

func TestGetSince(t *testing.T) {
	store := NewStore(10)
	store.Add(EventRefresh, "", "", true, "a")
	store.Add(EventRefresh, "", "", true, "b")
	store.Add(EventRefreshFailed, "", "", false, "c")

	since := store.GetSince(1)
	if len(since) != 2 {
		t.Fatalf("Expected 2 events since ID 1, got %d", len(since))
	}
	if since[0].Details != "c" {
		t.Errorf("Expected newest first, got %q", since[0].Details)
	}

	if got := store.GetSince(store.LastID()); len(got) != 0 {
		t.Errorf("Expected no events past last ID, got %d", len(got))
	}
}

package storage

import "testing"

// NewMemForTest returns an in-memory Storage closed at test cleanup.
func NewMemForTest(t testing.TB) *Storage {
	t.Helper()

	s, err := NewMem()
	if err != nil {
		t.Fatalf("create in-memory storage: %v", err)
	}

	t.Cleanup(func() { s.Close() })

	return s
}

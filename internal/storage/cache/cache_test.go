package cache

import (
	"fmt"
	"testing"

	"github.com/xtxerr/metricstore/internal/errors"
	"github.com/xtxerr/metricstore/internal/storage/types"
)

// fakeWriter records close order into a shared log.
type fakeWriter struct {
	path     string
	closed   int
	closeErr error
	log      *[]string
}

func (w *fakeWriter) Write(types.Record) error { return nil }
func (w *fakeWriter) Path() string             { return w.path }
func (w *fakeWriter) Close() error {
	w.closed++
	if w.log != nil {
		*w.log = append(*w.log, w.path)
	}
	return w.closeErr
}

func newWriter(path string, log *[]string) *fakeWriter {
	return &fakeWriter{path: path, log: log}
}

func TestNewInvalidCapacity(t *testing.T) {
	for _, n := range []int{0, -1} {
		if _, err := New(n); !errors.Is(err, errors.ErrInvalidConfig) {
			t.Errorf("New(%d): expected invalid config, got %v", n, err)
		}
	}
}

func TestEvictsLeastRecentlyUsed(t *testing.T) {
	c, err := New(2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var closed []string
	a, b, d := newWriter("A", &closed), newWriter("B", &closed), newWriter("C", &closed)

	c.Put("A", a)
	c.Put("B", b)
	c.Put("C", d)

	if a.closed != 1 {
		t.Fatalf("expected A closed once, got %d", a.closed)
	}
	if b.closed != 0 || d.closed != 0 {
		t.Fatal("only A should be closed")
	}
	if c.Contains("A") {
		t.Error("A should no longer be cached")
	}
	if c.Len() != 2 {
		t.Errorf("expected 2 entries, got %d", c.Len())
	}
	if s := c.Stats(); s.Evictions != 1 {
		t.Errorf("expected 1 eviction, got %d", s.Evictions)
	}
}

func TestGetRefreshesRecency(t *testing.T) {
	c, _ := New(2)

	var closed []string
	c.Put("A", newWriter("A", &closed))
	c.Put("B", newWriter("B", &closed))

	if _, ok := c.Get("A"); !ok {
		t.Fatal("expected A")
	}
	c.Put("C", newWriter("C", &closed))

	if len(closed) != 1 || closed[0] != "B" {
		t.Fatalf("expected B evicted, closed = %v", closed)
	}
	if got := c.Keys(); fmt.Sprint(got) != "[A C]" {
		t.Errorf("expected keys [A C], got %v", got)
	}
}

func TestContainsDoesNotTouch(t *testing.T) {
	c, _ := New(2)

	var closed []string
	c.Put("A", newWriter("A", &closed))
	c.Put("B", newWriter("B", &closed))
	c.Contains("A")
	c.Put("C", newWriter("C", &closed))

	if len(closed) != 1 || closed[0] != "A" {
		t.Fatalf("expected A evicted, closed = %v", closed)
	}
}

func TestEvictionCloseFailureIsNotFatal(t *testing.T) {
	c, _ := New(1)

	bad := newWriter("A", nil)
	bad.closeErr = fmt.Errorf("disk full")
	c.Put("A", bad)
	c.Put("B", newWriter("B", nil))

	if c.Contains("A") {
		t.Error("A must be evicted despite close failure")
	}
	if _, ok := c.Get("B"); !ok {
		t.Error("B must be cached")
	}
	if s := c.Stats(); s.CloseFailures != 1 {
		t.Errorf("expected 1 close failure, got %d", s.CloseFailures)
	}
}

func TestPutSamePathReplacesWriter(t *testing.T) {
	c, _ := New(2)

	first, second := newWriter("A", nil), newWriter("A", nil)
	c.Put("A", first)
	c.Put("A", second)

	if first.closed != 1 {
		t.Error("replaced writer must be closed")
	}
	if w, _ := c.Get("A"); w != second {
		t.Error("expected second writer")
	}
	if c.Len() != 1 {
		t.Errorf("expected 1 entry, got %d", c.Len())
	}

	// Re-putting the same writer only refreshes it.
	c.Put("A", second)
	if second.closed != 0 {
		t.Error("same writer must not be closed")
	}
}

func TestRemove(t *testing.T) {
	c, _ := New(2)

	w := newWriter("A", nil)
	w.closeErr = fmt.Errorf("flush failed")
	c.Put("A", w)

	if err := c.Remove("A"); err == nil {
		t.Error("expected close error from Remove")
	}
	if w.closed != 1 {
		t.Errorf("expected writer closed once, got %d", w.closed)
	}
	if err := c.Remove("A"); err != nil {
		t.Errorf("removing absent path: %v", err)
	}
}

func TestClose(t *testing.T) {
	c, _ := New(3)

	var closed []string
	a, b, d := newWriter("A", &closed), newWriter("B", &closed), newWriter("C", &closed)
	b.closeErr = fmt.Errorf("io error")
	c.Put("A", a)
	c.Put("B", b)
	c.Put("C", d)

	err := c.Close()
	if err == nil {
		t.Fatal("expected joined close error")
	}
	if len(closed) != 3 {
		t.Errorf("all writers must be closed, got %v", closed)
	}
	if c.Len() != 0 {
		t.Errorf("expected empty cache, got %d", c.Len())
	}

	if err := c.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if a.closed != 1 {
		t.Errorf("writer closed %d times", a.closed)
	}
}

func TestCloseEmpty(t *testing.T) {
	c, _ := New(1)
	if err := c.Close(); err != nil {
		t.Errorf("Close on empty cache: %v", err)
	}
}

package embedding

import (
	"testing"
)

func TestEmbeddingCache_GetSet(t *testing.T) {
	c := NewEmbeddingCache(2)
	if v, ok := c.Get("a"); ok || v != nil {
		t.Fatal("expected miss")
	}
	c.Set("a", []float32{1, 2, 3})
	v, ok := c.Get("a")
	if !ok || len(v) != 3 || v[0] != 1 {
		t.Errorf("Get: got %v, %v", v, ok)
	}
	c.Set("b", []float32{4, 5})
	c.Set("c", []float32{6}) // evicts a
	if _, ok := c.Get("a"); ok {
		t.Error("expected a to be evicted")
	}
	if _, ok := c.Get("b"); !ok {
		t.Error("expected b to remain")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("expected c to be present")
	}
}

func TestEmbeddingCache_updateAndLen(t *testing.T) {
	c := NewEmbeddingCache(2)
	c.Set("a", []float32{1})
	c.Set("a", []float32{2})
	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}
	if v, _ := c.Get("a"); v[0] != 2 {
		t.Errorf("updated value: got %v", v)
	}
	c.Set("b", []float32{3})
	c.Get("a") // a becomes most recent
	c.Set("c", []float32{4})
	if _, ok := c.Get("b"); ok {
		t.Error("expected b to be evicted after a was touched")
	}
}

func TestEmbeddingCache_callerMutationsDoNotLeak(t *testing.T) {
	c := NewEmbeddingCache(2)
	stored := []float32{3, 4}
	c.Set("a", stored)
	stored[0] = 99

	got, _ := c.Get("a")
	if got[0] != 3 {
		t.Fatalf("Set should copy the input, got %v", got)
	}
	got[0], got[1] = 0.6, 0.8
	again, _ := c.Get("a")
	if again[0] != 3 || again[1] != 4 {
		t.Errorf("mutating a Get result changed the cache: %v", again)
	}
}

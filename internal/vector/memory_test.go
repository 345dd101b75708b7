package vector

import (
	"context"
	"path/filepath"
	"testing"
)

func rec(id, set string, vec ...float32) Record {
	return Record{ID: id, Values: vec, Metadata: map[string]interface{}{
		MetaReferenceSetID: set,
		MetaText:           "text of " + id,
		MetaPageNumber:     1,
	}}
}

func TestMemoryIndex_UpsertQuery(t *testing.T) {
	idx, err := NewMemoryIndex(3)
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()
	ctx := context.Background()

	records := []Record{
		rec("a", "s1", 1, 0, 0),
		rec("b", "s1", 0.9, 0.1, 0),
		rec("c", "s2", 0, 1, 0),
	}
	if err := idx.Upsert(ctx, records); err != nil {
		t.Fatal(err)
	}
	if idx.Size() != 3 {
		t.Errorf("Size=%d", idx.Size())
	}

	results, err := idx.Query(ctx, []float32{1, 0, 0}, 2, Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ID != "a" || results[1].ID != "b" {
		t.Errorf("order: got %s, %s", results[0].ID, results[1].ID)
	}
	if results[0].Score < results[1].Score {
		t.Error("results should be ordered by descending score")
	}
	if MetaString(results[0].Metadata, MetaText) != "text of a" {
		t.Errorf("metadata not returned: %v", results[0].Metadata)
	}
}

func TestMemoryIndex_upsertOverwrites(t *testing.T) {
	idx, _ := NewMemoryIndex(2)
	ctx := context.Background()
	_ = idx.Upsert(ctx, []Record{rec("x", "s1", 1, 0)})
	_ = idx.Upsert(ctx, []Record{rec("x", "s2", 0, 1)})
	if idx.Size() != 1 {
		t.Fatalf("expected size 1 after re-upsert, got %d", idx.Size())
	}
	got, ok := idx.Get("x")
	if !ok || MetaString(got.Metadata, MetaReferenceSetID) != "s2" || got.Values[1] != 1 {
		t.Errorf("record not replaced: %+v", got)
	}
}

func TestMemoryIndex_filter(t *testing.T) {
	idx, _ := NewMemoryIndex(2)
	ctx := context.Background()
	_ = idx.Upsert(ctx, []Record{
		rec("a1", "A", 1, 0), rec("a2", "A", 0.5, 0.5),
		rec("b1", "B", 1, 0.01), rec("c1", "C", 1, 0.02),
	})
	results, err := idx.Query(ctx, []float32{1, 0}, 10, Filter{ReferenceSetIDs: []string{"A"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	for _, r := range results {
		if MetaString(r.Metadata, MetaReferenceSetID) != "A" {
			t.Errorf("result %s escaped the filter", r.ID)
		}
	}
	results, _ = idx.Query(ctx, []float32{1, 0}, 10, Filter{ReferenceSetIDs: []string{"B", "C"}})
	if len(results) != 2 {
		t.Errorf("expected 2 results for B,C, got %d", len(results))
	}
}

func TestMemoryIndex_dimensionMismatch(t *testing.T) {
	idx, _ := NewMemoryIndex(3)
	if err := idx.Upsert(context.Background(), []Record{rec("a", "s", 1, 0)}); err == nil {
		t.Error("expected dimension error on upsert")
	}
	if _, err := idx.Query(context.Background(), []float32{1}, 1, Filter{}); err == nil {
		t.Error("expected dimension error on query")
	}
	if _, err := NewMemoryIndex(0); err == nil {
		t.Error("expected error for zero dimensions")
	}
}

func TestMemoryIndex_SaveLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "indices", "vectors.bin")
	idx, _ := NewMemoryIndex(2)
	ctx := context.Background()
	_ = idx.Upsert(ctx, []Record{rec("a", "s1", 1, 0), rec("b", "s2", 0, 1)})
	if err := idx.Save(path); err != nil {
		t.Fatal(err)
	}

	loaded, _ := NewMemoryIndex(2)
	if err := loaded.Load(path); err != nil {
		t.Fatal(err)
	}
	if loaded.Size() != 2 {
		t.Fatalf("loaded size = %d", loaded.Size())
	}
	got, ok := loaded.Get("b")
	if !ok || got.Values[1] != 1 {
		t.Fatalf("vector not restored: %+v", got)
	}
	if MetaString(got.Metadata, MetaReferenceSetID) != "s2" || MetaInt(got.Metadata, MetaPageNumber) != 1 {
		t.Errorf("metadata not restored: %v", got.Metadata)
	}

	wrong, _ := NewMemoryIndex(3)
	if err := wrong.Load(path); err == nil {
		t.Error("expected dimension mismatch on load")
	}
	missing, _ := NewMemoryIndex(2)
	if err := missing.Load(filepath.Join(dir, "nope.bin")); err != nil {
		t.Errorf("missing file should be ignored: %v", err)
	}
}

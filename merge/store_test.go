package merge

import "testing"

func TestStoreMergesByMax(t *testing.T) {
	store := NewEstimateStore()

	store.Update("item_1", 2.0)
	store.Update("item_1", 5.0)
	store.Update("item_1", 3.0)

	got, ok := store.Get("item_1")
	if !ok {
		t.Fatal("expected item_1 to be tracked")
	}
	if got != 5.0 {
		t.Fatalf("expected stored estimate 5.0, got %v", got)
	}
}

func TestStoreUpdateIsIdempotent(t *testing.T) {
	store := NewEstimateStore()

	if !store.Update("item_1", 2.0) {
		t.Fatal("expected first update to change the store")
	}
	if store.Update("item_1", 2.0) {
		t.Fatal("expected identical update to be a no-op")
	}

	got, _ := store.Get("item_1")
	if got != 2.0 {
		t.Fatalf("expected 2.0, got %v", got)
	}
	if store.Len() != 1 {
		t.Fatalf("expected one tracked item, got %d", store.Len())
	}
}

func TestStoreGetNeverDecreases(t *testing.T) {
	store := NewEstimateStore()
	updates := []float64{1.0, 4.0, 2.0, 4.0, 3.9, 7.5, 0.1}

	last := 0.0
	for _, estimate := range updates {
		store.Update("item_1", estimate)
		got, _ := store.Get("item_1")
		if got < last {
			t.Fatalf("stored estimate decreased from %v to %v", last, got)
		}
		last = got
	}
}

func TestStoreSnapshotIsACopy(t *testing.T) {
	store := NewEstimateStore()
	store.Update("a", 1.0)
	store.Update("b", 2.0)

	snapshot := store.Snapshot()
	if len(snapshot) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(snapshot))
	}

	snapshot[0].Estimate = 99.0
	for _, id := range []string{"a", "b"} {
		if got, _ := store.Get(id); got == 99.0 {
			t.Fatal("snapshot mutation leaked into the store")
		}
	}
}

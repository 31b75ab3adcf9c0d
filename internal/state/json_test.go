package state

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type memoryStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: make(map[string]string)}
}

func (m *memoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	val, ok := m.data[key]
	return val, ok, nil
}

func (m *memoryStore) Set(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memoryStore) Close() error { return nil }

type entry struct {
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
}

func TestJSONRoundTrip(t *testing.T) {
	store := newMemoryStore()
	ctx := context.Background()
	in := []entry{{Symbol: "AAPL", Name: "Apple Inc."}, {Symbol: "MSFT", Name: "Microsoft"}}
	if err := SaveJSON(ctx, store, "stock_watchlist", in); err != nil {
		t.Fatalf("save: %v", err)
	}
	var out []entry
	ok, err := LoadJSON(ctx, store, "stock_watchlist", &out)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !ok {
		t.Fatalf("expected value to be found")
	}
	if len(out) != 2 || out[0].Symbol != "AAPL" || out[1].Name != "Microsoft" {
		t.Fatalf("unexpected round trip: %+v", out)
	}
}

func TestLoadJSONMissingOrBlank(t *testing.T) {
	store := newMemoryStore()
	var out []entry
	ok, err := LoadJSON(context.Background(), store, "absent", &out)
	if err != nil || ok {
		t.Fatalf("expected not found, got ok=%v err=%v", ok, err)
	}
	store.data["blank"] = "   "
	ok, err = LoadJSON(context.Background(), store, "blank", &out)
	if err != nil || ok {
		t.Fatalf("expected blank to be not found, got ok=%v err=%v", ok, err)
	}
}

func TestLoadJSONCorrupt(t *testing.T) {
	store := newMemoryStore()
	store.data["stock_watchlist"] = "{not json"
	var out []entry
	_, err := LoadJSON(context.Background(), store, "stock_watchlist", &out)
	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
}

func TestNilStoreIsNoop(t *testing.T) {
	var out []entry
	ok, err := LoadJSON(context.Background(), nil, "k", &out)
	if ok || err != nil {
		t.Fatalf("expected nil store to report not found")
	}
	if err := SaveJSON(context.Background(), nil, "k", out); err != nil {
		t.Fatalf("expected nil store save to succeed, got %v", err)
	}
}

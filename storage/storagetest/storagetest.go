// Package storagetest holds a conformance suite run against every
// storage.Storage backend.
package storagetest

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ggoodman/mcp-stdio-harness/storage"
)

// Run exercises s. The store must start empty.
func Run(t *testing.T, s storage.Storage) {
	t.Run("SetAndGet", func(t *testing.T) { testSetAndGet(t, s) })
	t.Run("GetNonExistent", func(t *testing.T) { testGetNonExistent(t, s) })
	t.Run("TTL", func(t *testing.T) { testTTL(t, s) })
	t.Run("Namespaces", func(t *testing.T) { testNamespaces(t, s) })
	t.Run("List", func(t *testing.T) { testList(t, s) })
	t.Run("DeleteKey", func(t *testing.T) { testDeleteKey(t, s) })
	t.Run("DeleteNamespace", func(t *testing.T) { testDeleteNamespace(t, s) })
	t.Run("InvalidKey", func(t *testing.T) { testInvalidKey(t, s) })
}

func mustGet(t *testing.T, s storage.Storage, key string, opts ...storage.Option) *storage.StorageItem {
	t.Helper()
	item, err := s.Get(context.Background(), key, opts...)
	if err != nil {
		t.Fatalf("Get(%q): %v", key, err)
	}
	return item
}

func mustSet(t *testing.T, s storage.Storage, key, data string, opts ...storage.Option) {
	t.Helper()
	if err := s.Set(context.Background(), key, []byte(data), opts...); err != nil {
		t.Fatalf("Set(%q): %v", key, err)
	}
}

func testSetAndGet(t *testing.T, s storage.Storage) {
	mustSet(t, s, "run-1", `{"passed":3}`)

	item := mustGet(t, s, "run-1")
	if item == nil {
		t.Fatal("expected item, got nil")
	}
	if string(item.Data) != `{"passed":3}` {
		t.Fatalf("data = %s", item.Data)
	}
	if item.CreatedAt.IsZero() {
		t.Fatal("CreatedAt not set")
	}
	if item.ExpiresAt != nil {
		t.Fatal("ExpiresAt set without a TTL")
	}
}

func testGetNonExistent(t *testing.T, s storage.Storage) {
	if item := mustGet(t, s, "missing"); item != nil {
		t.Fatalf("expected nil item, got %+v", item)
	}
}

func testTTL(t *testing.T, s storage.Storage) {
	ttl := 100 * time.Millisecond
	mustSet(t, s, "short", "x", storage.WithTTL(ttl))

	item := mustGet(t, s, "short")
	if item == nil || item.ExpiresAt == nil {
		t.Fatalf("expected item with expiry, got %+v", item)
	}

	time.Sleep(ttl + 50*time.Millisecond)
	if item := mustGet(t, s, "short"); item != nil {
		t.Fatal("item still present after expiry")
	}
}

func testNamespaces(t *testing.T, s storage.Storage) {
	mustSet(t, s, "ns-key", "global")
	mustSet(t, s, "ns-key", "smoke", storage.WithScenario("smoke"))
	mustSet(t, s, "ns-key", "handshake", storage.WithScenario("handshake"))

	for _, tc := range []struct {
		opts []storage.Option
		want string
	}{
		{nil, "global"},
		{[]storage.Option{storage.WithScenario("smoke")}, "smoke"},
		{[]storage.Option{storage.WithScenario("handshake")}, "handshake"},
	} {
		item := mustGet(t, s, "ns-key", tc.opts...)
		if item == nil || string(item.Data) != tc.want {
			t.Fatalf("got %+v, want %q", item, tc.want)
		}
	}
}

func testList(t *testing.T, s storage.Storage) {
	ns := storage.WithScenario("list")
	mustSet(t, s, "b", "2", ns)
	mustSet(t, s, "a", "1", ns)
	mustSet(t, s, "gone", "x", ns, storage.WithTTL(20*time.Millisecond))
	mustSet(t, s, "elsewhere", "x", storage.WithScenario("other"))
	time.Sleep(50 * time.Millisecond)

	keys, err := s.List(context.Background(), ns)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if strings.Join(keys, ",") != "a,b" {
		t.Fatalf("List = %v, want [a b]", keys)
	}
}

func testDeleteKey(t *testing.T, s storage.Storage) {
	ns := storage.WithScenario("delete-key")
	mustSet(t, s, "doomed", "x", ns)
	mustSet(t, s, "kept", "y", ns)

	if err := s.Delete(context.Background(), ns, storage.WithKey("doomed")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if item := mustGet(t, s, "doomed", ns); item != nil {
		t.Fatal("deleted key still present")
	}
	if item := mustGet(t, s, "kept", ns); item == nil {
		t.Fatal("sibling key removed")
	}
}

func testDeleteNamespace(t *testing.T, s storage.Storage) {
	ns := storage.WithScenario("delete-ns")
	for _, k := range []string{"k1", "k2", "k3"} {
		mustSet(t, s, k, "data-"+k, ns)
	}
	mustSet(t, s, "k1", "survivor", storage.WithScenario("delete-ns-other"))

	if err := s.Delete(context.Background(), ns); err != nil {
		t.Fatalf("Delete namespace: %v", err)
	}
	for _, k := range []string{"k1", "k2", "k3"} {
		if item := mustGet(t, s, k, ns); item != nil {
			t.Fatalf("key %s survived namespace deletion", k)
		}
	}
	if item := mustGet(t, s, "k1", storage.WithScenario("delete-ns-other")); item == nil {
		t.Fatal("other namespace was purged")
	}
}

func testInvalidKey(t *testing.T, s storage.Storage) {
	for _, k := range []string{"", "a/b"} {
		err := s.Set(context.Background(), k, []byte("x"))
		if !errors.Is(err, storage.ErrInvalidKey) {
			t.Fatalf("Set(%q) = %v, want ErrInvalidKey", k, err)
		}
	}
}

package natskv

import (
	"context"
	"os"
	"regexp"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

var validKey = regexp.MustCompile(`^[-/_=\.a-zA-Z0-9]+$`)

func TestEncodeKey(t *testing.T) {
	keys := []string{
		"profile:0b6c3a52-7f4e-4d1c-9a2b-1234567890ab",
		"idem:org-1:POST:/api/v1/connections:abc def",
		"ünïcode",
	}
	seen := map[string]string{}
	for _, k := range keys {
		enc := encodeKey(k)
		if !validKey.MatchString(enc) {
			t.Errorf("encodeKey(%q) = %q is not a valid KV key", k, enc)
		}
		if prev, dup := seen[enc]; dup {
			t.Errorf("keys %q and %q collide", prev, k)
		}
		seen[enc] = k
	}
}

func TestCache_RoundTrip(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("requires NATS_URL")
	}
	nc, err := nats.Connect(url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(nc.Close)
	js, err := jetstream.New(nc)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{Bucket: "test-natskv", TTL: time.Minute})
	if err != nil {
		t.Fatal(err)
	}
	c := New(kv)

	if _, found, err := c.Get(ctx, "profile:missing"); err != nil || found {
		t.Fatalf("expected miss, got found=%v err=%v", found, err)
	}
	if err := c.Set(ctx, "profile:t1", []byte(`{"tenant_id":"t1"}`), time.Minute); err != nil {
		t.Fatal(err)
	}
	val, found, err := c.Get(ctx, "profile:t1")
	if err != nil || !found || string(val) != `{"tenant_id":"t1"}` {
		t.Fatalf("Get = %q, %v, %v", val, found, err)
	}
	if err := c.Delete(ctx, "profile:t1"); err != nil {
		t.Fatal(err)
	}
	if err := c.Delete(ctx, "profile:t1"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
}

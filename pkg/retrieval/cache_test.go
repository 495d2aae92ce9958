package retrieval

import (
	"fmt"
	"testing"
	"time"
)

func docFixture(url string, score float64) Document {
	return Document{
		URL:          url,
		CanonicalURL: url,
		Title:        "title",
		Snippet:      "snippet",
		Backend:      "test",
		Score:        score,
		Stages:       []string{"live"},
	}
}

func TestCache_PutGetAndAliases(t *testing.T) {
	c := NewCache(time.Hour, 8)

	docs := []Document{docFixture("https://a.example", 0.9)}
	c.Put("rk1:canonical", []string{"rk0:legacy", "plain-material"}, docs)

	for _, key := range []string{"rk1:canonical", "rk0:legacy", "plain-material"} {
		got, ok := c.Get(key)
		if !ok {
			t.Fatalf("Get(%q) missed, want hit", key)
		}
		if len(got) != 1 || got[0].URL != "https://a.example" {
			t.Errorf("Get(%q) = %+v, want the cached doc", key, got)
		}
	}

	if _, ok := c.Get("unknown"); ok {
		t.Error("Get(unknown) hit, want miss")
	}
}

func TestCache_ReturnsCopies(t *testing.T) {
	c := NewCache(time.Hour, 8)
	c.Put("k", nil, []Document{docFixture("https://a.example", 0.5)})

	first, _ := c.Get("k")
	first[0].Title = "mutated"
	first[0].Stages[0] = "mutated"

	second, _ := c.Get("k")
	if second[0].Title != "title" {
		t.Errorf("cached title = %q after caller mutation, want %q", second[0].Title, "title")
	}
	if second[0].Stages[0] != "live" {
		t.Errorf("cached stages = %v after caller mutation, want [live]", second[0].Stages)
	}
}

func TestCache_TTLExpiry(t *testing.T) {
	c := NewCache(time.Minute, 8)
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }

	c.Put("k", []string{"alias"}, []Document{docFixture("https://a.example", 0.5)})

	if _, ok := c.Get("k"); !ok {
		t.Fatal("Get() missed before expiry")
	}

	now = now.Add(2 * time.Minute)
	if _, ok := c.Get("k"); ok {
		t.Error("Get() hit after expiry, want miss")
	}
	if _, ok := c.Get("alias"); ok {
		t.Error("Get(alias) hit after expiry, want miss")
	}
}

func TestCache_ZeroTTLNeverExpires(t *testing.T) {
	c := NewCache(0, 8)
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }

	c.Put("k", nil, []Document{docFixture("https://a.example", 0.5)})
	now = now.Add(1000 * time.Hour)

	if _, ok := c.Get("k"); !ok {
		t.Error("Get() missed with zero TTL, want permanent entry")
	}
}

func TestCache_LRUEviction(t *testing.T) {
	c := NewCache(time.Hour, 2)

	c.Put("k1", nil, []Document{docFixture("https://one.example", 0.1)})
	c.Put("k2", nil, []Document{docFixture("https://two.example", 0.2)})

	// Touch k1 so k2 becomes the LRU entry.
	if _, ok := c.Get("k1"); !ok {
		t.Fatal("Get(k1) missed")
	}

	c.Put("k3", nil, []Document{docFixture("https://three.example", 0.3)})

	if c.Len() != 2 {
		t.Fatalf("Len() = %d, want capacity 2", c.Len())
	}
	if _, ok := c.Get("k2"); ok {
		t.Error("Get(k2) hit, want LRU eviction")
	}
	if _, ok := c.Get("k1"); !ok {
		t.Error("Get(k1) missed, want retained (recently used)")
	}
	if _, ok := c.Get("k3"); !ok {
		t.Error("Get(k3) missed, want retained (just written)")
	}
}

func TestCache_SweepDropsExpiredEntries(t *testing.T) {
	c := NewCache(time.Minute, 1024)
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }

	c.Put("stale", []string{"stale-alias"}, []Document{docFixture("https://stale.example", 0.1)})
	now = now.Add(2 * time.Minute)

	// The sweep runs every sweepInterval writes.
	for i := 0; i < sweepInterval; i++ {
		c.Put(fmt.Sprintf("fresh-%d", i), nil, []Document{docFixture("https://fresh.example", 0.2)})
	}

	c.mu.RLock()
	_, staleEntry := c.entries["stale"]
	_, staleAlias := c.aliases["stale-alias"]
	c.mu.RUnlock()

	if staleEntry {
		t.Error("expired entry survived the amortized sweep")
	}
	if staleAlias {
		t.Error("dangling alias survived the amortized sweep")
	}
}

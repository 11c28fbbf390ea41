package statecache

import (
	"testing"
	"time"
)

func TestSetAndGetValidRoundTrip(t *testing.T) {
	c := New()
	c.Set(CategorySiteAnalysis, "value-a", time.Minute)
	got, ok := c.GetValid(CategorySiteAnalysis)
	if !ok {
		t.Fatal("expected a cache hit")
	}
	if got != "value-a" {
		t.Fatalf("got %v, want %q", got, "value-a")
	}
}

func TestGetValidMissForUnsetCategory(t *testing.T) {
	c := New()
	if _, ok := c.GetValid(CategoryDbAnalysis); ok {
		t.Fatal("expected a cache miss for a category never Set")
	}
}

func TestGetValidExpiresAfterTTL(t *testing.T) {
	c := New()
	c.Set(CategoryCalculatedRange, 42, 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	if _, ok := c.GetValid(CategoryCalculatedRange); ok {
		t.Fatal("expected the entry to have expired")
	}
}

func TestClearAllEmptiesCache(t *testing.T) {
	c := New()
	c.Set(CategorySiteAnalysis, "value-a", time.Minute)
	c.ClearAll()
	if _, ok := c.GetValid(CategorySiteAnalysis); ok {
		t.Fatal("expected ClearAll to remove every entry")
	}
}

func TestCategoriesAreIndependent(t *testing.T) {
	c := New()
	c.Set(CategorySiteAnalysis, "site", time.Minute)
	c.Set(CategoryDbAnalysis, "db", time.Minute)
	site, _ := c.GetValid(CategorySiteAnalysis)
	db, _ := c.GetValid(CategoryDbAnalysis)
	if site == db {
		t.Fatalf("expected independent values, got site=%v db=%v", site, db)
	}
}

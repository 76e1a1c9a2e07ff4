package discovery_test

import (
    "testing"

    "github.com/amirimatin/go-keeper/pkg/discovery"
    "github.com/amirimatin/go-keeper/pkg/discovery/static"
)

func TestMultiMergesAndDedupes(t *testing.T) {
    d := discovery.Multi(
        static.New("b:2", "a:1"),
        nil,
        static.New("a:1", "c:3"),
    )
    got := d.Seeds()
    want := []string{"a:1", "b:2", "c:3"}
    if len(got) != len(want) {
        t.Fatalf("seeds = %#v, want %#v", got, want)
    }
    for i := range want {
        if got[i] != want[i] {
            t.Fatalf("seeds[%d] = %q, want %q", i, got[i], want[i])
        }
    }
}

func TestMultiEmpty(t *testing.T) {
    if got := discovery.Multi().Seeds(); got != nil {
        t.Fatalf("expected nil, got %#v", got)
    }
    if got := discovery.Multi(static.New()).Seeds(); got != nil {
        t.Fatalf("expected nil, got %#v", got)
    }
}

func TestFromCSV(t *testing.T) {
    got := static.FromCSV(" a:1 ,, b:2 ").Seeds()
    if len(got) != 2 || got[0] != "a:1" || got[1] != "b:2" {
        t.Fatalf("unexpected seeds: %#v", got)
    }
}

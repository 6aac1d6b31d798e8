package membership

import (
	"testing"

	"github.com/aetherflow/unicast/internal/unicast/addr"
)

func TestViewContains(t *testing.T) {
	v := View{ID: 1, Members: []addr.Addr{{Host: "a"}, {Host: "b"}}}
	if !v.Contains(addr.Addr{Host: "a"}) {
		t.Fatal("expected view to contain a")
	}
	if v.Contains(addr.Addr{Host: "c"}) {
		t.Fatal("expected view not to contain c")
	}
}

func TestViewSet(t *testing.T) {
	v := View{ID: 1, Members: []addr.Addr{{Host: "a"}, {Host: "b"}}}
	set := v.Set()
	if len(set) != 2 {
		t.Fatalf("expected set of size 2, got %d", len(set))
	}
	if _, ok := set[addr.Addr{Host: "a"}]; !ok {
		t.Fatal("expected a in set")
	}
}

func TestSnapshotLockedOrdersByHostAndBumpsViewID(t *testing.T) {
	w := &EtcdWatcher{
		members: map[string]addr.Addr{
			"k1": {Host: "z"},
			"k2": {Host: "a"},
			"k3": {Host: "m"},
		},
	}

	v1 := w.snapshotLocked()
	if v1.ID != 1 {
		t.Fatalf("expected first view ID 1, got %d", v1.ID)
	}
	wantOrder := []string{"a", "m", "z"}
	for i, want := range wantOrder {
		if v1.Members[i].Host != want {
			t.Fatalf("expected member %d to be %q, got %q", i, want, v1.Members[i].Host)
		}
	}

	v2 := w.snapshotLocked()
	if v2.ID != 2 {
		t.Fatalf("expected view ID to bump to 2, got %d", v2.ID)
	}
}

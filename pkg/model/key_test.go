package model

import "testing"

func TestCanonicalKeyOrdering(t *testing.T) {
	a := CanonicalKey(map[string]any{"name": "eth0", "device": "sw1"})
	b := CanonicalKey(map[string]any{"device": "sw1", "name": "eth0"})
	if a != b {
		t.Fatalf("field order changed the encoding: %q vs %q", a, b)
	}
	if a != "device=s:sw1/name=s:eth0" {
		t.Fatalf("unexpected encoding: %q", a)
	}
}

func TestCanonicalKeyTypeTags(t *testing.T) {
	tests := []struct {
		name string
		key  map[string]any
		want string
	}{
		{"string", map[string]any{"k": "10"}, "k=s:10"},
		{"int", map[string]any{"k": 10}, "k=i:10"},
		{"bool", map[string]any{"k": true}, "k=b:true"},
		{"null", map[string]any{"k": nil}, "k=n:"},
		{"float", map[string]any{"k": 1.5}, "k=f:1.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanonicalKey(tt.key); got != tt.want {
				t.Errorf("CanonicalKey(%v) = %q, want %q", tt.key, got, tt.want)
			}
		})
	}
}

func TestCanonicalKeyStringNeverEqualsNumber(t *testing.T) {
	s := CanonicalKey(map[string]any{"vid": "10"})
	n := CanonicalKey(map[string]any{"vid": 10})
	if s == n {
		t.Fatalf("string %q and int %q must not collide", s, n)
	}
}

func TestCanonicalKeyIntegralFloatCollapses(t *testing.T) {
	// JSON decoding yields float64 for whole numbers; they must match
	// YAML-decoded ints.
	f := CanonicalKey(map[string]any{"vid": float64(10)})
	i := CanonicalKey(map[string]any{"vid": 10})
	if f != i {
		t.Fatalf("integral float %q should equal int %q", f, i)
	}
}

func TestUIDv5Deterministic(t *testing.T) {
	a := UIDv5("dcim.device", "name=s:sw1")
	b := UIDv5("dcim.device", "name=s:sw1")
	if a != b {
		t.Fatalf("same inputs produced different uids: %s vs %s", a, b)
	}
	c := UIDv5("dcim.interface", "name=s:sw1")
	if a == c {
		t.Fatal("different types must produce different uids")
	}
}

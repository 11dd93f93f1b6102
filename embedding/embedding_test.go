package embedding

import (
	"math"
	"testing"
)

func TestWordHash(t *testing.T) {
	tests := []struct {
		word string
		want int32
	}{
		{"", 0},
		{"a", 97},
		{"ab", 97*31 + 98},
		{"revenue", 1099842588},
		// Long words wrap around int32.
		{"conclusion", -1731259873},
	}
	for _, tt := range tests {
		if got := wordHash(tt.word); got != tt.want {
			t.Errorf("wordHash(%q) = %d, want %d", tt.word, got, tt.want)
		}
	}
}

func TestEmbed_Normalized(t *testing.T) {
	e := NewHashEmbedder(0)
	if e.Dim() != 128 {
		t.Fatalf("Dim = %d", e.Dim())
	}
	v := e.Embed("Revenue grew strongly in the third quarter")
	if len(v) != 128 {
		t.Fatalf("len = %d", len(v))
	}
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if math.Abs(sum-1) > 1e-5 {
		t.Errorf("squared norm = %f, want 1", sum)
	}
}

func TestEmbed_Deterministic(t *testing.T) {
	e := NewHashEmbedder(64)
	a := e.Embed("Same Text here")
	b := e.Embed("same   text HERE")
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("bucket %d differs: %f vs %f", i, a[i], b[i])
		}
	}
}

func TestEmbed_EmptyIsZero(t *testing.T) {
	v := NewHashEmbedder(16).Embed("   ")
	for i, x := range v {
		if x != 0 {
			t.Fatalf("bucket %d = %f, want 0", i, x)
		}
	}
}

func TestEmbed_Buckets(t *testing.T) {
	// Single word at position 0: both increments land in the same bucket.
	v := NewHashEmbedder(128).Embed("a")
	if v[97] != 1 {
		t.Errorf("bucket 97 = %f, want 1", v[97])
	}
}

func TestCosine(t *testing.T) {
	e := NewHashEmbedder(0)
	a := e.Embed("the quick brown fox")
	b := e.Embed("a lazy dog sleeps")

	if got := Cosine(a, a); math.Abs(got-1) > 1e-6 {
		t.Errorf("Cosine(a, a) = %f, want 1", got)
	}
	if ab, ba := Cosine(a, b), Cosine(b, a); ab != ba {
		t.Errorf("not symmetric: %f vs %f", ab, ba)
	}
	if got := Cosine(a, b[:10]); got != 0 {
		t.Errorf("length mismatch = %f, want 0", got)
	}
	if got := Cosine(a, make([]float32, len(a))); got != 0 {
		t.Errorf("zero vector = %f, want 0", got)
	}
	if got := Cosine(nil, nil); got != 0 {
		t.Errorf("empty = %f, want 0", got)
	}
}

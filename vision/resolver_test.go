package vision

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/brunobiangulo/docqa/parser"
)

type mockDescriber struct {
	desc   string
	err    error
	delay  time.Duration
	calls  atomic.Int32
	active atomic.Int32
	peak   atomic.Int32
}

func (m *mockDescriber) Describe(ctx context.Context, png []byte) (string, error) {
	m.calls.Add(1)
	n := m.active.Add(1)
	defer m.active.Add(-1)
	for {
		p := m.peak.Load()
		if n <= p || m.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return m.desc, m.err
}

func okRender(ctx context.Context, page int, scale float64) ([]byte, error) {
	return []byte("png"), nil
}

func fastResolver() *Resolver {
	return NewResolver(Options{RatePerMin: 600000})
}

func TestResolveNoCredential(t *testing.T) {
	rendered := false
	render := func(ctx context.Context, page int, scale float64) ([]byte, error) {
		rendered = true
		return nil, nil
	}
	res := fastResolver().Resolve(context.Background(), nil, 1, render)
	if res.Description != NoCredentialText || res.AIAnalyzed {
		t.Errorf("res = %+v", res)
	}
	if rendered {
		t.Error("page rendered without a credential")
	}
}

func TestResolveSuccess(t *testing.T) {
	var gotScale float64
	render := func(ctx context.Context, page int, scale float64) ([]byte, error) {
		gotScale = scale
		return []byte("png"), nil
	}
	d := &mockDescriber{desc: "A line chart of monthly revenue."}
	res := fastResolver().Resolve(context.Background(), d, 2, render)
	if !res.AIAnalyzed || res.Description != d.desc || res.ImageType != "chart" {
		t.Errorf("res = %+v", res)
	}
	if gotScale != DefaultRenderScale {
		t.Errorf("scale = %v, want %v", gotScale, DefaultRenderScale)
	}
}

func TestResolveFailuresFallBack(t *testing.T) {
	tests := []struct {
		name   string
		d      *mockDescriber
		render RenderFunc
	}{
		{"describer error", &mockDescriber{err: errors.New("quota exceeded")}, okRender},
		{"render error", &mockDescriber{desc: "unused"}, func(ctx context.Context, page int, scale float64) ([]byte, error) {
			return nil, parser.ErrRendererUnavailable
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := fastResolver().Resolve(context.Background(), tt.d, 1, tt.render)
			if res.Description != FallbackText || res.AIAnalyzed || res.ImageType != UnknownType {
				t.Errorf("res = %+v", res)
			}
		})
	}
}

func TestResolveTimeout(t *testing.T) {
	r := NewResolver(Options{Timeout: 20 * time.Millisecond, RatePerMin: 600000})
	d := &mockDescriber{desc: "late", delay: time.Second}
	res := r.Resolve(context.Background(), d, 1, okRender)
	if res.Description != FallbackText {
		t.Errorf("res = %+v, want fallback", res)
	}
}

func TestBreakerFailsFast(t *testing.T) {
	r := fastResolver()
	d := &mockDescriber{err: errors.New("connection refused")}
	for i := 0; i < 6; i++ {
		if res := r.Resolve(context.Background(), d, i+1, okRender); res.Description != FallbackText {
			t.Fatalf("call %d: res = %+v", i, res)
		}
	}
	if got := d.calls.Load(); got != 3 {
		t.Errorf("describer calls = %d, want 3 before the breaker opens", got)
	}
}

func TestResolveAll(t *testing.T) {
	pages := []parser.Page{
		{Number: 1, Class: parser.ClassText},
		{Number: 2, Class: parser.ClassImageOnly},
		{Number: 3, Class: parser.ClassMixed},
		{Number: 4, Class: parser.ClassEmpty},
		{Number: 5, Class: parser.ClassImageOnly},
	}
	d := &mockDescriber{desc: "A photo of a bridge."}
	got := fastResolver().ResolveAll(context.Background(), d, pages, okRender)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for _, n := range []int{2, 3, 5} {
		if res, ok := got[n]; !ok || !res.AIAnalyzed || res.ImageType != "photo" {
			t.Errorf("page %d: %+v", n, res)
		}
	}
}

func TestResolveAllBoundedConcurrency(t *testing.T) {
	pages := make([]parser.Page, 10)
	for i := range pages {
		pages[i] = parser.Page{Number: i + 1, Class: parser.ClassImageOnly}
	}
	d := &mockDescriber{desc: "A diagram.", delay: 20 * time.Millisecond}
	fastResolver().ResolveAll(context.Background(), d, pages, okRender)

	if got := d.peak.Load(); got > DefaultConcurrency {
		t.Errorf("peak concurrency = %d, want <= %d", got, DefaultConcurrency)
	}
	if got := d.calls.Load(); got != 10 {
		t.Errorf("calls = %d, want 10", got)
	}
}

func TestResolverConcurrentUse(t *testing.T) {
	r := fastResolver()
	d := &mockDescriber{desc: "A map of the region."}
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Resolve(context.Background(), d, 1, okRender)
		}()
	}
	wg.Wait()
}

func TestDetectImageType(t *testing.T) {
	tests := []struct {
		desc string
		want string
	}{
		{"A bar chart comparing quarterly sales.", "chart"},
		{"Flowchart of the approval process.", "diagram"},
		{"A table listing part numbers and prices.", "table"},
		{"Photograph of the factory floor.", "photo"},
		{"Screenshot of the login page.", "screenshot"},
		{"A map of the northern district.", "map"},
		{"A bitmap logo with the company name.", "image"},
		{"A company logo. Below it, a small chart.", "chart"},
		{"", UnknownType},
	}
	for _, tt := range tests {
		if got := DetectImageType(tt.desc); got != tt.want {
			t.Errorf("DetectImageType(%q) = %q, want %q", tt.desc, got, tt.want)
		}
	}
}

// Package vision turns rendered image pages into text surrogates using an
// external image-description model.
package vision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/brunobiangulo/docqa/llm"
	"github.com/brunobiangulo/docqa/parser"
)

const (
	// NoCredentialText stands in for a description when no API key is
	// configured for the description model.
	NoCredentialText = "[Image content: AI analysis unavailable. Configure an API key for the vision provider to describe image pages.]"

	// FallbackText stands in for a description when the description model
	// could not be reached or returned nothing usable.
	FallbackText = "[Image content: this page could not be analyzed automatically.]"

	DefaultRenderScale = 2.0
	DefaultConcurrency = 3
	DefaultTimeout     = 60 * time.Second
	DefaultRatePerMin  = 60
)

// Describer produces a natural-language description of a PNG image.
type Describer interface {
	Describe(ctx context.Context, png []byte) (string, error)
}

// ProviderDescriber adapts an llm.VisionProvider to Describer.
type ProviderDescriber struct {
	Provider llm.VisionProvider
	Model    string
}

func (d ProviderDescriber) Describe(ctx context.Context, png []byte) (string, error) {
	return llm.DescribeImage(ctx, d.Provider, d.Model, png)
}

// RenderFunc renders one page (1-based) as PNG at the given scale.
type RenderFunc func(ctx context.Context, page int, scale float64) ([]byte, error)

// Result is the text surrogate for one image page.
type Result struct {
	Description string
	ImageType   string
	AIAnalyzed  bool
}

// Options tune a Resolver. Zero values fall back to the defaults.
type Options struct {
	RenderScale float64
	Concurrency int
	Timeout     time.Duration
	RatePerMin  int
}

// Resolver describes image pages. It is safe for concurrent use; the rate
// limiter and circuit breaker are shared by every call.
type Resolver struct {
	opts    Options
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// NewResolver creates a Resolver.
func NewResolver(opts Options) *Resolver {
	if opts.RenderScale <= 0 {
		opts.RenderScale = DefaultRenderScale
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.RatePerMin <= 0 {
		opts.RatePerMin = DefaultRatePerMin
	}

	st := gobreaker.Settings{
		Name:        "vision",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && ratio >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("vision: circuit breaker state changed",
				"name", name, "from", from.String(), "to", to.String())
		},
	}

	return &Resolver{
		opts:    opts,
		limiter: rate.NewLimiter(rate.Limit(float64(opts.RatePerMin)/60), opts.Concurrency),
		breaker: gobreaker.NewCircuitBreaker(st),
	}
}

// Resolve renders a page and asks d to describe it. A nil d means no
// credential is configured: the placeholder is returned without rendering.
// Failures never surface as errors; they produce FallbackText.
func (r *Resolver) Resolve(ctx context.Context, d Describer, page int, render RenderFunc) Result {
	if d == nil {
		return Result{Description: NoCredentialText, ImageType: UnknownType}
	}

	start := time.Now()
	desc, err := r.describe(ctx, d, page, render)
	if err != nil {
		slog.Warn("vision: image page fallback",
			"page", page, "error", err,
			"elapsed", time.Since(start).Round(time.Millisecond))
		return Result{Description: FallbackText, ImageType: UnknownType}
	}

	slog.Debug("vision: page described",
		"page", page, "chars", len(desc),
		"elapsed", time.Since(start).Round(time.Millisecond))
	return Result{Description: desc, ImageType: DetectImageType(desc), AIAnalyzed: true}
}

func (r *Resolver) describe(ctx context.Context, d Describer, page int, render RenderFunc) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	png, err := render(ctx, page, r.opts.RenderScale)
	if err != nil {
		return "", fmt.Errorf("rendering page %d: %w", page, err)
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}

	out, err := r.breaker.Execute(func() (interface{}, error) {
		return d.Describe(ctx, png)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", fmt.Errorf("description service unavailable: %w", err)
		}
		return "", err
	}
	return out.(string), nil
}

// ResolveAll resolves every IMAGE_ONLY and MIXED page with bounded
// parallelism. The result is keyed by page number. Other pages are skipped.
func (r *Resolver) ResolveAll(ctx context.Context, d Describer, pages []parser.Page, render RenderFunc) map[int]Result {
	results := make([]Result, len(pages))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Concurrency)

	for i, p := range pages {
		if !p.HasImage() {
			continue
		}
		g.Go(func() error {
			results[i] = r.Resolve(gctx, d, p.Number, render)
			return nil
		})
	}
	g.Wait()

	out := make(map[int]Result)
	for i, p := range pages {
		if p.HasImage() {
			out[p.Number] = results[i]
		}
	}
	return out
}

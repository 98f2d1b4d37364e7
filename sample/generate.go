package sample

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// ForwardFunc produces the next-token logits for the tokens accepted so
// far. It stands in for a model forward pass.
type ForwardFunc func(ctx context.Context, tokens []int32) ([]float32, error)

// Generate runs one constrained generation to a terminal phase. A dead
// end is an outcome, not an error: the returned Context reports it via
// Phase. Errors come from the forward pass or cancellation.
func Generate(ctx context.Context, engine *MaskEngine, forward ForwardFunc, sampler Sampler, maxTokens int) (*Context, error) {
	gc := NewContext(engine, maxTokens)
	for gc.Phase() == PhaseWalking {
		if err := ctx.Err(); err != nil {
			return gc, err
		}
		logits, err := forward(ctx, gc.Tokens())
		if err != nil {
			return gc, err
		}
		if err := gc.Apply(logits); err != nil {
			if errors.Is(err, ErrDeadEnd) {
				break
			}
			return gc, err
		}
		id, err := sampler.Sample(logits)
		if err != nil {
			return gc, err
		}
		if err := gc.Accept(id); err != nil {
			return gc, err
		}
	}
	slog.Debug("generation finished", "id", gc.ID, "phase", gc.Phase(), "tokens", len(gc.Tokens()))
	return gc, nil
}

// GenerateBatch runs n independent generations with at most parallel in
// flight. Results are in slot order. The first error cancels the rest.
func GenerateBatch(ctx context.Context, engine *MaskEngine, forward ForwardFunc, sampler Sampler, maxTokens, n, parallel int) ([]*Context, error) {
	if parallel <= 0 {
		parallel = 1
	}
	results := make([]*Context, n)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			gc, err := Generate(ctx, engine, forward, sampler, maxTokens)
			results[i] = gc
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// ABOUTME: Tests for the ordered middleware executor
// ABOUTME: Covers ordering, short-circuit, silent halts, panics and cancellation

package middleware

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	markers []string
}

func marker(name string) Handler[string, *payload] {
	return func(ctx context.Context, bot string, p *payload, next Next) error {
		p.markers = append(p.markers, name)
		return next()
	}
}

func TestPipeline_RunsInOrder(t *testing.T) {
	p := New[string, *payload]()
	p.Use("A", marker("A"))
	p.Use("B", marker("B"))
	p.Use("C", marker("C"))

	pl := &payload{}
	err := p.Run(context.Background(), "bot", pl)

	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, pl.markers)
	assert.Equal(t, []string{"A", "B", "C"}, p.Names())
	assert.Equal(t, 3, p.Len())
}

func TestPipeline_EmptyRunSucceeds(t *testing.T) {
	p := New[string, *payload]()
	assert.NoError(t, p.Run(context.Background(), "bot", &payload{}))
}

func TestPipeline_ShortCircuit(t *testing.T) {
	stageErr := errors.New("rejected by B")

	p := New[string, *payload]()
	p.Use("A", marker("A"))
	p.Use("B", func(ctx context.Context, bot string, pl *payload, next Next) error {
		pl.markers = append(pl.markers, "B")
		return stageErr
	})
	p.Use("C", marker("C"))

	pl := &payload{}
	err := p.Run(context.Background(), "bot", pl)

	require.Error(t, err)
	assert.ErrorIs(t, err, stageErr)
	var sc *ShortCircuitError
	require.ErrorAs(t, err, &sc)
	assert.Equal(t, "B", sc.Stage)
	assert.Equal(t, []string{"A", "B"}, pl.markers)
}

func TestPipeline_DownstreamErrorKeepsStage(t *testing.T) {
	stageErr := errors.New("boom")

	p := New[string, *payload]()
	p.Use("outer", func(ctx context.Context, bot string, pl *payload, next Next) error {
		return next()
	})
	p.Use("inner", func(ctx context.Context, bot string, pl *payload, next Next) error {
		return stageErr
	})

	err := p.Run(context.Background(), "bot", &payload{})

	var sc *ShortCircuitError
	require.ErrorAs(t, err, &sc)
	assert.Equal(t, "inner", sc.Stage)
}

func TestPipeline_SwallowedDownstreamErrorStillPropagates(t *testing.T) {
	stageErr := errors.New("boom")

	p := New[string, *payload]()
	p.Use("outer", func(ctx context.Context, bot string, pl *payload, next Next) error {
		_ = next()
		return nil
	})
	p.Use("inner", func(ctx context.Context, bot string, pl *payload, next Next) error {
		return stageErr
	})

	err := p.Run(context.Background(), "bot", &payload{})
	assert.ErrorIs(t, err, stageErr)
}

func TestPipeline_SilentHalt(t *testing.T) {
	p := New[string, *payload]()
	p.Use("A", func(ctx context.Context, bot string, pl *payload, next Next) error {
		return nil
	})
	p.Use("B", marker("B"))

	pl := &payload{}
	err := p.Run(context.Background(), "bot", pl)

	assert.ErrorIs(t, err, ErrHalted)
	assert.Empty(t, pl.markers)
}

func TestPipeline_PanicBecomesError(t *testing.T) {
	p := New[string, *payload]()
	p.Use("explodes", func(ctx context.Context, bot string, pl *payload, next Next) error {
		panic("kaboom")
	})

	err := p.Run(context.Background(), "bot", &payload{})

	var sc *ShortCircuitError
	require.ErrorAs(t, err, &sc)
	assert.Equal(t, "explodes", sc.Stage)
	assert.Contains(t, err.Error(), "kaboom")
}

func TestPipeline_NextTwice(t *testing.T) {
	var second error
	p := New[string, *payload]()
	p.Use("double", func(ctx context.Context, bot string, pl *payload, next Next) error {
		if err := next(); err != nil {
			return err
		}
		second = next()
		return nil
	})
	p.Use("B", marker("B"))

	pl := &payload{}
	require.NoError(t, p.Run(context.Background(), "bot", pl))
	assert.ErrorIs(t, second, ErrNextCalled)
	assert.Equal(t, []string{"B"}, pl.markers)
}

func TestPipeline_StagesNeverOverlap(t *testing.T) {
	p := New[string, *payload]()
	p.Use("slow", func(ctx context.Context, bot string, pl *payload, next Next) error {
		time.Sleep(20 * time.Millisecond)
		pl.markers = append(pl.markers, "slow-done")
		return next()
	})
	p.Use("after", marker("after"))

	pl := &payload{}
	require.NoError(t, p.Run(context.Background(), "bot", pl))
	assert.Equal(t, []string{"slow-done", "after"}, pl.markers)
}

func TestPipeline_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	p := New[string, *payload]()
	p.Use("cancels", func(ctx context.Context, bot string, pl *payload, next Next) error {
		cancel()
		return next()
	})
	p.Use("B", marker("B"))

	pl := &payload{}
	err := p.Run(ctx, "bot", pl)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, pl.markers)
}

func TestPipeline_UseDuringRunDoesNotAffectRun(t *testing.T) {
	p := New[string, *payload]()
	p.Use("adds", func(ctx context.Context, bot string, pl *payload, next Next) error {
		p.Use("late", marker("late"))
		return next()
	})

	pl := &payload{}
	require.NoError(t, p.Run(context.Background(), "bot", pl))
	assert.Empty(t, pl.markers)
	assert.Equal(t, 2, p.Len())
}

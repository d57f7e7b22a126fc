package listener

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDebounce_CoalescesBurstIntoOneRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var runs atomic.Int32
	events := make(chan string)
	go Debounce(ctx, events, 50*time.Millisecond, func(context.Context) { runs.Add(1) }, discard())

	for i := 0; i < 10; i++ {
		events <- "orders"
	}

	assert.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, 10*time.Millisecond)
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(1), runs.Load())
}

func TestDebounce_SeparateBurstsRunSeparately(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var runs atomic.Int32
	events := make(chan string)
	go Debounce(ctx, events, 30*time.Millisecond, func(context.Context) { runs.Add(1) }, discard())

	events <- "inventory_batches"
	assert.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, 5*time.Millisecond)

	events <- "orders"
	assert.Eventually(t, func() bool { return runs.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestDebounce_NoEventsNoRun(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	var runs atomic.Int32
	Debounce(ctx, make(chan string), 10*time.Millisecond, func(context.Context) { runs.Add(1) }, discard())

	assert.Zero(t, runs.Load())
}

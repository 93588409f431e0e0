package middleware_test

import (
	"context"
	"iter"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bjaus/mediator"
	"github.com/bjaus/mediator/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type watchPrices struct{ SKU string }

func refreshingMediator(t *testing.T, rounds *atomic.Int32, opts ...mediator.RegisterOption) *mediator.Mediator {
	t.Helper()

	reg := mediator.NewRegistry()
	mediator.UseStreamMiddlewareAll(reg, middleware.NewTimerRefresh())
	require.NoError(t, mediator.RegisterStreamFunc(reg, func(ctx context.Context, q watchPrices) iter.Seq2[int, error] {
		round := int(rounds.Add(1))
		return func(yield func(int, error) bool) {
			for i := 1; i <= 2; i++ {
				if !yield(round*10+i, nil) {
					return
				}
			}
		}
	}, opts...))
	return mediator.New(reg)
}

func TestTimerRefresh(t *testing.T) {
	t.Run("repeats after interval", func(t *testing.T) {
		var rounds atomic.Int32
		m := refreshingMediator(t, &rounds, mediator.WithAttributes(middleware.TimerRefresh{Interval: 5 * time.Millisecond}))

		_, seq, err := mediator.Stream[int](context.Background(), m, watchPrices{SKU: "A1"})
		require.NoError(t, err)

		var got []int
		for v, err := range seq {
			require.NoError(t, err)
			got = append(got, v)
			if len(got) == 5 {
				break
			}
		}

		assert.Equal(t, []int{11, 12, 21, 22, 31}, got)
		assert.Equal(t, int32(3), rounds.Load())
	})

	t.Run("cancel ends the stream", func(t *testing.T) {
		var rounds atomic.Int32
		m := refreshingMediator(t, &rounds, mediator.WithAttributes(middleware.TimerRefresh{Interval: time.Hour}))

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		_, seq, err := mediator.Stream[int](ctx, m, watchPrices{SKU: "A1"})
		require.NoError(t, err)

		done := make(chan []int)
		go func() {
			var got []int
			for v, err := range seq {
				if err != nil {
					continue
				}
				got = append(got, v)
				if len(got) == 2 {
					cancel()
				}
			}
			done <- got
		}()

		select {
		case got := <-done:
			assert.Equal(t, []int{11, 12}, got)
		case <-time.After(time.Second):
			t.Fatal("stream did not stop after cancel")
		}
		assert.Equal(t, int32(1), rounds.Load())
	})

	t.Run("without attribute the stream is finite", func(t *testing.T) {
		var rounds atomic.Int32
		m := refreshingMediator(t, &rounds)

		_, seq, err := mediator.Stream[int](context.Background(), m, watchPrices{SKU: "A1"})
		require.NoError(t, err)

		var got []int
		for v, err := range seq {
			require.NoError(t, err)
			got = append(got, v)
		}

		assert.Equal(t, []int{11, 12}, got)
		assert.Equal(t, int32(1), rounds.Load())
	})
}

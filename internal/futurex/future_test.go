package futurex

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFuture_ResolveOnce(t *testing.T) {
	f := New[int]()

	var wg sync.WaitGroup
	wins := make(chan bool, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			wins <- f.Resolve(i, nil)
		}(i)
	}
	wg.Wait()
	close(wins)

	n := 0
	for w := range wins {
		if w {
			n++
		}
	}
	assert.Equal(t, 1, n)

	v1, err := f.Await(context.Background())
	require.NoError(t, err)
	v2, _ := f.Await(context.Background())
	assert.Equal(t, v1, v2)
}

func TestFuture_AwaitHonoursContext(t *testing.T) {
	f := New[string]()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := f.Await(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	f.Resolve("late", nil)
	v, err := f.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "late", v)
}

func TestThen(t *testing.T) {
	f := New[int]()
	g := Then(f, func(v int) (string, error) { return strconv.Itoa(v * 2), nil })
	f.Resolve(21, nil)

	v, err := g.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "42", v)

	boom := errors.New("boom")
	called := false
	h := Then(Resolved(0, boom), func(int) (int, error) { called = true; return 1, nil })
	_, err = h.Await(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.False(t, called)
}

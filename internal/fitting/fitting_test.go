package fitting_test

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"pipelined.dev/rowpipe/internal/fitting"
	"pipelined.dev/rowpipe/row"
)

var meta = row.NewMeta(row.Field{Name: "n", Type: row.TypeInteger})

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func rowOf(n int) row.Row {
	return row.MustNew(meta, int64(n))
}

func TestFIFO(t *testing.T) {
	ctx := context.Background()
	f := fitting.New(3)
	assert.Equal(t, 3, f.Cap())
	for i := 0; i < 3; i++ {
		require.NoError(t, f.Send(ctx, rowOf(i)))
	}
	assert.Equal(t, 3, f.Len())
	f.CloseSend()
	f.CloseSend()

	for i := 0; i < 3; i++ {
		r, err := f.Receive(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(i), r.Value(0))
	}
	r, err := f.Receive(ctx)
	assert.Equal(t, io.EOF, err)
	assert.True(t, r.IsZero())
	// end of stream is sticky.
	_, err = f.Receive(ctx)
	assert.Equal(t, io.EOF, err)
}

func TestBackpressure(t *testing.T) {
	ctx := context.Background()
	f := fitting.New(1)
	const rows = 1000
	go func() {
		for i := 0; i < rows; i++ {
			if err := f.Send(ctx, rowOf(i)); err != nil {
				return
			}
		}
		f.CloseSend()
	}()
	var received int
	for {
		r, err := f.Receive(ctx)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		assert.Equal(t, int64(received), r.Value(0))
		assert.LessOrEqual(t, f.Len(), 1)
		received++
	}
	assert.Equal(t, rows, received)
}

func TestCloseReceive(t *testing.T) {
	ctx := context.Background()
	f := fitting.New(1)
	require.NoError(t, f.Send(ctx, rowOf(0)))

	errc := make(chan error)
	go func() {
		// blocks because fitting is full.
		errc <- f.Send(ctx, rowOf(1))
	}()
	time.Sleep(10 * time.Millisecond)
	f.CloseReceive()
	f.CloseReceive()
	err := <-errc
	assert.True(t, errors.Is(err, fitting.ErrClosed))

	_, err = f.Receive(ctx)
	assert.True(t, errors.Is(err, fitting.ErrClosed))
	f.CloseSend()
}

func TestStop(t *testing.T) {
	t.Run("blocked receive", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		f := fitting.New(1)
		errc := make(chan error)
		go func() {
			_, err := f.Receive(ctx)
			errc <- err
		}()
		cancel()
		assert.Equal(t, context.Canceled, <-errc)
	})
	t.Run("blocked send", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		f := fitting.New(1)
		require.NoError(t, f.Send(ctx, rowOf(0)))
		errc := make(chan error)
		go func() {
			errc <- f.Send(ctx, rowOf(1))
		}()
		cancel()
		assert.Equal(t, context.Canceled, <-errc)
	})
	t.Run("stop wins over end of stream", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		f := fitting.New(1)
		f.CloseSend()
		cancel()
		_, err := f.Receive(ctx)
		assert.Equal(t, context.Canceled, err)
	})
}

func TestShapeMismatch(t *testing.T) {
	ctx := context.Background()
	f := fitting.New(2)
	require.NoError(t, f.Send(ctx, rowOf(0)))
	other := row.MustNew(row.NewMeta(row.Field{Name: "n", Type: row.TypeString}), "x")
	err := f.Send(ctx, other)
	assert.True(t, errors.Is(err, fitting.ErrShapeMismatch))

	renamed := row.MustNew(row.NewMeta(row.Field{Name: "m", Type: row.TypeInteger}), int64(1))
	assert.NoError(t, f.Send(ctx, renamed))
}

func TestSendAfterClose(t *testing.T) {
	f := fitting.New(1)
	f.CloseSend()
	err := f.Send(context.Background(), rowOf(0))
	assert.True(t, errors.Is(err, fitting.ErrClosed))
}

func TestTryReceive(t *testing.T) {
	ctx := context.Background()
	f := fitting.New(2)
	_, ok, err := f.TryReceive(ctx)
	assert.False(t, ok)
	assert.NoError(t, err)

	require.NoError(t, f.Send(ctx, rowOf(5)))
	r, ok, err := f.TryReceive(ctx)
	assert.True(t, ok)
	assert.NoError(t, err)
	assert.Equal(t, int64(5), r.Value(0))

	f.CloseSend()
	_, ok, err = f.TryReceive(ctx)
	assert.False(t, ok)
	assert.Equal(t, io.EOF, err)
}

func TestSelect(t *testing.T) {
	ctx := context.Background()
	inputs := []*fitting.Fitting{fitting.New(1), fitting.New(1)}
	require.NoError(t, inputs[1].Send(ctx, rowOf(1)))
	idx, r, err := fitting.Select(ctx, inputs)
	require.NoError(t, err)
	assert.Equal(t, 1, idx)
	assert.Equal(t, int64(1), r.Value(0))

	inputs[0].CloseSend()
	idx, _, err = fitting.Select(ctx, inputs)
	assert.Equal(t, 0, idx)
	assert.Equal(t, io.EOF, err)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, _, err = fitting.Select(cctx, inputs[1:])
	assert.Equal(t, context.Canceled, err)
	inputs[1].CloseSend()
}

func TestUnbounded(t *testing.T) {
	ctx := context.Background()
	f := fitting.NewUnbounded(2)
	const rows = 100
	for i := 0; i < rows; i++ {
		require.NoError(t, f.Send(ctx, rowOf(i)))
	}
	assert.Equal(t, rows, f.Len())
	f.CloseSend()

	other := fitting.New(1)
	defer other.CloseSend()
	for i := 0; i < rows; i++ {
		var (
			r   row.Row
			err error
		)
		if i%2 == 0 {
			r, err = f.Receive(ctx)
		} else {
			_, r, err = fitting.Select(ctx, []*fitting.Fitting{other, f})
		}
		require.NoError(t, err)
		assert.Equal(t, int64(i), r.Value(0))
	}
	assert.Equal(t, 0, f.Len())
	_, err := f.Receive(ctx)
	assert.Equal(t, io.EOF, err)

	g := fitting.NewUnbounded(1)
	g.CloseReceive()
	assert.ErrorIs(t, g.Send(ctx, rowOf(0)), fitting.ErrClosed)
}

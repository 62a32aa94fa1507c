// Package fitting provides the bounded row channel that connects two
// transform instances.
package fitting

import (
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"
	"sync"

	"pipelined.dev/rowpipe/row"
)

var (
	// ErrClosed is returned when the other end of the fitting was closed
	// early by its owner.
	ErrClosed = errors.New("fitting closed")
	// ErrShapeMismatch is returned when the row doesn't match the shape
	// established by the first row sent.
	ErrShapeMismatch = errors.New("row shape mismatch")
)

// Fitting is a bounded FIFO of rows with a single producer and a single
// consumer. Producer owns Send and CloseSend, consumer owns Receive and
// CloseReceive.
type Fitting struct {
	rows chan row.Row
	// done is closed when consumer aborts.
	done        chan struct{}
	sendOnce    sync.Once
	receiveOnce sync.Once

	// producer-owned state.
	sendClosed bool
	shaped     bool
	shape      row.Meta

	// unbounded fittings keep rows that don't fit the channel in backlog.
	// Backlog is moved into the channel by consumer after every receive,
	// so it's never empty while the channel has room.
	unbounded bool
	mu        sync.Mutex
	backlog   []row.Row
	closing   bool
}

// New returns a fitting that buffers up to capacity rows. Capacity must
// be positive.
func New(capacity int) *Fitting {
	if capacity < 1 {
		panic(fmt.Sprintf("fitting capacity must be positive: %d", capacity))
	}
	return &Fitting{
		rows: make(chan row.Row, capacity),
		done: make(chan struct{}),
	}
}

// NewUnbounded returns a fitting whose Send never blocks. Rows that exceed
// capacity are queued in memory.
func NewUnbounded(capacity int) *Fitting {
	f := New(capacity)
	f.unbounded = true
	return f
}

// Send puts the row into the fitting. It blocks while the fitting is at
// capacity. ErrClosed is returned if consumer closed its end and context
// error is returned if context is done.
func (f *Fitting) Send(ctx context.Context, r row.Row) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.sendClosed {
		return fmt.Errorf("send after close: %w", ErrClosed)
	}
	if !f.shaped {
		f.shape, f.shaped = r.Meta(), true
	} else if !f.shape.Compatible(r.Meta()) {
		return fmt.Errorf("%w: expected %v, got %v", ErrShapeMismatch, f.shape, r.Meta())
	}
	select {
	case <-f.done:
		return ErrClosed
	default:
	}
	if f.unbounded {
		f.enqueue(r)
		return nil
	}
	select {
	case f.rows <- r:
		return nil
	case <-f.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Fitting) enqueue(r row.Row) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.backlog) == 0 {
		select {
		case f.rows <- r:
			return
		default:
		}
	}
	f.backlog = append(f.backlog, r)
}

// refill moves backlog into the channel. Channel is closed once backlog
// is drained after CloseSend.
func (f *Fitting) refill() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for len(f.backlog) > 0 {
		select {
		case f.rows <- f.backlog[0]:
			f.backlog[0] = row.Row{}
			f.backlog = f.backlog[1:]
			continue
		default:
		}
		return
	}
	if f.closing {
		f.closing = false
		close(f.rows)
	}
}

// Receive returns the next row. It blocks until a row is available. After
// all buffered rows are drained and producer closed its end, io.EOF is
// returned. Context error is returned if context is done.
func (f *Fitting) Receive(ctx context.Context) (row.Row, error) {
	if err := f.check(ctx); err != nil {
		return row.Row{}, err
	}
	select {
	case r, ok := <-f.rows:
		return f.received(ctx, r, ok)
	case <-ctx.Done():
		return row.Row{}, ctx.Err()
	}
}

// TryReceive returns the next buffered row without blocking. ok is false
// if nothing is buffered right now.
func (f *Fitting) TryReceive(ctx context.Context) (r row.Row, ok bool, err error) {
	if err := f.check(ctx); err != nil {
		return row.Row{}, false, err
	}
	select {
	case r, open := <-f.rows:
		r, err = f.received(ctx, r, open)
		return r, err == nil, err
	default:
		return row.Row{}, false, nil
	}
}

// CloseSend signals end of stream to the consumer. Rows that are already
// buffered are still delivered.
func (f *Fitting) CloseSend() {
	f.sendOnce.Do(func() {
		f.sendClosed = true
		f.mu.Lock()
		defer f.mu.Unlock()
		if len(f.backlog) > 0 {
			f.closing = true
			return
		}
		close(f.rows)
	})
}

// CloseReceive releases producer blocked on Send. Buffered rows are
// discarded.
func (f *Fitting) CloseReceive() {
	f.receiveOnce.Do(func() {
		close(f.done)
	})
}

// Len returns number of buffered rows.
func (f *Fitting) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows) + len(f.backlog)
}

// Cap returns capacity of the fitting.
func (f *Fitting) Cap() int {
	return cap(f.rows)
}

func (f *Fitting) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-f.done:
		return fmt.Errorf("receive after close: %w", ErrClosed)
	default:
		return nil
	}
}

// received converts channel result into fitting result. When stop and end
// of stream happen together, stop wins.
func (f *Fitting) received(ctx context.Context, r row.Row, ok bool) (row.Row, error) {
	if ok {
		if f.unbounded {
			f.refill()
		}
		return r, nil
	}
	if err := ctx.Err(); err != nil {
		return row.Row{}, err
	}
	return row.Row{}, io.EOF
}

// Select receives the next row from any of provided fittings that has one
// ready. It returns the index of the fitting. If selected fitting is
// drained and closed, io.EOF is returned together with its index.
func Select(ctx context.Context, fittings []*Fitting) (int, row.Row, error) {
	if err := ctx.Err(); err != nil {
		return -1, row.Row{}, err
	}
	if len(fittings) == 1 {
		r, err := fittings[0].Receive(ctx)
		return 0, r, err
	}
	cases := make([]reflect.SelectCase, len(fittings)+1)
	for i, f := range fittings {
		if err := f.check(ctx); err != nil {
			return i, row.Row{}, err
		}
		cases[i] = reflect.SelectCase{
			Dir:  reflect.SelectRecv,
			Chan: reflect.ValueOf(f.rows),
		}
	}
	cases[len(fittings)] = reflect.SelectCase{
		Dir:  reflect.SelectRecv,
		Chan: reflect.ValueOf(ctx.Done()),
	}
	chosen, v, ok := reflect.Select(cases)
	if chosen == len(fittings) {
		return -1, row.Row{}, ctx.Err()
	}
	var r row.Row
	if ok {
		r = v.Interface().(row.Row)
	}
	r, err := fittings[chosen].received(ctx, r, ok)
	return chosen, r, err
}

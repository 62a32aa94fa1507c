package rowpipe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"pipelined.dev/rowpipe/internal/fitting"
	"pipelined.dev/rowpipe/metric"
	"pipelined.dev/rowpipe/row"
)

// errOutputsClosed is returned when consumers of all normal outputs
// closed their ends.
var errOutputsClosed = errors.New("all outputs closed")

type (
	// Counters are row counters of a single transform instance.
	Counters struct {
		// Read is the number of rows received from all inputs.
		Read int64
		// Written is the number of rows sent to normal outputs. A row
		// copied to multiple outputs is counted once per output.
		Written int64
		// Processed is the number of input rows processed without error.
		// For sources it's the number of emitted rows.
		Processed int64
		// Rejected is the number of rows that failed processing or were
		// rejected explicitly.
		Rejected int64
	}

	// instance executes a single transform during one run.
	instance struct {
		*node
		id      string
		log     logrus.FieldLogger
		meter   *metric.Meter
		monitor *monitor
		inputs  []*port
		outputs []*port
		errOut  *port
		targets map[string]*port
		next    int
		out     Output

		opened   bool
		failures int

		// published after terminal state.
		status   Status
		err      error
		seq      int
		failedAt time.Time
		Counters
	}

	// port is one end of the hop.
	port struct {
		*link
		*fitting.Fitting
		done bool
	}
)

// open transitions instance into running state and calls open hook.
func (in *instance) open(ctx context.Context) error {
	in.setStatus(Running)
	if err := in.Transform.Open(ctx); err != nil {
		return &OpenError{Transform: in.Name, Err: err}
	}
	in.opened = true
	return nil
}

// run executes the processing loop until instance reaches terminal
// state.
func (in *instance) run(ctx context.Context) {
	in.log.Debug("started")
	var err error
	switch {
	case len(in.inputs) == 0:
		err = in.pump(ctx)
	case in.Input == Lockstep:
		err = in.lockstep(ctx)
	default:
		err = in.merge(ctx)
	}
	in.terminate(ctx, err)
}

// pump calls source until it returns io.EOF.
func (in *instance) pump(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := in.call(ctx, nil); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

// merge receives rows from whichever input is ready. Feedback inputs
// are drained when all forward inputs are done.
func (in *instance) merge(ctx context.Context) error {
	var (
		live    = make([]*port, 0, len(in.inputs))
		forward int
	)
	for _, p := range in.inputs {
		live = append(live, p)
		if !p.feedback {
			forward++
		}
	}
	fittings := fittingsOf(live)
	input := make(Input, 1)
	for forward > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		i, r, err := fitting.Select(ctx, fittings)
		if err == io.EOF {
			p := live[i]
			p.done = true
			if !p.feedback {
				forward--
			}
			live = append(live[:i], live[i+1:]...)
			fittings = fittingsOf(live)
			continue
		}
		if err != nil {
			return err
		}
		in.received()
		input[0] = r
		if err := in.call(ctx, input); err != nil {
			return err
		}
	}
	return in.drain(ctx, live)
}

// drain processes rows that are already buffered in feedback inputs and
// closes them.
func (in *instance) drain(ctx context.Context, feedback []*port) error {
	input := make(Input, 1)
	for _, p := range feedback {
		// rows sent back while draining are not awaited.
		for n := p.Len(); n > 0 && !p.done; n-- {
			r, ok, err := p.TryReceive(ctx)
			switch {
			case err == io.EOF:
				p.done = true
			case err != nil:
				return err
			case !ok:
				p.done = true
			default:
				in.received()
				input[0] = r
				if err := in.call(ctx, input); err != nil {
					return err
				}
			}
		}
		p.CloseReceive()
	}
	return nil
}

// lockstep receives one row from every input that is not done.
func (in *instance) lockstep(ctx context.Context) error {
	input := make(Input, len(in.inputs))
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		var received bool
		for i, p := range in.inputs {
			input[i] = row.Row{}
			if p.done {
				continue
			}
			r, err := p.Receive(ctx)
			if err == io.EOF {
				p.done = true
				continue
			}
			if err != nil {
				return err
			}
			in.received()
			input[i] = r
			received = true
		}
		if !received {
			return nil
		}
		if err := in.call(ctx, input); err != nil {
			return err
		}
	}
}

// call executes process hook and delivers collected rows. io.EOF is
// returned when source is done. Rows are counted as processed only after
// they are delivered.
func (in *instance) call(ctx context.Context, input Input) error {
	in.out.reset()
	calledAt := time.Now()
	err := in.Transform.Process(ctx, input, &in.out)
	in.meter.Call(time.Since(calledAt))
	if err != nil && !(len(input) == 0 && err == io.EOF) {
		return in.handle(ctx, input, err)
	}
	sent, derr := in.deliver(ctx)
	processed := sent
	if len(input) > 0 {
		processed = 0
		if derr == nil {
			processed = 1
		}
	}
	in.Processed += int64(processed)
	in.meter.Processed(processed)
	if derr != nil {
		return derr
	}
	return err
}

// handle applies error policy to the processing error.
func (in *instance) handle(ctx context.Context, input Input, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return err
	}
	perr := &RowProcessingError{Transform: in.Name, Row: input.Row(), Err: err}
	if len(input) == 0 || in.OnError == FailFast {
		return perr
	}
	in.failures++
	if in.MaxErrors > 0 && in.failures > in.MaxErrors {
		return fmt.Errorf("%w (%d): %w", ErrMaxErrors, in.MaxErrors, perr)
	}
	in.log.WithError(err).Warn("row rejected")
	return in.reject(ctx, input.Row(), err)
}

// deliver sends rows collected in output. It returns the number of
// emitted rows that were sent.
func (in *instance) deliver(ctx context.Context) (int, error) {
	var sent int
	for _, r := range in.out.rows {
		if err := in.emit(ctx, r); err != nil {
			return sent, err
		}
		sent++
	}
	for _, rt := range in.out.routed {
		p, ok := in.targets[rt.target]
		if !ok {
			return sent, fmt.Errorf("%w: %q", ErrUnknownTarget, rt.target)
		}
		if err := in.send(ctx, p, rt.row); err != nil {
			return sent, err
		}
		sent++
	}
	for _, rj := range in.out.rejects {
		if err := in.reject(ctx, rj.row, rj.err); err != nil {
			return sent, err
		}
	}
	return sent, nil
}

// emit copies the row to all normal outputs or sends it to the next one
// if instance distributes rows.
func (in *instance) emit(ctx context.Context, r row.Row) error {
	if !in.Distribute {
		for _, p := range in.outputs {
			if err := in.send(ctx, p, r); err != nil {
				return err
			}
		}
		return nil
	}
	for range in.outputs {
		p := in.outputs[in.next]
		in.next = (in.next + 1) % len(in.outputs)
		if !p.done {
			return in.send(ctx, p, r)
		}
	}
	return nil
}

// send puts the row into normal output. Closed outputs are dropped.
func (in *instance) send(ctx context.Context, p *port, r row.Row) error {
	if p.done {
		return nil
	}
	err := p.Send(ctx, r)
	switch {
	case err == nil:
		in.Written++
		in.meter.Written()
		return nil
	case errors.Is(err, ErrChannelClosed):
		p.done = true
		in.log.WithField("to", p.To).Debug("output closed by consumer")
		for _, o := range in.outputs {
			if !o.done {
				return nil
			}
		}
		return errOutputsClosed
	}
	return err
}

// reject counts the row and sends it to the error output if possible.
func (in *instance) reject(ctx context.Context, r row.Row, cause error) error {
	in.Rejected++
	in.meter.Rejected()
	if in.errOut == nil || in.errOut.done || r.IsZero() {
		return nil
	}
	er, err := in.errorRow(r, cause)
	if err != nil {
		return fmt.Errorf("%w: rejected row %v: %v", ErrShapeMismatch, r, err)
	}
	if err := in.errOut.Send(ctx, er); err != nil {
		if errors.Is(err, ErrChannelClosed) {
			in.errOut.done = true
			in.log.WithField("to", in.errOut.To).Debug("error output closed by consumer")
			return nil
		}
		return err
	}
	return nil
}

// errorRow attaches error description to the row. Error fields are
// overwritten if the row already has them.
func (in *instance) errorRow(r row.Row, cause error) (row.Row, error) {
	if r.Len() != in.errMeta.Len() {
		return r.Extend(in.errMeta, in.Name, cause.Error())
	}
	values := r.Values()
	values[len(values)-2] = in.Name
	values[len(values)-1] = cause.Error()
	return row.New(in.errMeta, values...)
}

func (in *instance) received() {
	in.Read++
	in.meter.Read()
}

// terminate moves instance into terminal state.
func (in *instance) terminate(ctx context.Context, err error) {
	switch {
	case err == nil:
		if err = in.finalize(ctx); err == nil {
			in.finish(Finished, nil)
			return
		}
		if stopped(ctx, err) {
			in.finish(Stopped, nil)
			return
		}
		in.fail(ctx, err)
	case stopped(ctx, err):
		if cerr := in.close(ctx); cerr != nil {
			in.finish(Failed, cerr)
			return
		}
		in.finish(Stopped, nil)
	default:
		in.fail(ctx, err)
	}
}

// finalize calls close hook and delivers flushed rows.
func (in *instance) finalize(ctx context.Context) error {
	if err := in.close(ctx); err != nil {
		return err
	}
	_, err := in.deliver(ctx)
	return err
}

// close calls close hook if instance was opened. Hook gets a context
// that is not cancelled by stop.
func (in *instance) close(ctx context.Context) error {
	if !in.opened {
		return nil
	}
	in.opened = false
	in.out.reset()
	if err := in.Transform.Close(context.WithoutCancel(ctx), &in.out); err != nil {
		return &FinalizationError{Transform: in.Name, Err: err}
	}
	return nil
}

// fail closes the hook and notifies the engine with the final error.
// Outputs are closed after the engine requested stop, so downstream
// observes stop rather than end of stream.
func (in *instance) fail(ctx context.Context, err error) {
	if cerr := in.close(ctx); cerr != nil {
		err = execErrors{err, cerr}.ret()
	}
	in.finish(Failed, err)
}

// finish sets terminal state, notifies the engine and closes ports.
func (in *instance) finish(status Status, err error) {
	in.setStatus(status)
	in.err = err
	entry := in.log.WithFields(logrus.Fields{
		"read":      in.Read,
		"written":   in.Written,
		"processed": in.Processed,
		"rejected":  in.Rejected,
	})
	if err != nil {
		entry.WithError(err).Error(status)
	} else {
		entry.Debug(status)
	}
	in.monitor.done(in)
	for _, p := range in.inputs {
		p.CloseReceive()
	}
	for _, p := range in.outputs {
		p.CloseSend()
	}
	if in.errOut != nil {
		in.errOut.CloseSend()
	}
}

func (in *instance) setStatus(s Status) {
	status, err := transition(in.status, s)
	if err != nil {
		in.log.WithError(err).Error("transition")
		return
	}
	in.status = status
}

func (in *instance) result() TransformResult {
	return TransformResult{
		Name:      in.Name,
		ID:        in.id,
		Status:    in.status,
		Tolerated: in.Tolerated,
		Err:       in.err,
		Counters:  in.Counters,
	}
}

// stopped returns true if the error means that instance observed a stop.
func stopped(ctx context.Context, err error) bool {
	if errors.Is(err, errOutputsClosed) {
		return true
	}
	ctxErr := ctx.Err()
	return ctxErr != nil && errors.Is(err, ctxErr)
}

func fittingsOf(ports []*port) []*fitting.Fitting {
	fittings := make([]*fitting.Fitting, len(ports))
	for i := range ports {
		fittings[i] = ports[i].Fitting
	}
	return fittings
}

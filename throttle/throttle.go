// Package throttle provides a transform that limits the rate of rows.
package throttle

import (
	"context"

	"golang.org/x/time/rate"

	"pipelined.dev/rowpipe"
	"pipelined.dev/rowpipe/internal/validate"
	"pipelined.dev/rowpipe/row"
)

// Config of the rate limit.
type Config struct {
	RowsPerSecond float64 `yaml:"rows_per_second" validate:"gt=0"`
	// Burst is the number of rows passed without delay. Default is one.
	Burst int `yaml:"burst" validate:"gte=0"`
}

// Throttle delays rows to keep them under the rate limit.
type Throttle struct {
	cfg     Config
	limiter *rate.Limiter
}

// New validates the config.
func New(cfg Config) (*Throttle, error) {
	if err := validate.Struct(cfg); err != nil {
		return nil, err
	}
	if cfg.Burst == 0 {
		cfg.Burst = 1
	}
	return &Throttle{cfg: cfg}, nil
}

// Meta implements rowpipe.Transform.
func (t *Throttle) Meta(inputs []row.Meta) (row.Meta, error) {
	if len(inputs) == 0 {
		return row.Meta{}, rowpipe.ErrNoInput
	}
	return inputs[0], nil
}

// Open implements rowpipe.Transform.
func (t *Throttle) Open(context.Context) error {
	t.limiter = rate.NewLimiter(rate.Limit(t.cfg.RowsPerSecond), t.cfg.Burst)
	return nil
}

// Process implements rowpipe.Transform.
func (t *Throttle) Process(ctx context.Context, in rowpipe.Input, out *rowpipe.Output) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	out.Emit(in.Row())
	return nil
}

// Close implements rowpipe.Transform.
func (*Throttle) Close(context.Context, *rowpipe.Output) error {
	return nil
}

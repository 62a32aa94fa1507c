package rowpipe

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"pipelined.dev/rowpipe/metric"
)

// Option provides a way to set functional parameters to pipe.
type Option func(p *Pipe) error

// WithName sets name to Pipe.
func WithName(n string) Option {
	return func(p *Pipe) error {
		p.name = n
		return nil
	}
}

// WithBufferSize sets default capacity of channels between transforms.
func WithBufferSize(size int) Option {
	return func(p *Pipe) error {
		if size < 1 {
			return fmt.Errorf("buffer size must be positive: %d", size)
		}
		p.bufferSize = size
		return nil
	}
}

// WithLogger sets logger to Pipe. If this option is not provided, silent
// logger is used.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(p *Pipe) error {
		p.log = logger
		return nil
	}
}

// WithMetrics adds meterics for this pipe and all transforms.
func WithMetrics(m *metric.Metrics) Option {
	return func(p *Pipe) error {
		p.metrics = m
		return nil
	}
}

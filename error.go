package rowpipe

import (
	"errors"
	"fmt"
	"strings"

	"pipelined.dev/rowpipe/internal/fitting"
	"pipelined.dev/rowpipe/row"
)

var (
	// ErrNoInput is returned by Transform.Meta when transform requires at
	// least one input, but none is wired.
	ErrNoInput = errors.New("transform requires input")
	// ErrInvalidGraph is returned when graph definition is malformed.
	ErrInvalidGraph = errors.New("invalid graph")
	// ErrChannelClosed is returned when consumer end of the channel was
	// closed early. Producers handle it by dropping the output.
	ErrChannelClosed = fitting.ErrClosed
	// ErrShapeMismatch is returned when a row doesn't match the shape of
	// the channel.
	ErrShapeMismatch = fitting.ErrShapeMismatch
	// ErrMaxErrors is returned when transform exceeds allowed number of
	// row processing errors.
	ErrMaxErrors = errors.New("max errors exceeded")
	// ErrUnknownTarget is returned when a row is emitted to a transform
	// that is not connected with a normal hop.
	ErrUnknownTarget = errors.New("unknown target")
)

// SchemaError is returned when row shapes contradict at compile time.
type SchemaError struct {
	Transform string
	Err       error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema error in %q: %v", e.Transform, e.Err)
}

// Unwrap returns the cause.
func (e *SchemaError) Unwrap() error {
	return e.Err
}

// GraphCycleError is returned when normal hops form a cycle. Cycle
// contains names of all transforms that couldn't be ordered.
type GraphCycleError struct {
	Cycle []string
}

func (e *GraphCycleError) Error() string {
	return fmt.Sprintf("graph cycle between: %s", strings.Join(e.Cycle, ", "))
}

// RowProcessingError is returned when transform fails to process a row.
type RowProcessingError struct {
	Transform string
	// Row is the input row that caused the error. It's zero for sources.
	Row row.Row
	Err error
}

func (e *RowProcessingError) Error() string {
	if e.Row.IsZero() {
		return fmt.Sprintf("processing error in %q: %v", e.Transform, e.Err)
	}
	return fmt.Sprintf("processing error in %q on row %v: %v", e.Transform, e.Row, e.Err)
}

// Unwrap returns the cause.
func (e *RowProcessingError) Unwrap() error {
	return e.Err
}

// FinalizationError is returned when transform fails to close.
type FinalizationError struct {
	Transform string
	Err       error
}

func (e *FinalizationError) Error() string {
	return fmt.Sprintf("finalization error in %q: %v", e.Transform, e.Err)
}

// Unwrap returns the cause.
func (e *FinalizationError) Unwrap() error {
	return e.Err
}

// OpenError is returned when transform fails to open. No rows are
// processed by any transform in this case.
type OpenError struct {
	Transform string
	Err       error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("open error in %q: %v", e.Transform, e.Err)
}

// Unwrap returns the cause.
func (e *OpenError) Unwrap() error {
	return e.Err
}

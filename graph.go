package rowpipe

import (
	"fmt"
	"strings"
)

type (
	// Graph is a definition of the pipeline: transforms and hops between
	// them. Declaration order of transforms is used to order results and
	// to break ties.
	Graph struct {
		Transforms []Definition
		Hops       []Hop
	}

	// Definition declares a transform node of the graph.
	Definition struct {
		Name      string
		Transform Transform
		// OnError defines what happens when Process returns an error.
		OnError ErrorPolicy
		// MaxErrors limits number of processing errors for Continue
		// policy. Zero means no limit.
		MaxErrors int
		// Tolerated failures don't fail the pipeline and don't stop
		// other transforms.
		Tolerated bool
		// Distribute sends every row to one of normal outputs in
		// round-robin order instead of copying it to all of them.
		Distribute bool
		// Input defines how rows from multiple inputs are consumed.
		Input InputMode
	}

	// Hop connects two transforms. Error hops carry rows rejected by
	// the producer.
	Hop struct {
		From  string
		To    string
		Error bool
		// Buffer overrides pipe buffer size for this hop.
		Buffer int
	}
)

// ErrorPolicy defines how transform handles row processing errors.
type ErrorPolicy int

const (
	// FailFast fails the transform on the first processing error.
	FailFast ErrorPolicy = iota
	// Continue routes failed rows to the error hop and carries on.
	Continue
)

// ParseErrorPolicy returns the policy with provided name.
func ParseErrorPolicy(s string) (ErrorPolicy, error) {
	switch strings.ToLower(s) {
	case "", "failfast", "fail-fast", "fail_fast":
		return FailFast, nil
	case "continue":
		return Continue, nil
	}
	return FailFast, fmt.Errorf("unknown error policy %q", s)
}

func (p ErrorPolicy) String() string {
	if p == Continue {
		return "Continue"
	}
	return "FailFast"
}

// InputMode defines how instance reads multiple inputs.
type InputMode int

const (
	// Merge receives rows from whichever input has one ready. All inputs
	// must have compatible shapes.
	Merge InputMode = iota
	// Lockstep receives one row from each input for every call. Inputs
	// may have different shapes.
	Lockstep
)

// ParseInputMode returns the mode with provided name.
func ParseInputMode(s string) (InputMode, error) {
	switch strings.ToLower(s) {
	case "", "merge":
		return Merge, nil
	case "lockstep":
		return Lockstep, nil
	}
	return Merge, fmt.Errorf("unknown input mode %q", s)
}

func (m InputMode) String() string {
	if m == Lockstep {
		return "Lockstep"
	}
	return "Merge"
}

func (h Hop) String() string {
	if h.Error {
		return fmt.Sprintf("%s-(error)->%s", h.From, h.To)
	}
	return fmt.Sprintf("%s->%s", h.From, h.To)
}

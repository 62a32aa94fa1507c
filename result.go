package rowpipe

import (
	"fmt"
	"strings"
	"time"
)

type (
	// Result is the outcome of a pipeline run.
	Result struct {
		RunID    string
		Pipeline string
		Status   Status
		// Err is the first fatal error. Failures are ordered by the time
		// instances failed, ties are broken by declaration order.
		Err        error
		Transforms []TransformResult
		Started    time.Time
		Finished   time.Time
	}

	// TransformResult is the outcome of a single transform instance.
	TransformResult struct {
		Name      string
		ID        string
		Status    Status
		Tolerated bool
		Err       error
		Counters
	}
)

// Transform returns result of the named transform.
func (r Result) Transform(name string) (TransformResult, bool) {
	for _, t := range r.Transforms {
		if t.Name == name {
			return t, true
		}
	}
	return TransformResult{}, false
}

// Duration returns the time it took to run the pipeline.
func (r Result) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

func (r Result) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "pipeline %q run %s: %v in %v", r.Pipeline, r.RunID, r.Status, r.Duration())
	if r.Err != nil {
		fmt.Fprintf(&b, ": %v", r.Err)
	}
	for _, t := range r.Transforms {
		fmt.Fprintf(&b, "\n  %s: %v read=%d written=%d processed=%d rejected=%d",
			t.Name, t.Status, t.Read, t.Written, t.Processed, t.Rejected)
	}
	return b.String()
}

// aggregate builds result from instances in declaration order.
func aggregate(instances []*instance) (Status, error) {
	var (
		failed, stop bool
		first        *instance
	)
	for _, in := range instances {
		switch in.status {
		case Failed:
			if in.Tolerated {
				continue
			}
			failed = true
			if first == nil || in.seq < first.seq {
				first = in
			}
		case Stopped:
			stop = true
		}
	}
	switch {
	case failed:
		return Failed, first.err
	case stop:
		return Stopped, nil
	}
	return Finished, nil
}

package rowpipe

import (
	"context"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"pipelined.dev/rowpipe/internal/fitting"
	"pipelined.dev/rowpipe/log"
	"pipelined.dev/rowpipe/metric"
	"pipelined.dev/rowpipe/row"
)

// DefaultBufferSize is the capacity of channels if WithBufferSize option
// is not provided.
const DefaultBufferSize = 10000

// Pipe is a compiled pipeline. Every call to Async starts a new run with
// fresh channels and instances. Runs of the same pipe must not overlap,
// because transforms are shared.
type Pipe struct {
	name       string
	bufferSize int
	log        logrus.FieldLogger
	metrics    *metric.Metrics

	nodes []*node
	order []*node
}

// New validates the graph, resolves row metadata of every transform and
// applies provided options. No transform is opened.
func New(g Graph, options ...Option) (*Pipe, error) {
	p := &Pipe{
		name:       newUID(),
		bufferSize: DefaultBufferSize,
		log:        log.Silent(),
	}
	for _, option := range options {
		if err := option(p); err != nil {
			return nil, err
		}
	}
	nodes, order, err := compile(g)
	if err != nil {
		return nil, err
	}
	p.nodes, p.order = nodes, order
	return p, nil
}

// Run compiles the graph and runs it until completion. Compile errors are
// returned in failed result without starting any transform.
func Run(ctx context.Context, g Graph, options ...Option) (Result, error) {
	p, err := New(g, options...)
	if err != nil {
		return Result{Status: Failed, Err: err}, err
	}
	res := p.Run(ctx)
	return res, res.Err
}

// Run starts the pipe and waits for its result.
func (p *Pipe) Run(ctx context.Context) Result {
	return p.Async(ctx).Await()
}

// Name returns the name of the pipe.
func (p *Pipe) Name() string {
	return p.name
}

// Names returns transform names in topological order.
func (p *Pipe) Names() []string {
	names := make([]string, len(p.order))
	for i, n := range p.order {
		names[i] = n.Name
	}
	return names
}

// Meta returns resolved metadata of the transform output.
func (p *Pipe) Meta(name string) (row.Meta, bool) {
	for _, n := range p.nodes {
		if n.Name == name {
			return n.meta, true
		}
	}
	return row.Meta{}, false
}

// ErrorMeta returns metadata of rows sent over the error hop of the
// transform. False is returned if transform has no error hop.
func (p *Pipe) ErrorMeta(name string) (row.Meta, bool) {
	for _, n := range p.nodes {
		if n.Name == name && n.errOut != nil {
			return n.errMeta, true
		}
	}
	return row.Meta{}, false
}

// instances wires a new set of instances with fresh fittings.
func (p *Pipe) instances(runID string, m *monitor) []*instance {
	byNode := make(map[*node]*instance, len(p.nodes))
	instances := make([]*instance, len(p.nodes))
	for i, n := range p.nodes {
		id := newUID()
		in := &instance{
			node: n,
			id:   id,
			log: p.log.WithFields(logrus.Fields{
				"pipeline":  p.name,
				"run":       runID,
				"transform": n.Name,
				"id":        id,
			}),
			meter:   p.metrics.Meter(p.name, n.Name),
			monitor: m,
			targets: make(map[string]*port),
		}
		byNode[n] = in
		instances[i] = in
	}
	for _, n := range p.nodes {
		producer := byNode[n]
		links := n.outputs
		if n.errOut != nil {
			links = append(links[:len(links):len(links)], n.errOut)
		}
		for _, l := range links {
			capacity := p.bufferSize
			if l.Buffer > 0 {
				capacity = l.Buffer
			}
			f := fitting.New(capacity)
			if l.feedback {
				// feedback producer must not wait for its own consumer.
				f = fitting.NewUnbounded(capacity)
			}
			out := &port{link: l, Fitting: f}
			if l.Error {
				producer.errOut = out
			} else {
				producer.outputs = append(producer.outputs, out)
				producer.targets[l.To] = out
			}
			consumer := byNode[l.to]
			consumer.inputs = append(consumer.inputs, &port{link: l, Fitting: f})
		}
	}
	// inputs follow hop declaration order.
	for _, in := range instances {
		sortInputs(in)
	}
	return instances
}

func sortInputs(in *instance) {
	ordered := make([]*port, 0, len(in.inputs))
	for _, l := range in.node.inputs {
		for _, p := range in.inputs {
			if p.link == l {
				ordered = append(ordered, p)
				break
			}
		}
	}
	in.inputs = ordered
}

// newUID returns new unique id value.
func newUID() string {
	return xid.New().String()
}

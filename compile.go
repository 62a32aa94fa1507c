package rowpipe

import (
	"errors"
	"fmt"

	"pipelined.dev/rowpipe/row"
)

// Fields appended to rows sent over error hops.
const (
	ErrorTransformField   = "error_transform"
	ErrorDescriptionField = "error_description"
)

type (
	// node is a compiled transform definition.
	node struct {
		Definition
		pos     int
		meta    row.Meta
		errMeta row.Meta
		inputs  []*link
		outputs []*link
		errOut  *link
		// forward degree for topological ordering.
		indegree int
	}

	// link is a compiled hop.
	link struct {
		Hop
		from, to *node
		// feedback error hops lead back to transforms that feed their
		// producer.
		feedback bool
		meta     row.Meta
	}
)

// compile validates the graph, orders transforms and resolves metadata of
// every transform. Nodes are returned in declaration and topological
// orders.
func compile(g Graph) ([]*node, []*node, error) {
	nodes, byName, err := declare(g.Transforms)
	if err != nil {
		return nil, nil, err
	}
	links, err := connect(g.Hops, byName)
	if err != nil {
		return nil, nil, err
	}
	if err := checkCycles(nodes, links); err != nil {
		return nil, nil, err
	}
	classify(nodes, links)
	order := topological(nodes, links)
	if err := resolve(order, links); err != nil {
		return nil, nil, err
	}
	return nodes, order, nil
}

func declare(defs []Definition) ([]*node, map[string]*node, error) {
	nodes := make([]*node, 0, len(defs))
	byName := make(map[string]*node, len(defs))
	for i, def := range defs {
		if def.Name == "" {
			return nil, nil, fmt.Errorf("%w: transform %d has no name", ErrInvalidGraph, i)
		}
		if def.Transform == nil {
			return nil, nil, fmt.Errorf("%w: transform %q is nil", ErrInvalidGraph, def.Name)
		}
		if _, ok := byName[def.Name]; ok {
			return nil, nil, fmt.Errorf("%w: duplicate transform %q", ErrInvalidGraph, def.Name)
		}
		if def.MaxErrors < 0 {
			return nil, nil, fmt.Errorf("%w: transform %q has negative max errors", ErrInvalidGraph, def.Name)
		}
		n := &node{Definition: def, pos: i}
		nodes = append(nodes, n)
		byName[def.Name] = n
	}
	return nodes, byName, nil
}

func connect(hops []Hop, byName map[string]*node) ([]*link, error) {
	links := make([]*link, 0, len(hops))
	seen := make(map[Hop]struct{}, len(hops))
	for _, h := range hops {
		from, ok := byName[h.From]
		if !ok {
			return nil, fmt.Errorf("%w: hop %v from unknown transform", ErrInvalidGraph, h)
		}
		to, ok := byName[h.To]
		if !ok {
			return nil, fmt.Errorf("%w: hop %v to unknown transform", ErrInvalidGraph, h)
		}
		if h.Buffer < 0 {
			return nil, fmt.Errorf("%w: hop %v has negative buffer", ErrInvalidGraph, h)
		}
		key := Hop{From: h.From, To: h.To, Error: h.Error}
		if _, ok := seen[key]; ok {
			return nil, fmt.Errorf("%w: duplicate hop %v", ErrInvalidGraph, h)
		}
		seen[key] = struct{}{}

		l := &link{Hop: h, from: from, to: to}
		if h.Error {
			if from.errOut != nil {
				return nil, fmt.Errorf("%w: transform %q has more than one error hop", ErrInvalidGraph, from.Name)
			}
			from.errOut = l
		} else {
			from.outputs = append(from.outputs, l)
		}
		to.inputs = append(to.inputs, l)
		links = append(links, l)
	}
	return links, nil
}

// checkCycles runs Kahn's algorithm over normal hops. Transforms left
// with incoming hops are on a cycle or downstream of one.
func checkCycles(nodes []*node, links []*link) error {
	ordered := kahn(nodes, links, func(l *link) bool { return !l.Error })
	if len(ordered) == len(nodes) {
		return nil
	}
	visited := make(map[*node]bool, len(ordered))
	for _, n := range ordered {
		visited[n] = true
	}
	var cycle []string
	for _, n := range nodes {
		if !visited[n] {
			cycle = append(cycle, n.Name)
		}
	}
	return &GraphCycleError{Cycle: cycle}
}

// classify marks error hops that lead back to their producer's upstream
// as feedback. Remaining error hops are part of forward ordering.
func classify(nodes []*node, links []*link) {
	forward := make(map[*node][]*node, len(nodes))
	for _, l := range links {
		if !l.Error {
			forward[l.from] = append(forward[l.from], l.to)
		}
	}
	for _, l := range links {
		if !l.Error {
			continue
		}
		if reachable(forward, l.to, l.from) {
			l.feedback = true
			continue
		}
		forward[l.from] = append(forward[l.from], l.to)
	}
}

func reachable(forward map[*node][]*node, from, to *node) bool {
	visited := map[*node]bool{from: true}
	stack := []*node{from}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n == to {
			return true
		}
		for _, next := range forward[n] {
			if !visited[next] {
				visited[next] = true
				stack = append(stack, next)
			}
		}
	}
	return false
}

// topological returns nodes ordered over forward hops.
func topological(nodes []*node, links []*link) []*node {
	return kahn(nodes, links, func(l *link) bool { return !l.feedback })
}

// kahn orders nodes over links accepted by the filter. Ties are broken
// by declaration order.
func kahn(nodes []*node, links []*link, accept func(*link) bool) []*node {
	for _, n := range nodes {
		n.indegree = 0
	}
	next := make(map[*node][]*node, len(nodes))
	for _, l := range links {
		if accept(l) {
			l.to.indegree++
			next[l.from] = append(next[l.from], l.to)
		}
	}
	var queue []*node
	for _, n := range nodes {
		if n.indegree == 0 {
			queue = append(queue, n)
		}
	}
	ordered := make([]*node, 0, len(nodes))
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		ordered = append(ordered, n)
		for _, m := range next[n] {
			m.indegree--
			if m.indegree == 0 {
				queue = insertOrdered(queue, m)
			}
		}
	}
	return ordered
}

func insertOrdered(queue []*node, n *node) []*node {
	i := len(queue)
	for i > 0 && queue[i-1].pos > n.pos {
		i--
	}
	queue = append(queue, nil)
	copy(queue[i+1:], queue[i:])
	queue[i] = n
	return queue
}

// resolve computes metadata of every transform in topological order.
// Feedback hops are verified once all producers are resolved.
func resolve(order []*node, links []*link) error {
	for _, n := range order {
		var metas []row.Meta
		for _, l := range n.inputs {
			if l.feedback {
				continue
			}
			l.meta = l.from.outputMeta(l.Error)
			metas = append(metas, l.meta)
		}
		if len(metas) == 0 && len(n.inputs) > 0 {
			return &SchemaError{Transform: n.Name, Err: errors.New("transform is fed by feedback error hops only")}
		}
		// rejected lockstep rows come from any live input, so inputs of
		// lockstep transforms with error hop must share the shape too.
		if n.Input == Merge || n.errOut != nil {
			for i := 1; i < len(metas); i++ {
				if !metas[0].Compatible(metas[i]) {
					return &SchemaError{
						Transform: n.Name,
						Err:       fmt.Errorf("incompatible inputs %v and %v", metas[0], metas[i]),
					}
				}
			}
		}
		meta, err := n.Transform.Meta(metas)
		if err != nil {
			return &SchemaError{Transform: n.Name, Err: err}
		}
		n.meta = meta.WithOrigin(n.Name)
		if n.errOut != nil {
			base := n.meta
			if len(metas) > 0 {
				base = metas[0]
			}
			n.errMeta = errorMeta(base, n.Name)
		}
	}
	for _, l := range links {
		if !l.feedback {
			continue
		}
		l.meta = l.from.errMeta
		if l.to.Input == Lockstep {
			return &SchemaError{Transform: l.to.Name, Err: fmt.Errorf("feedback hop %v into lockstep transform", l.Hop)}
		}
		first := l.to.firstForward()
		if !first.meta.Compatible(l.meta) {
			return &SchemaError{
				Transform: l.to.Name,
				Err:       fmt.Errorf("incompatible feedback input %v and %v", first.meta, l.meta),
			}
		}
	}
	return nil
}

// errorMeta appends error fields to the shape. Shapes that already end
// with error fields are kept, so rows can be rejected repeatedly.
func errorMeta(base row.Meta, origin string) row.Meta {
	if hasErrorFields(base) {
		return base
	}
	return base.Append(
		row.Field{Name: ErrorTransformField, Type: row.TypeString, Origin: origin},
		row.Field{Name: ErrorDescriptionField, Type: row.TypeString, Origin: origin},
	)
}

func hasErrorFields(m row.Meta) bool {
	n := m.Len()
	return n >= 2 &&
		m.Field(n-2).Name == ErrorTransformField && m.Field(n-2).Type == row.TypeString &&
		m.Field(n-1).Name == ErrorDescriptionField && m.Field(n-1).Type == row.TypeString
}

func (n *node) outputMeta(errorHop bool) row.Meta {
	if errorHop {
		return n.errMeta
	}
	return n.meta
}

func (n *node) firstForward() *link {
	for _, l := range n.inputs {
		if !l.feedback {
			return l
		}
	}
	return nil
}

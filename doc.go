/*
Package rowpipe allows to build and execute row-based dataflow pipelines.

# Concept

A pipeline is a directed graph of transforms connected with hops. Every
transform consumes rows from its inputs and emits rows to its outputs:

	Source - transform without inputs, the origin of rows;
	Transform - the manipulator of rows, may have many inputs and outputs;
	Sink - transform without outputs, the destination of rows.

Normal hops must form an acyclic graph. Error hops carry rows rejected by
their producer and may point anywhere.

Current implementation executes every transform in its own goroutine. Hops
are bounded channels, so slow consumers block fast producers. It is
inspired with the pipeline pattern explained in the go blog
https://blog.golang.org/pipelines.

# Transforms

Each transform implements Transform interface:

	Meta resolves the shape of emitted rows from the shapes of inputs;
	Open allocates resources before the run;
	Process handles a single input row;
	Close flushes buffered state after the last row.

# Graph and compilation

To run the pipeline, one first need to build it. It starts with a graph:

	input, _ := csvfile.NewInput(inputCfg)
	dedup, _ := unique.New(unique.Config{Keys: []string{"id"}})
	output, _ := tableoutput.New(outputCfg)
	g := rowpipe.Graph{
	    Transforms: []rowpipe.Definition{
	        {Name: "input", Transform: input},
	        {Name: "unique", Transform: dedup},
	        {Name: "output", Transform: output},
	    },
	    Hops: []rowpipe.Hop{
	        {From: "input", To: "unique"},
	        {From: "unique", To: "output"},
	    },
	}

New validates the graph and resolves metadata of every transform in
topological order. Schema contradictions are reported with SchemaError and
cycles with GraphCycleError before any transform is opened:

	p, err := rowpipe.New(g, rowpipe.WithBufferSize(1000))

# Execution

Once pipe is built, it can be executed:

	a := p.Async(ctx)
	res := a.Await()

Async will start and asynchronously run all transforms until either any of
the following things happen: all sources are done; the context is done;
Stop was called; a transform failed. Result contains the status and row
counters of every transform.
*/
package rowpipe

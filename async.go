package rowpipe

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Async executes the pipe asynchronously. Every transform is executed in
// its own goroutine.
type Async struct {
	runID    string
	log      logrus.FieldLogger
	cancelFn context.CancelFunc
	stopOnce sync.Once
	done     chan struct{}
	result   Result
}

// Async creates and starts new run of the pipe. All transforms are opened
// concurrently first. If any of them fails to open, no rows are processed.
func (p *Pipe) Async(ctx context.Context) *Async {
	ctx, cancelFn := context.WithCancel(ctx)
	runID := uuid.NewString()
	a := &Async{
		runID:    runID,
		log:      p.log.WithFields(logrus.Fields{"pipeline": p.name, "run": runID}),
		cancelFn: cancelFn,
		done:     make(chan struct{}),
	}
	instances := p.instances(runID, &monitor{stop: cancelFn})
	go a.run(ctx, p.name, instances)
	return a
}

func (a *Async) run(ctx context.Context, name string, instances []*instance) {
	defer close(a.done)
	defer a.cancelFn()
	started := time.Now()
	a.log.Info("run started")

	var g errgroup.Group
	for _, in := range instances {
		in := in
		g.Go(func() error {
			err := in.open(ctx)
			if err == nil || stopped(ctx, err) {
				return nil
			}
			in.finish(Failed, err)
			if in.Tolerated {
				return nil
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		// start error: flush successfully opened transforms.
		for _, in := range instances {
			if in.status != Running {
				continue
			}
			if cerr := in.close(ctx); cerr != nil {
				in.finish(Failed, cerr)
				continue
			}
			in.finish(Stopped, nil)
		}
	} else {
		var wg sync.WaitGroup
		for _, in := range instances {
			if in.status != Running {
				continue
			}
			wg.Add(1)
			go func(in *instance) {
				defer wg.Done()
				in.run(ctx)
			}(in)
		}
		wg.Wait()
	}

	status, err := aggregate(instances)
	a.result = Result{
		RunID:      a.runID,
		Pipeline:   name,
		Status:     status,
		Err:        err,
		Transforms: make([]TransformResult, len(instances)),
		Started:    started,
		Finished:   time.Now(),
	}
	for i, in := range instances {
		a.result.Transforms[i] = in.result()
	}
	entry := a.log.WithFields(logrus.Fields{
		"status":   status,
		"duration": a.result.Duration(),
	})
	if err != nil {
		entry.WithError(err).Error("run failed")
		return
	}
	entry.Info("run done")
}

// RunID returns unique id of this run.
func (a *Async) RunID() string {
	return a.runID
}

// Stop requests all transforms to stop. It's safe to call multiple times
// and from any goroutine.
func (a *Async) Stop() {
	a.stopOnce.Do(func() {
		a.log.Info("stop requested")
		a.cancelFn()
	})
}

// Done returns a channel that's closed when the run is over.
func (a *Async) Done() <-chan struct{} {
	return a.done
}

// Await blocks until all transforms reached terminal state and returns
// the result of the run.
func (a *Async) Await() Result {
	<-a.done
	return a.result
}

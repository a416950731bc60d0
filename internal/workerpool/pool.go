// Package workerpool implements the client's bounded task pool (C12):
// fixed worker count, a buffered task channel, per-worker cancellation,
// and network-aware retry. Shape grounded on the teacher's
// daemon/transport/chunk_sender.go ChunkWorkerPool (workerCount,
// buffered chunkQueue, per-worker context.CancelFunc, onDone/onFailed
// callbacks), generalized from "send chunks of one file over one QUIC
// connection" to "run one upload/download/delete task per path over
// HTTP".
package workerpool

import (
	"context"
	"errors"
	"sync"

	"github.com/syncagent/syncagent/internal/observability"
)

var ErrPoolStopped = errors.New("workerpool: stopped")

// Task is one unit of work submitted to the pool.
type Task struct {
	Path string
	Run  func(ctx context.Context) error
}

// Pool runs a fixed number of worker goroutines draining a buffered task
// queue.
type Pool struct {
	workerCount int
	queue       chan Task
	ctx         context.Context
	cancel      context.CancelFunc
	workerCtxMu sync.Mutex
	workerCtxs  map[string]context.CancelFunc
	wg          sync.WaitGroup
	logger      *observability.Logger
	metrics     *observability.Metrics
	netCheck    NetworkChecker
}

// NetworkChecker reports whether the network is currently reachable, used
// by the wait_for_network retry path.
type NetworkChecker interface {
	Online() bool
}

// AlwaysOnline is the default NetworkChecker when none is configured.
type AlwaysOnline struct{}

func (AlwaysOnline) Online() bool { return true }

func New(workerCount, queueDepth int, netCheck NetworkChecker, logger *observability.Logger, metrics *observability.Metrics) *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	if netCheck == nil {
		netCheck = AlwaysOnline{}
	}
	p := &Pool{
		workerCount: workerCount,
		queue:       make(chan Task, queueDepth),
		ctx:         ctx,
		cancel:      cancel,
		workerCtxs:  make(map[string]context.CancelFunc),
		logger:      logger,
		metrics:     metrics,
		netCheck:    netCheck,
	}
	for i := 0; i < workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	return p
}

// Submit enqueues a task, blocking if the queue is full, or returns
// ErrPoolStopped if the pool has been stopped.
func (p *Pool) Submit(t Task) error {
	if p.ctx.Err() != nil {
		return ErrPoolStopped
	}
	select {
	case p.queue <- t:
		return nil
	case <-p.ctx.Done():
		return ErrPoolStopped
	}
}

// Cancel requests cancellation of the in-flight task for path, if any.
func (p *Pool) Cancel(path string) {
	p.workerCtxMu.Lock()
	cancel, ok := p.workerCtxs[path]
	p.workerCtxMu.Unlock()
	if ok {
		cancel()
	}
}

// Stop cancels every in-flight task and waits for all workers to exit.
func (p *Pool) Stop() {
	p.cancel()
	close(p.queue)
	p.wg.Wait()
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for task := range p.queue {
		p.runTask(task)
	}
}

func (p *Pool) runTask(task Task) {
	taskCtx, cancel := context.WithCancel(p.ctx)
	p.workerCtxMu.Lock()
	p.workerCtxs[task.Path] = cancel
	p.workerCtxMu.Unlock()
	defer func() {
		p.workerCtxMu.Lock()
		delete(p.workerCtxs, task.Path)
		p.workerCtxMu.Unlock()
		cancel()
	}()

	if err := p.waitForNetwork(taskCtx, task.Path); err != nil {
		return
	}

	// task.Run is invoked exactly once here: it owns any per-operation
	// retry (via RetryNetworkErrors on its individual network calls) and
	// reports its outcome through its own completion callback, so the
	// pool must not re-invoke it — doing so would fire that callback more
	// than once.
	if err := task.Run(taskCtx); err != nil {
		if p.logger != nil && taskCtx.Err() == nil {
			p.logger.Error(err, "task failed: "+task.Path)
		}
		if p.metrics != nil {
			p.metrics.RetriesTotal.WithLabelValues("exhausted").Inc()
		}
	}
}

func (p *Pool) waitForNetwork(ctx context.Context, path string) error {
	if p.netCheck.Online() {
		return nil
	}
	if p.logger != nil {
		p.logger.NetworkWait(path)
	}
	return waitForNetwork(ctx, p.netCheck)
}

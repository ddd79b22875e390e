package relay

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	logx "pushrelay/pkg/logx"
)

type job struct {
	id  string
	msg Message
}

// Start launches the job workers. It is idempotent; a Start racing a Stop
// waits for the stop to finish first.
func (r *Relay) Start(ctx context.Context) {
	for {
		r.mu.Lock()
		if r.stopCh == nil {
			break
		}
		done := r.stopDone
		r.mu.Unlock()
		if done == nil {
			return // already running
		}
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
	}
	defer r.mu.Unlock()

	if cap(r.queue) != r.cfg.QueueSize && len(r.queue) == 0 {
		r.queue = make(chan job, r.cfg.QueueSize)
	}
	r.stopCh = make(chan struct{})
	runCtx, cancel := context.WithCancel(ctx)
	r.runCancel = cancel

	queue, stopCh, workers := r.queue, r.stopCh, r.cfg.JobWorkers
	r.workerWG.Add(workers)
	for i := 0; i < workers; i++ {
		go func(idx int) {
			defer r.workerWG.Done()
			defer func() {
				if p := recover(); p != nil {
					r.log.Error("panic in broadcast worker", logx.Int("worker", idx), logx.Any("panic", p), logx.Stack(string(debug.Stack())))
				}
			}()
			r.worker(runCtx, stopCh, queue)
		}(i)
	}
	r.log.Info("relay started", logx.Int("job_workers", workers), logx.Int("queue_size", cap(queue)))
}

// Stop signals the workers and waits until they exit or ctx ends. Workers
// run every job already queued first; when ctx ends the in-flight broadcasts
// are cancelled, the remaining jobs fail with ErrStopped and shutdown
// continues in the background.
func (r *Relay) Stop(ctx context.Context) {
	start := time.Now()
	r.mu.Lock()
	if r.stopCh == nil {
		r.mu.Unlock()
		return
	}
	if r.stopDone != nil {
		done := r.stopDone
		r.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	r.stopDone = done
	stopCh, cancel := r.stopCh, r.runCancel
	r.runCancel = nil
	r.mu.Unlock()

	close(stopCh)
	// In-flight broadcasts get until ctx ends to finish.
	go func() {
		select {
		case <-done:
		case <-ctx.Done():
			if cancel != nil {
				cancel()
			}
		}
	}()

	go func() {
		r.workerWG.Wait()
		if cancel != nil {
			cancel()
		}
		r.mu.Lock()
		r.stopCh = nil
		r.stopDone = nil
		r.mu.Unlock()
		close(done)
		r.log.Info("relay stopped", logx.Duration("took", time.Since(start)))
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}
}

// Running reports whether the job workers are up.
func (r *Relay) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopCh != nil && r.stopDone == nil
}

// Enqueue schedules a broadcast and returns its job id immediately.
func (r *Relay) Enqueue(msg Message) (string, error) {
	now := time.Now()
	if msg.SentAt.IsZero() {
		msg.SentAt = now.UTC()
	}

	r.mu.Lock()
	running := r.stopCh != nil && r.stopDone == nil
	q := r.queue
	r.mu.Unlock()
	if !running {
		return "", ErrStopped
	}

	id := uuid.NewString()
	r.putStatus(&JobStatus{ID: id, State: JobQueued, Sender: msg.Sender, CreatedAt: now})

	// The send happens under mu so a job is either queued before Stop closes
	// stopCh (and gets drained) or rejected.
	r.mu.Lock()
	running = r.stopCh != nil && r.stopDone == nil
	q = r.queue
	queued := false
	if running {
		select {
		case q <- job{id: id, msg: msg}:
			queued = true
		default:
		}
	}
	r.mu.Unlock()

	switch {
	case !running:
		r.finishStatus(id, nil, ErrStopped)
		return "", ErrStopped
	case !queued:
		r.log.Warn("broadcast queue full; dropping job", logx.String("job", id), logx.Int("queue_cap", cap(q)))
		r.finishStatus(id, nil, ErrQueueFull)
		return "", ErrQueueFull
	}
	r.log.Debug("broadcast job enqueued", logx.String("job", id), logx.Int("queue_len", len(q)), logx.Int("queue_cap", cap(q)))
	r.publish(EventJob, JobEvent{ID: id, State: JobQueued})
	return id, nil
}

func (r *Relay) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan job) {
	for {
		select {
		case <-ctx.Done():
			r.drain(ctx, queue)
			return
		case <-stopCh:
			r.drain(ctx, queue)
			return
		case j := <-queue:
			if ctx.Err() != nil {
				r.abandonJob(j)
				continue
			}
			r.runJob(ctx, j)
		}
	}
}

// drain runs the jobs still queued at shutdown. Once ctx is done the rest are
// marked failed with ErrStopped.
func (r *Relay) drain(ctx context.Context, queue <-chan job) {
	for {
		select {
		case j := <-queue:
			if ctx.Err() != nil {
				r.abandonJob(j)
				continue
			}
			r.runJob(ctx, j)
		default:
			return
		}
	}
}

func (r *Relay) abandonJob(j job) {
	r.finishStatus(j.id, nil, ErrStopped)
	r.log.Warn("broadcast job dropped at shutdown", logx.String("job", j.id))
	r.publish(EventJob, JobEvent{ID: j.id, State: JobFailed, Error: ErrStopped.Error()})
}

func (r *Relay) runJob(ctx context.Context, j job) {
	r.setRunning(j.id)
	r.publish(EventJob, JobEvent{ID: j.id, State: JobRunning})

	rep, err := r.Broadcast(ctx, j.msg)
	r.finishStatus(j.id, rep, err)
	if err != nil {
		r.log.Warn("broadcast job failed", logx.String("job", j.id), logx.Err(err))
		r.publish(EventJob, JobEvent{ID: j.id, State: JobFailed, Error: err.Error()})
		return
	}
	r.publish(EventJob, JobEvent{ID: j.id, State: JobDone})
}

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	logx "serverwatch/pkg/logx"

	"github.com/robfig/cron/v3"
)

// Registry owns the repeating timers, one per key. Re-arming a key replaces its
// previous entry; cron entry IDs never leave the registry.
type Registry struct {
	log logx.Logger

	mu      sync.Mutex
	c       *cron.Cron
	entries map[string]entry
	started bool

	ctx    context.Context
	cancel context.CancelFunc
}

type entry struct {
	id    cron.EntryID
	every time.Duration
}

func NewRegistry(log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "scheduler"))
	cl := cronLogger{log: log}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		log: log,
		c: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		entries: map[string]entry{},
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start begins firing armed entries. Jobs receive a context derived from ctx
// that is canceled by Stop.
func (r *Registry) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.c.Start()
	r.log.Info("scheduler started", logx.Int("entries", len(r.entries)))
}

// Stop halts triggering, cancels the job context and waits for running jobs
// until ctx is done.
func (r *Registry) Stop(ctx context.Context) {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	r.started = false
	r.cancel()
	c := r.c
	r.mu.Unlock()

	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		r.log.Warn("scheduler stop timed out waiting for jobs")
	}
	r.log.Info("scheduler stopped")
}

// Arm registers fn to run every interval under key, replacing any prior entry.
// Intervals are rounded down to whole seconds; the minimum is one second.
func (r *Registry) Arm(key string, every time.Duration, fn func(ctx context.Context)) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("key required")
	}
	if fn == nil {
		return errors.New("job required")
	}
	if every < time.Second {
		return fmt.Errorf("interval %s below 1s", every)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.entries[key]; ok {
		r.c.Remove(prev.id)
		delete(r.entries, key)
	}
	id := r.c.Schedule(cron.Every(every), cron.FuncJob(func() {
		r.mu.Lock()
		ctx := r.ctx
		r.mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		fn(ctx)
	}))
	r.entries[key] = entry{id: id, every: every}
	r.log.Debug("timer armed", logx.String("key", key), logx.Duration("every", every))
	return nil
}

// Cancel removes the entry for key. Unknown keys are a no-op; the return value
// reports whether something was removed.
func (r *Registry) Cancel(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok {
		return false
	}
	r.c.Remove(e.id)
	delete(r.entries, key)
	r.log.Debug("timer canceled", logx.String("key", key))
	return true
}

func (r *Registry) IsArmed(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[key]
	return ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Next returns the next fire time of key, zero if unknown or not started.
func (r *Registry) Next(key string) time.Time {
	r.mu.Lock()
	e, ok := r.entries[key]
	r.mu.Unlock()
	if !ok {
		return time.Time{}
	}
	return r.c.Entry(e.id).Next
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct {
	log logx.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			continue
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}

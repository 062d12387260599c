package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"sadaqah/pkg/logger"
)

// JobFunc is one scheduled unit of work. The context is cancelled on Stop.
type JobFunc func(ctx context.Context) error

type job struct {
	name     string
	schedule string
	timeout  time.Duration
	run      JobFunc
	entry    cron.EntryID
}

type Scheduler struct {
	cron   *cron.Cron
	jobs   map[string]*job
	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
	logger logger.Logger
}

func NewScheduler(log logger.Logger) *Scheduler {
	cl := cronLogger{log: log}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)), cron.WithLogger(cl)),
		jobs:   make(map[string]*job),
		ctx:    ctx,
		cancel: cancel,
		logger: log,
	}
}

// Register adds a named job. A zero timeout lets the job run until Stop.
func (s *Scheduler) Register(name, schedule string, timeout time.Duration, run JobFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %q already registered", name)
	}
	j := &job{name: name, schedule: schedule, timeout: timeout, run: run}
	id, err := s.cron.AddFunc(schedule, func() { _ = s.execute(s.ctx, j) })
	if err != nil {
		return fmt.Errorf("schedule %q for job %q: %w", schedule, name, err)
	}
	j.entry = id
	s.jobs[name] = j

	s.logger.Info("Scheduled job", map[string]interface{}{
		"job":      name,
		"schedule": schedule,
	})
	return nil
}

// RunNow executes a registered job synchronously, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.RLock()
	j, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("job %q not registered", name)
	}
	return s.execute(ctx, j)
}

// Names lists registered jobs in alphabetical order.
func (s *Scheduler) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Next returns the next activation time of a job, or the zero time before Start.
func (s *Scheduler) Next(name string) time.Time {
	s.mu.RLock()
	j, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return time.Time{}
	}
	return s.cron.Entry(j.entry).Next
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("Scheduler started", map[string]interface{}{"jobs": len(s.jobs)})
}

// Stop cancels running jobs and returns a context that is done once they return.
func (s *Scheduler) Stop() context.Context {
	s.cancel()
	done := s.cron.Stop()
	s.logger.Info("Scheduler stopping", nil)
	return done
}

func (s *Scheduler) execute(ctx context.Context, j *job) error {
	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}

	start := time.Now()
	err := j.run(ctx)
	fields := map[string]interface{}{
		"job":         j.name,
		"duration_ms": time.Since(start).Milliseconds(),
	}
	if err != nil {
		fields["error"] = err.Error()
		s.logger.Error("Job failed", fields)
		return err
	}
	s.logger.Debug("Job finished", fields)
	return nil
}

// cronLogger routes cron's own messages into the service logger.
type cronLogger struct {
	log logger.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.log.Debug("cron: "+msg, kvFields(keysAndValues))
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	fields := kvFields(keysAndValues)
	fields["error"] = fmt.Sprint(err)
	c.log.Error("cron: "+msg, fields)
}

func kvFields(kv []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(kv)/2+1)
	for i := 0; i+1 < len(kv); i += 2 {
		fields[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return fields
}

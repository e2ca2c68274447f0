package services

import (
	"context"
	"errors"
	"sync"

	"github.com/dmitrijs2005/gophvault/internal/client/models"
	"github.com/dmitrijs2005/gophvault/internal/futurex"
	"github.com/dmitrijs2005/gophvault/internal/logging"
	"golang.org/x/sync/errgroup"
)

var errSchedulerStopped = errors.New("scheduler stopped")

type job struct {
	itemID int64
	kind   models.TaskKind
	ctx    context.Context
	cancel context.CancelFunc
	run    func(ctx context.Context)
}

// scheduler runs jobs on a bounded pool. Jobs for the same item run one
// at a time.
type scheduler struct {
	logger logging.Logger
	ctx    context.Context
	stop   context.CancelFunc
	g      *errgroup.Group
	locks  *keyedMutex

	mu      sync.Mutex
	queue   []*job
	wake    chan struct{}
	stopped bool
	active  map[int64]map[*job]struct{}
	done    chan struct{}
}

func newScheduler(workers int, logger logging.Logger) *scheduler {
	if workers <= 0 {
		workers = 4
	}
	ctx, stop := context.WithCancel(context.Background())
	g := &errgroup.Group{}
	g.SetLimit(workers)

	s := &scheduler{
		logger: logger,
		ctx:    ctx,
		stop:   stop,
		g:      g,
		locks:  newKeyedMutex(),
		wake:   make(chan struct{}, 1),
		active: make(map[int64]map[*job]struct{}),
		done:   make(chan struct{}),
	}
	go s.dispatch()
	return s
}

// submit queues run for itemID. It returns false once the scheduler stopped.
func (s *scheduler) submit(itemID int64, kind models.TaskKind, run func(ctx context.Context)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	ctx, cancel := context.WithCancel(s.ctx)
	j := &job{itemID: itemID, kind: kind, ctx: ctx, cancel: cancel, run: run}
	s.queue = append(s.queue, j)
	if s.active[itemID] == nil {
		s.active[itemID] = make(map[*job]struct{})
	}
	s.active[itemID][j] = struct{}{}

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

func (s *scheduler) next() (*job, bool) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			j := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return j, true
		}
		stopped := s.stopped
		s.mu.Unlock()
		if stopped {
			return nil, false
		}
		<-s.wake
	}
}

func (s *scheduler) dispatch() {
	defer close(s.done)
	for {
		j, ok := s.next()
		if !ok {
			return
		}
		s.g.Go(func() error {
			s.locks.Lock(j.itemID)
			defer s.locks.Unlock(j.itemID)
			defer s.finish(j)
			j.run(j.ctx)
			return nil
		})
	}
}

func (s *scheduler) finish(j *job) {
	j.cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active[j.itemID], j)
	if len(s.active[j.itemID]) == 0 {
		delete(s.active, j.itemID)
	}
}

// cancel aborts queued and running jobs of the given items. Jobs still
// run, with a cancelled context.
func (s *scheduler) cancel(itemIDs ...int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range itemIDs {
		for j := range s.active[id] {
			j.cancel()
		}
	}
}

// scheduled reports whether a job of kind is queued or running for itemID.
func (s *scheduler) scheduled(itemID int64, kind models.TaskKind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for j := range s.active[itemID] {
		if j.kind == kind {
			return true
		}
	}
	return false
}

// busy reports whether any job is queued or running for itemID.
func (s *scheduler) busy(itemID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active[itemID]) > 0
}

// shutdown cancels every job and waits for the pool to drain.
func (s *scheduler) shutdown() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		<-s.done
		_ = s.g.Wait()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	s.stop()
	select {
	case s.wake <- struct{}{}:
	default:
	}
	<-s.done
	_ = s.g.Wait()
}

// schedule runs fn as a job and returns a future of its result.
func schedule[T any](s *scheduler, itemID int64, kind models.TaskKind, fn func(ctx context.Context) (T, error)) *futurex.Future[T] {
	f := futurex.New[T]()
	ok := s.submit(itemID, kind, func(ctx context.Context) {
		f.Resolve(fn(ctx))
	})
	if !ok {
		var zero T
		f.Resolve(zero, errSchedulerStopped)
	}
	return f
}

// keyedMutex hands out one mutex per key and frees it when unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[int64]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[int64]*keyedEntry)}
}

func (k *keyedMutex) Lock(key int64) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()
	e.mu.Lock()
}

func (k *keyedMutex) Unlock(key int64) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e := k.locks[key]
	e.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(k.locks, key)
	}
}

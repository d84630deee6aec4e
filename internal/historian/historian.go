// Package historian drains the Redis action queue into Postgres and marks
// games abandoned once they go quiet.
package historian

import (
	"context"
	"sync"
	"time"

	"github.com/jason-s-yu/dinomemo/internal/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Queue yields queued action records. Pop returns nil, nil when the wait times out.
type Queue interface {
	Pop(ctx context.Context, timeout time.Duration) (*models.ActionRecord, error)
}

// ActionStore persists action batches.
type ActionStore interface {
	InsertActions(ctx context.Context, records []models.ActionRecord) error
	MarkAbandoned(ctx context.Context, gameID string) (bool, error)
}

// Options tune a Service. Zero values take the defaults below.
type Options struct {
	BatchSize     int
	FlushDelay    time.Duration
	Inactivity    time.Duration
	SweepInterval time.Duration
	PopTimeout    time.Duration
	// MaxRetained caps the records kept across failed flushes. The oldest
	// are dropped past it.
	MaxRetained int
}

const (
	DefaultBatchSize     = 20
	DefaultFlushDelay    = 500 * time.Millisecond
	DefaultInactivity    = 10 * time.Minute
	DefaultSweepInterval = time.Minute
	DefaultPopTimeout    = 3 * time.Second
	DefaultMaxRetained   = 10000
)

// Service batches queued actions into the database.
type Service struct {
	queue  Queue
	store  ActionStore
	logger *logrus.Logger
	opts   Options

	lastActivity sync.Map // game id -> time.Time

	batchMu sync.Mutex
	batch   []models.ActionRecord
}

func New(queue Queue, st ActionStore, logger *logrus.Logger, opts Options) *Service {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.FlushDelay <= 0 {
		opts.FlushDelay = DefaultFlushDelay
	}
	if opts.Inactivity <= 0 {
		opts.Inactivity = DefaultInactivity
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.PopTimeout <= 0 {
		opts.PopTimeout = DefaultPopTimeout
	}
	if opts.MaxRetained <= 0 {
		opts.MaxRetained = DefaultMaxRetained
	}
	return &Service{
		queue:  queue,
		store:  st,
		logger: logger,
		opts:   opts,
		batch:  make([]models.ActionRecord, 0, opts.BatchSize),
	}
}

// Run starts the read, flush and inactivity loops and blocks until ctx ends.
// Whatever is still batched is flushed before returning.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("historian service started")
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.readLoop(gctx) })
	g.Go(func() error { return s.flushLoop(gctx) })
	g.Go(func() error { return s.inactivityLoop(gctx) })
	err := g.Wait()

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Flush(flushCtx)
	s.logger.Info("historian shutting down")
	return err
}

func (s *Service) readLoop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		rec, err := s.queue.Pop(ctx, s.opts.PopTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Errorf("pop action: %v", err)
			continue
		}
		if rec == nil {
			continue
		}
		s.lastActivity.Store(rec.GameID, time.Now())
		if rec.ActionType == models.ActionEndGame {
			s.lastActivity.Delete(rec.GameID)
		}
		if s.append(*rec) {
			s.Flush(ctx)
		}
	}
}

func (s *Service) flushLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.FlushDelay)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Flush(ctx)
		}
	}
}

// inactivityLoop marks games abandoned once no action arrived for Inactivity.
func (s *Service) inactivityLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.sweep(ctx, time.Now())
		}
	}
}

func (s *Service) sweep(ctx context.Context, now time.Time) {
	s.lastActivity.Range(func(key, val interface{}) bool {
		gameID, ok1 := key.(string)
		last, ok2 := val.(time.Time)
		if !ok1 || !ok2 || now.Sub(last) <= s.opts.Inactivity {
			return true
		}
		changed, err := s.store.MarkAbandoned(ctx, gameID)
		if err != nil {
			s.logger.Errorf("mark game %s abandoned: %v", gameID, err)
			return true
		}
		if changed {
			s.logger.Infof("Marked game %s as 'abandoned' due to inactivity.", gameID)
		}
		s.lastActivity.Delete(gameID)
		return true
	})
}

// append adds rec to the batch and reports whether the batch is full.
func (s *Service) append(rec models.ActionRecord) bool {
	s.batchMu.Lock()
	defer s.batchMu.Unlock()
	s.batch = append(s.batch, rec)
	return len(s.batch) >= s.opts.BatchSize
}

// Flush writes the current batch in one transaction. A failed batch is put back
// in front of newer records, keeping at most MaxRetained of them.
func (s *Service) Flush(ctx context.Context) {
	s.batchMu.Lock()
	if len(s.batch) == 0 {
		s.batchMu.Unlock()
		return
	}
	pending := s.batch
	s.batch = make([]models.ActionRecord, 0, s.opts.BatchSize)
	s.batchMu.Unlock()

	if err := s.store.InsertActions(ctx, pending); err != nil {
		s.logger.Errorf("flush %d actions: %v", len(pending), err)
		s.batchMu.Lock()
		s.batch = append(pending, s.batch...)
		if over := len(s.batch) - s.opts.MaxRetained; over > 0 {
			s.logger.Warnf("dropping %d oldest actions, database unavailable", over)
			s.batch = append([]models.ActionRecord(nil), s.batch[over:]...)
		}
		s.batchMu.Unlock()
		return
	}
	s.logger.Debugf("Flushed %d actions to DB.", len(pending))
}

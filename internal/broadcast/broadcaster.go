// Package broadcast persists accepted game states and pushes them to every
// connection subscribed to the game.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jason-s-yu/dinomemo/internal/models"
	"github.com/jason-s-yu/dinomemo/internal/registry"
	"github.com/jason-s-yu/dinomemo/internal/store"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ErrConnectionGone is returned by a Sender when the connection's transport has terminated.
var ErrConnectionGone = errors.New("connection gone")

// DefaultSendTimeout bounds a single delivery.
const DefaultSendTimeout = 3 * time.Second

// Sender delivers one encoded message to one connection.
type Sender interface {
	Send(ctx context.Context, connectionID string, data []byte) error
}

// Recorder receives a history record for each persisted change.
type Recorder interface {
	Record(ctx context.Context, rec models.ActionRecord) error
}

// Report summarizes one fan-out.
type Report struct {
	Delivered []string
	Pruned    []string
	Failed    []string
}

// Broadcaster persists states through the store and fans them out through the registry.
type Broadcaster struct {
	store    store.GameStateStore
	registry registry.Registry
	sender   Sender
	logger   *logrus.Logger

	// Recorder is optional.
	Recorder    Recorder
	SendTimeout time.Duration
}

func New(st store.GameStateStore, reg registry.Registry, sender Sender, logger *logrus.Logger) *Broadcaster {
	return &Broadcaster{
		store:       st,
		registry:    reg,
		sender:      sender,
		logger:      logger,
		SendTimeout: DefaultSendTimeout,
	}
}

// Publish persists the mutable fields of state (flip flags, players, turn) for
// gameID and pushes the resulting canonical state to every subscriber. Deck,
// mode and id always keep their stored values. Delivery failures never fail
// the publish.
//
// requestID is copied into the pushed message so the publishing client can
// tell its own result from other writers' updates. It may be empty.
func (b *Broadcaster) Publish(ctx context.Context, gameID, requestID string, state *models.GameState) (*models.GameState, error) {
	canonical, err := b.store.Update(ctx, gameID, state.Patch())
	if err != nil {
		return nil, fmt.Errorf("persist game %s: %w", gameID, err)
	}

	actionType := models.ActionUpdateGame
	if canonical.AllFlipped() {
		actionType = models.ActionEndGame
	}
	b.Record(ctx, canonical, "", actionType)

	b.fanout(ctx, gameID, canonical, requestID)
	return canonical, nil
}

// Fanout sends state to every connection registered for gameID, concurrently,
// and waits for all deliveries. Connections whose transport is gone are
// unregistered; other failures are logged.
func (b *Broadcaster) Fanout(ctx context.Context, gameID string, state *models.GameState) Report {
	return b.fanout(ctx, gameID, state, "")
}

func (b *Broadcaster) fanout(ctx context.Context, gameID string, state *models.GameState, requestID string) Report {
	log := b.logger.WithField("game_id", gameID)

	conns, err := b.registry.ListByGame(ctx, gameID)
	if err != nil {
		log.Errorf("list subscribers: %v", err)
		return Report{}
	}
	if len(conns) == 0 {
		return Report{}
	}

	data, err := EncodeUpdate(state, requestID)
	if err != nil {
		log.Errorf("marshal gameUpdate: %v", err)
		return Report{}
	}

	var (
		mu     sync.Mutex
		report Report
		g      errgroup.Group
	)
	for _, id := range conns {
		g.Go(func() error {
			outcome := b.deliver(ctx, log, id, data)
			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case delivered:
				report.Delivered = append(report.Delivered, id)
			case pruned:
				report.Pruned = append(report.Pruned, id)
			default:
				report.Failed = append(report.Failed, id)
			}
			return nil
		})
	}
	_ = g.Wait()

	log.WithFields(logrus.Fields{
		"delivered": len(report.Delivered),
		"pruned":    len(report.Pruned),
		"failed":    len(report.Failed),
	}).Debug("gameUpdate fan-out complete")
	return report
}

type outcome int

const (
	delivered outcome = iota
	pruned
	failed
)

func (b *Broadcaster) deliver(ctx context.Context, log *logrus.Entry, connectionID string, data []byte) outcome {
	timeout := b.SendTimeout
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	sendCtx, cancel := context.WithTimeout(ctx, timeout)
	err := b.sender.Send(sendCtx, connectionID, data)
	cancel()

	if err == nil {
		return delivered
	}
	if errors.Is(err, ErrConnectionGone) {
		log.Debugf("Found stale connection, deleting %s", connectionID)
		if uerr := b.registry.Unregister(context.WithoutCancel(ctx), connectionID); uerr != nil {
			log.Warnf("unregister stale connection %s: %v", connectionID, uerr)
		}
		return pruned
	}
	log.Warnf("Failed to send gameUpdate to connection %s: %v", connectionID, err)
	return failed
}

// Record queues a history entry for state. Errors are logged only.
func (b *Broadcaster) Record(ctx context.Context, state *models.GameState, actor, actionType string) {
	if b.Recorder == nil {
		return
	}
	rec := models.ActionRecord{
		GameID:      state.GameID,
		ActionIndex: state.Version,
		Actor:       actor,
		ActionType:  actionType,
		ActionPayload: map[string]interface{}{
			"cardFlipped":   state.CardFlipped,
			"players":       state.Players,
			"currentPlayer": state.CurrentPlayer,
		},
		Timestamp: time.Now().UnixMilli(),
	}
	if err := b.Recorder.Record(ctx, rec); err != nil {
		b.logger.WithField("game_id", state.GameID).Warnf("record %s: %v", actionType, err)
	}
}

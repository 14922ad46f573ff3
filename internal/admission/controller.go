// Package admission implements the waiting room in front of a ticket sale:
// clients queue per event, the head of the queue is admitted at a fixed rate
// and receives a single-use pass token that the reservation API consumes.
//
// RateQueue and PassTokenStore are the standalone queue and pass contracts.
// The Controller uses them for enqueue and pass validation, but a status poll
// runs the rank check, budget check, admission and token write as one fused
// script, so RateQueue.Rank/Remove and PassTokenStore.Issue/Peek are not on
// that path.
package admission

import (
	"context"
	"errors"
	"fmt"

	"github.com/labstack/gommon/log"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/ticket-rush/internal/clock"
	"github.com/iliyamo/ticket-rush/internal/config"
	"github.com/iliyamo/ticket-rush/internal/metrics"
)

// ErrUnavailable wraps every store failure.  Callers must not admit anyone
// when they see it.
var ErrUnavailable = errors.New("admission store unavailable")

type State string

const (
	StateNotQueued State = "NOT_QUEUED"
	StateQueued    State = "QUEUED"
	StateAdmitted  State = "ADMITTED"
	StateConsumed  State = "CONSUMED"
)

// Ticket is the answer to an enqueue.
type Ticket struct {
	ClientKey            string
	Position             int64
	EstimatedWaitSeconds int
	State                State
}

// Status is the answer to a poll.  Position is -1 when the client is not queued.
type Status struct {
	Position   int64
	CanProceed bool
	PassToken  string
	State      State
}

type Controller struct {
	rdb    redis.Cmdable
	queue  *RateQueue
	passes *PassTokenStore
	clock  clock.Clock
	cfg    config.AdmissionConfig
	log    *log.Logger
}

func NewController(rdb redis.Cmdable, cfg config.AdmissionConfig, clk clock.Clock, logger *log.Logger) *Controller {
	if logger == nil {
		logger = log.New("admission")
	}
	return &Controller{
		rdb:    rdb,
		queue:  NewRateQueue(rdb, clk, cfg.EntryTTL, cfg.WindowTTL),
		passes: NewPassTokenStore(rdb, cfg.EntryTTL),
		clock:  clk,
		cfg:    cfg,
		log:    logger,
	}
}

// Enqueue places clientKey in eventID's queue, or reports it as admitted if
// it already holds a live pass.
func (c *Controller) Enqueue(ctx context.Context, eventID, clientKey string) (Ticket, error) {
	pos, err := c.queue.Enqueue(ctx, eventID, clientKey)
	if err != nil {
		return Ticket{}, c.storeErr(err)
	}
	if pos.Admitted {
		return Ticket{ClientKey: clientKey, State: StateAdmitted}, nil
	}
	if pos.Created {
		metrics.Enqueued(eventID)
		c.log.Debugf("event=%s client=%s queued at rank %d", eventID, clientKey, pos.Rank)
	}
	metrics.QueueLength(eventID, pos.QueueSize)
	return Ticket{
		ClientKey:            clientKey,
		Position:             pos.Rank,
		EstimatedWaitSeconds: pos.EstimatedOffset,
		State:                StateQueued,
	}, nil
}

// Status reports where clientKey stands and admits it when it is at the head
// and the event still has budget.  An existing pass is returned as is.
func (c *Controller) Status(ctx context.Context, eventID, clientKey string) (Status, error) {
	k, err := keysFor(eventID)
	if err != nil {
		return Status{}, err
	}
	if err := checkClient(clientKey); err != nil {
		return Status{}, err
	}
	token, err := NewPassToken()
	if err != nil {
		return Status{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	keys := []string{k.queue(), k.seen(), k.entry(clientKey), k.pass(clientKey), k.used(clientKey), k.start(), k.granted()}
	args := append(c.queue.head(k, c.clock.Now(), clientKey),
		c.cfg.PermitsPerMinute, token,
		c.cfg.PassTokenTTL.Milliseconds(), c.cfg.EntryTTL.Milliseconds(), c.cfg.WindowTTL.Milliseconds())

	res, err := statusScript.Run(ctx, c.rdb, keys, args...).Result()
	if err != nil {
		metrics.StatusPoll(eventID, "error")
		return Status{}, c.storeErr(err)
	}
	arr, err := scriptArray(res, 3)
	if err != nil {
		return Status{}, c.storeErr(err)
	}

	rank := asInt64(arr[1])
	switch asInt64(arr[0]) {
	case 2:
		issued := asString(arr[2])
		if issued == token {
			metrics.Granted(eventID)
			c.log.Infof("event=%s client=%s admitted", eventID, clientKey)
		}
		metrics.StatusPoll(eventID, "admitted")
		return Status{Position: 0, CanProceed: true, PassToken: issued, State: StateAdmitted}, nil
	case 1:
		metrics.StatusPoll(eventID, "waiting")
		return Status{Position: rank, State: StateQueued}, nil
	case 3:
		metrics.StatusPoll(eventID, "not_queued")
		return Status{Position: -1, State: StateConsumed}, nil
	}
	metrics.StatusPoll(eventID, "not_queued")
	return Status{Position: -1, State: StateNotQueued}, nil
}

// ValidatePass consumes the pass if it matches.  Any store failure counts
// as a rejection.
func (c *Controller) ValidatePass(ctx context.Context, eventID, clientKey, token string) bool {
	ok, err := c.passes.ValidateAndConsume(ctx, eventID, clientKey, token)
	if err != nil {
		c.log.Errorf("event=%s client=%s pass validation failed closed: %v", eventID, clientKey, err)
		ok = false
	}
	metrics.PassValidation(ok)
	return ok
}

// Reset forgets everything about eventID: waiting clients, passes, the
// window start and the admission counter.
func (c *Controller) Reset(ctx context.Context, eventID string) (int, error) {
	k, err := keysFor(eventID)
	if err != nil {
		return 0, err
	}
	var (
		cursor  uint64
		removed int
	)
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, k.pattern(), 500).Result()
		if err != nil {
			return removed, c.storeErr(err)
		}
		if len(keys) > 0 {
			n, err := c.rdb.Del(ctx, keys...).Result()
			if err != nil {
				return removed, c.storeErr(err)
			}
			removed += int(n)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	metrics.QueueLength(eventID, 0)
	c.log.Warnf("event=%s admission state reset (%d keys)", eventID, removed)
	return removed, nil
}

func (c *Controller) storeErr(err error) error {
	if errors.Is(err, ErrInvalidEvent) || errors.Is(err, ErrInvalidClient) {
		return err
	}
	c.log.Errorf("admission store: %v", err)
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

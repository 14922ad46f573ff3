package admission

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/ticket-rush/internal/clock"
)

// ErrNotQueued is returned by Rank for a client without a live entry.
var ErrNotQueued = errors.New("client is not queued")

const (
	minOffsetSeconds = 30
	maxOffsetSeconds = 60
)

// Position is a client's place in an event queue.
type Position struct {
	Rank            int64 // zero-based; 0 is the head
	EstimatedOffset int   // seconds, informational only
	Created         bool  // false when the client was already queued
	Admitted        bool  // the client already holds a live pass
	QueueSize       int64
}

// RateQueue is an ordered, per-event waiting line keyed by client.
// Ordering is strictly by arrival; an entry nobody touches for the entry TTL
// is dropped the next time any script runs against the event.
type RateQueue struct {
	rdb       redis.Cmdable
	clock     clock.Clock
	entryTTL  time.Duration
	windowTTL time.Duration
	offset    func() int
}

func NewRateQueue(rdb redis.Cmdable, clk clock.Clock, entryTTL, windowTTL time.Duration) *RateQueue {
	return &RateQueue{
		rdb:       rdb,
		clock:     clk,
		entryTTL:  entryTTL,
		windowTTL: windowTTL,
		offset:    func() int { return minOffsetSeconds + rand.Intn(maxOffsetSeconds-minOffsetSeconds+1) },
	}
}

// head returns the ARGV prefix every queue script starts with.
func (q *RateQueue) head(k eventKeys, now time.Time, clientKey string) []interface{} {
	nowMs := now.UnixMilli()
	cutoff := nowMs - q.entryTTL.Milliseconds()
	return []interface{}{nowMs, "(" + strconv.FormatInt(cutoff, 10), k.entryPrefix(), clientKey}
}

// Enqueue inserts clientKey at the tail of eventID's queue.  Calling it again
// for a queued client refreshes its activity and returns the current rank with
// the originally drawn offset.  The first enqueue of an event opens its
// admission window.
func (q *RateQueue) Enqueue(ctx context.Context, eventID, clientKey string) (Position, error) {
	k, err := keysFor(eventID)
	if err != nil {
		return Position{}, err
	}
	if err := checkClient(clientKey); err != nil {
		return Position{}, err
	}
	keys := []string{k.queue(), k.seen(), k.seq(), k.entry(clientKey), k.pass(clientKey), k.start(), k.granted()}
	args := append(q.head(k, q.clock.Now(), clientKey),
		q.offset(), q.entryTTL.Milliseconds(), q.windowTTL.Milliseconds())

	res, err := enqueueScript.Run(ctx, q.rdb, keys, args...).Result()
	if err != nil {
		return Position{}, fmt.Errorf("enqueue %s/%s: %w", eventID, clientKey, err)
	}
	arr, err := scriptArray(res, 5)
	if err != nil {
		return Position{}, err
	}
	return Position{
		Rank:            asInt64(arr[0]),
		EstimatedOffset: int(asInt64(arr[1])),
		Created:         asInt64(arr[2]) == 1,
		Admitted:        asInt64(arr[3]) == 1,
		QueueSize:       asInt64(arr[4]),
	}, nil
}

// Rank returns the zero-based rank of clientKey or ErrNotQueued.
func (q *RateQueue) Rank(ctx context.Context, eventID, clientKey string) (int64, error) {
	k, err := keysFor(eventID)
	if err != nil {
		return 0, err
	}
	res, err := rankScript.Run(ctx, q.rdb, []string{k.queue(), k.seen()}, q.head(k, q.clock.Now(), clientKey)...).Int64()
	if err != nil {
		return 0, fmt.Errorf("rank %s/%s: %w", eventID, clientKey, err)
	}
	if res < 0 {
		return 0, ErrNotQueued
	}
	return res, nil
}

// Remove drops clientKey from the queue; removing an absent client is not an error.
func (q *RateQueue) Remove(ctx context.Context, eventID, clientKey string) error {
	k, err := keysFor(eventID)
	if err != nil {
		return err
	}
	keys := []string{k.queue(), k.seen(), k.entry(clientKey)}
	if err := removeScript.Run(ctx, q.rdb, keys, clientKey).Err(); err != nil {
		return fmt.Errorf("remove %s/%s: %w", eventID, clientKey, err)
	}
	return nil
}

// Len reports how many clients are waiting for eventID.
func (q *RateQueue) Len(ctx context.Context, eventID string) (int64, error) {
	k, err := keysFor(eventID)
	if err != nil {
		return 0, err
	}
	return q.rdb.ZCard(ctx, k.queue()).Result()
}

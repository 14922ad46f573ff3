package admission

import (
	"errors"
	"regexp"
)

// Every key of one event carries the same {eventID} hash tag so the scripts
// touch a single cluster slot.
//
//	q:{e}:z            ZSET  waiting clients, score = arrival sequence
//	q:{e}:seen         ZSET  last activity (ms) per waiting client
//	q:{e}:seq          STR   arrival sequence counter
//	q:{e}:e:<client>   HASH  enqueued_at, offset
//	q:{e}:pass:<client> STR  pass token, PX ttl
//	q:{e}:used:<client> STR  marker left behind by a consumed pass
//	q:{e}:start        STR   admission window start (ms)
//	q:{e}:granted      STR   admissions issued since window start

var (
	ErrInvalidEvent  = errors.New("invalid event id")
	ErrInvalidClient = errors.New("invalid client key")
)

var keyPart = regexp.MustCompile(`^[A-Za-z0-9_.:-]{1,64}$`)

type eventKeys struct {
	base string
}

func keysFor(eventID string) (eventKeys, error) {
	if !keyPart.MatchString(eventID) {
		return eventKeys{}, ErrInvalidEvent
	}
	return eventKeys{base: "q:{" + eventID + "}"}, nil
}

func checkClient(clientKey string) error {
	if !keyPart.MatchString(clientKey) {
		return ErrInvalidClient
	}
	return nil
}

func (k eventKeys) queue() string   { return k.base + ":z" }
func (k eventKeys) seen() string    { return k.base + ":seen" }
func (k eventKeys) seq() string     { return k.base + ":seq" }
func (k eventKeys) start() string   { return k.base + ":start" }
func (k eventKeys) granted() string { return k.base + ":granted" }
func (k eventKeys) pattern() string { return k.base + ":*" }

// entryPrefix is handed to the scripts so they can purge entry hashes of
// members they only learn about at run time.
func (k eventKeys) entryPrefix() string        { return k.base + ":e:" }
func (k eventKeys) entry(client string) string { return k.entryPrefix() + client }
func (k eventKeys) pass(client string) string  { return k.base + ":pass:" + client }
func (k eventKeys) used(client string) string  { return k.base + ":used:" + client }

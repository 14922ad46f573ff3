package admission

import (
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// purgeExpired runs first in every queue script.  It expects KEYS[1] = queue,
// KEYS[2] = seen, ARGV[2] = "(<cutoff ms>" and ARGV[3] = entry key prefix,
// and drops members whose last activity is older than the cutoff in batches
// until none are left, so a rank never counts an expired entry.
const purgeExpired = `
local purged
repeat
	local stale = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[2], 'LIMIT', 0, 200)
	for _, m in ipairs(stale) do
		redis.call('ZREM', KEYS[1], m)
		redis.call('ZREM', KEYS[2], m)
		redis.call('DEL', ARGV[3] .. m)
	end
	purged = #stale
until purged < 200
`

// KEYS: queue, seen, seq, entry, pass, start, granted
// ARGV: now, cutoff, prefix, member, offset, entry ttl ms, window ttl ms
// -> {rank, offset, created, admitted, queue size}
var enqueueScript = redis.NewScript(purgeExpired + `
local now, member = ARGV[1], ARGV[4]
local entryTTL, windowTTL = ARGV[6], ARGV[7]

if redis.call('EXISTS', KEYS[5]) == 1 then
	return {0, 0, 0, 1, redis.call('ZCARD', KEYS[1])}
end

if redis.call('SET', KEYS[6], now, 'NX', 'PX', windowTTL) then
	redis.call('DEL', KEYS[7])
end

local created = 0
local offset = ARGV[5]
local rank = redis.call('ZRANK', KEYS[1], member)
if rank then
	offset = redis.call('HGET', KEYS[4], 'offset') or offset
else
	local seq = redis.call('INCR', KEYS[3])
	redis.call('ZADD', KEYS[1], seq, member)
	redis.call('HSET', KEYS[4], 'enqueued_at', now, 'offset', offset)
	rank = redis.call('ZRANK', KEYS[1], member)
	created = 1
end

redis.call('ZADD', KEYS[2], now, member)
redis.call('PEXPIRE', KEYS[4], entryTTL)
for i = 1, 3 do
	redis.call('PEXPIRE', KEYS[i], windowTTL)
end
redis.call('PEXPIRE', KEYS[6], windowTTL)
if redis.call('EXISTS', KEYS[7]) == 1 then
	redis.call('PEXPIRE', KEYS[7], windowTTL)
end

return {rank, tonumber(offset), created, 0, redis.call('ZCARD', KEYS[1])}
`)

// KEYS: queue, seen
// ARGV: now, cutoff, prefix, member
var rankScript = redis.NewScript(purgeExpired + `
local rank = redis.call('ZRANK', KEYS[1], ARGV[4])
if rank then
	return rank
end
return -1
`)

// KEYS: queue, seen, entry
// ARGV: member
var removeScript = redis.NewScript(`
local n = redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('DEL', KEYS[3])
return n
`)

// Status and admission happen in one step so two pollers can never both
// observe spare budget.
//
// KEYS: queue, seen, entry, pass, used, start, granted
// ARGV: now, cutoff, prefix, member, permits per minute, token,
//       pass ttl ms, entry ttl ms, window ttl ms
// -> {state, rank, token}
var statusScript = redis.NewScript(purgeExpired + `
local now, member = tonumber(ARGV[1]), ARGV[4]

local pass = redis.call('GET', KEYS[4])
if pass then
	return {2, 0, pass}
end

local rank = redis.call('ZRANK', KEYS[1], member)
if not rank then
	if redis.call('EXISTS', KEYS[5]) == 1 then
		return {3, -1, ''}
	end
	return {0, -1, ''}
end

redis.call('ZADD', KEYS[2], ARGV[1], member)
redis.call('PEXPIRE', KEYS[3], ARGV[8])

if rank == 0 then
	local started = tonumber(redis.call('GET', KEYS[6]))
	if not started then
		started = now
		redis.call('SET', KEYS[6], ARGV[1], 'PX', ARGV[9])
		redis.call('DEL', KEYS[7])
	end
	local allowed = math.floor((now - started) * tonumber(ARGV[5]) / 60000)
	local count = tonumber(redis.call('GET', KEYS[7]) or '0')
	if count < allowed then
		redis.call('INCR', KEYS[7])
		redis.call('PEXPIRE', KEYS[7], ARGV[9])
		redis.call('PEXPIRE', KEYS[6], ARGV[9])
		redis.call('SET', KEYS[4], ARGV[6], 'PX', ARGV[7])
		redis.call('DEL', KEYS[5])
		redis.call('ZREM', KEYS[1], member)
		redis.call('ZREM', KEYS[2], member)
		redis.call('DEL', KEYS[3])
		return {2, 0, ARGV[6]}
	end
end

return {1, rank, ''}
`)

// KEYS: pass, used
// ARGV: token, used marker ttl ms
var consumeScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if v and v == ARGV[1] then
	redis.call('DEL', KEYS[1])
	redis.call('SET', KEYS[2], '1', 'PX', ARGV[2])
	return 1
end
return 0
`)

func scriptArray(v interface{}, n int) ([]interface{}, error) {
	arr, ok := v.([]interface{})
	if !ok || len(arr) != n {
		return nil, fmt.Errorf("unexpected script result %#v", v)
	}
	return arr, nil
}

func asInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case string:
		if n, err := strconv.ParseInt(t, 10, 64); err == nil {
			return n
		}
	}
	return 0
}

func asString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

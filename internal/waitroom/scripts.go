package waitroom

import "github.com/redis/go-redis/v9"

// All scripts take KEYS[1] = waiting set, KEYS[2] = active set. Waiting
// scores are enqueue sequence numbers; active scores are ticket expiry
// times in unix milliseconds.

// enqueueScript: KEYS[3] = sequence counter, ARGV[1] = member.
// Returns {state, rank, seq}: state 0 = newly queued, 1 = already waiting,
// 2 = already enterable.
var enqueueScript = redis.NewScript(`
local member = ARGV[1]
if redis.call('ZSCORE', KEYS[2], member) then
    return {2, 0, 0}
end
local seq = redis.call('ZSCORE', KEYS[1], member)
if seq then
    return {1, redis.call('ZRANK', KEYS[1], member), tonumber(seq)}
end
seq = redis.call('INCR', KEYS[3])
redis.call('ZADD', KEYS[1], seq, member)
return {0, redis.call('ZRANK', KEYS[1], member), seq}
`)

// promoteScript: ARGV[1] = member, ARGV[2] = cap, ARGV[3] = ticket expiry ms.
// The cap check and the move happen in one script, so concurrent
// promotions can never push the active set past the cap.
// Returns {result, seq}: result 0 = skipped, 1 = rejected full, 2 = moved.
var promoteScript = redis.NewScript(`
local member = ARGV[1]
local seq = redis.call('ZSCORE', KEYS[1], member)
if not seq then
    return {0, 0}
end
if redis.call('ZCARD', KEYS[2]) >= tonumber(ARGV[2]) then
    return {1, tonumber(seq)}
end
redis.call('ZREM', KEYS[1], member)
redis.call('ZADD', KEYS[2], ARGV[3], member)
return {2, tonumber(seq)}
`)

// demoteScript undoes a promotion: ARGV[1] = member, ARGV[2] = original seq.
var demoteScript = redis.NewScript(`
if redis.call('ZREM', KEYS[2], ARGV[1]) == 1 then
    redis.call('ZADD', KEYS[1], ARGV[2], ARGV[1])
    return 1
end
return 0
`)

// exitScript: ARGV[1] = member, ARGV[2] = mode, ARGV[3] = now ms.
// mode "active" removes from the active set only, "expired" removes from
// the active set only when the ticket has lapsed, "any" also removes a
// waiting member. ZREM succeeds once per membership, which makes every
// exit decrement the active count exactly once.
// Returns 1 = left the active set, 2 = left the waiting set, 0 = nothing.
var exitScript = redis.NewScript(`
local member = ARGV[1]
local score = redis.call('ZSCORE', KEYS[2], member)
if score then
    if ARGV[2] == 'expired' and tonumber(score) > tonumber(ARGV[3]) then
        return 0
    end
    redis.call('ZREM', KEYS[2], member)
    return 1
end
if ARGV[2] == 'any' and redis.call('ZREM', KEYS[1], member) == 1 then
    return 2
end
return 0
`)

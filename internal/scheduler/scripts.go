/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import "github.com/redis/go-redis/v9"

// Keys: due zset (id by due ms), jobs hash (id -> token), bodies hash
// (token -> job JSON), inflight zset (token by lease deadline), attempts hash
// (token -> deliveries).

// postScript registers a job and retires any unclaimed job under the same id.
// KEYS: due, jobs, bodies, attempts. ARGV: id, token, body, dueMs.
// Returns 1 when a previous job was superseded.
var postScript = redis.NewScript(`
local old = redis.call('HGET', KEYS[2], ARGV[1])
local superseded = 0
if old then
	redis.call('HDEL', KEYS[3], old)
	redis.call('HDEL', KEYS[4], old)
	superseded = 1
end
redis.call('HSET', KEYS[2], ARGV[1], ARGV[2])
redis.call('HSET', KEYS[3], ARGV[2], ARGV[3])
redis.call('ZADD', KEYS[1], ARGV[4], ARGV[1])
return superseded
`)

// cancelScript removes an unclaimed job.
// KEYS: due, jobs, bodies. ARGV: id. Returns 1 when a job was removed.
var cancelScript = redis.NewScript(`
local tok = redis.call('HGET', KEYS[2], ARGV[1])
if not tok then
	return 0
end
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('HDEL', KEYS[2], ARGV[1])
redis.call('HDEL', KEYS[3], tok)
return 1
`)

// claimScript leases expired in-flight jobs and due jobs to the caller.
// KEYS: due, jobs, bodies, inflight, attempts.
// ARGV: nowMs, leaseMs, limit, maxAttempts, backoffCapMs.
// Returns a flat list of body, attempt pairs. Jobs past maxAttempts stay
// claimable; their next lease doubles per extra attempt up to backoffCapMs.
var claimScript = redis.NewScript(`
local out = {}
local now = tonumber(ARGV[1])
local lease = tonumber(ARGV[2])
local maxAttempts = tonumber(ARGV[4])
local backoffCap = tonumber(ARGV[5])

local expired = redis.call('ZRANGEBYSCORE', KEYS[4], '-inf', now, 'LIMIT', 0, ARGV[3])
for _, tok in ipairs(expired) do
	local body = redis.call('HGET', KEYS[3], tok)
	if not body then
		redis.call('ZREM', KEYS[4], tok)
		redis.call('HDEL', KEYS[5], tok)
	else
		local n = redis.call('HINCRBY', KEYS[5], tok, 1)
		local wait = lease
		if n > maxAttempts then
			wait = lease * math.pow(2, math.min(n - maxAttempts, 30))
			if wait > backoffCap then
				wait = math.max(backoffCap, lease)
			end
		end
		redis.call('ZADD', KEYS[4], now + wait, tok)
		table.insert(out, body)
		table.insert(out, n)
	end
end

local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', now, 'LIMIT', 0, ARGV[3])
for _, id in ipairs(due) do
	redis.call('ZREM', KEYS[1], id)
	local tok = redis.call('HGET', KEYS[2], id)
	redis.call('HDEL', KEYS[2], id)
	if tok then
		local body = redis.call('HGET', KEYS[3], tok)
		if body then
			redis.call('ZADD', KEYS[4], now + lease, tok)
			redis.call('HSET', KEYS[5], tok, 1)
			table.insert(out, body)
			table.insert(out, 1)
		end
	end
end

return out
`)

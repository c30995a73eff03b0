package redis

const (
	// claimSpotScript atomically flips a spot from available to occupied.
	// The check-and-flip must be a single step: two concurrent claims on
	// the same free spot yield exactly one OK and one UNAVAILABLE.
	claimSpotScript = `
local spot_key = KEYS[1]      -- parkd:spot:{spotID}

local updated_at = ARGV[1]

if redis.call('EXISTS', spot_key) == 0 then
  return 'NOT_FOUND'
end

local available = redis.call('HGET', spot_key, 'available')
if available ~= '1' then
  return 'UNAVAILABLE'
end

redis.call('HSET', spot_key, 'available', '0', 'updated_at', updated_at)
return 'OK'
`

	// releaseSpotScript flips a spot back to available.
	releaseSpotScript = `
local spot_key = KEYS[1]      -- parkd:spot:{spotID}

local updated_at = ARGV[1]

if redis.call('EXISTS', spot_key) == 0 then
  return 'NOT_FOUND'
end

redis.call('HSET', spot_key, 'available', '1', 'updated_at', updated_at)
return 'OK'
`

	// upsertSessionScript writes a session and maintains its indexes:
	// the active set, the per-wallet start-time index, the per-spot set,
	// and the ended-time index used by retention sweeps.
	upsertSessionScript = `
local session_key = KEYS[1]   -- parkd:session:{sessionID}
local active_set = KEYS[2]    -- parkd:sessions:active
local wallet_idx = KEYS[3]    -- parkd:sessions:wallet:{wallet}
local spot_set = KEYS[4]      -- parkd:sessions:spot:{spotID}
local ended_idx = KEYS[5]     -- parkd:sessions:ended

local session_id = ARGV[1]
local wallet = ARGV[2]
local spot_id = ARGV[3]
local lot_id = ARGV[4]
local started_at = ARGV[5]
local started_unix = tonumber(ARGV[6])
local ended_at = ARGV[7]
local ended_unix = tonumber(ARGV[8])
local amount = ARGV[9]
local status = ARGV[10]
local settle_state = ARGV[11]
local settle_tx = ARGV[12]
local settle_reason = ARGV[13]

redis.call('HSET', session_key,
  'id', session_id,
  'wallet', wallet,
  'spot_id', spot_id,
  'lot_id', lot_id,
  'started_at', started_at,
  'ended_at', ended_at,
  'amount', amount,
  'status', status,
  'settle_state', settle_state,
  'settle_tx', settle_tx,
  'settle_reason', settle_reason
)

redis.call('ZADD', wallet_idx, started_unix, session_id)
redis.call('SADD', spot_set, session_id)

if status == 'ACTIVE' then
  redis.call('SADD', active_set, session_id)
else
  redis.call('SREM', active_set, session_id)
  redis.call('ZADD', ended_idx, ended_unix, session_id)
end

return 'OK'
`
)

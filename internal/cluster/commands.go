package cluster

// Command classification sets, fixed at router construction time. A
// command outside supportedCmd is rejected with InvalidCommand before
// any slot computation happens.
var supportedCmd = set(
	"PING", "ECHO", "QUIT", "SELECT",
	// strings
	"APPEND", "BITCOUNT", "BITFIELD", "BITPOS", "DECR", "DECRBY", "GET",
	"GETBIT", "GETRANGE", "GETSET", "INCR", "INCRBY", "INCRBYFLOAT", "MGET",
	"MSET", "MSETNX", "PSETEX", "SET", "SETBIT", "SETEX", "SETNX", "SETRANGE",
	"STRLEN",
	// hashes
	"HDEL", "HEXISTS", "HGET", "HGETALL", "HINCRBY", "HINCRBYFLOAT", "HKEYS",
	"HLEN", "HMGET", "HMSET", "HSET", "HSETNX", "HSTRLEN", "HVALS", "HSCAN",
	// lists
	"LINDEX", "LINSERT", "LLEN", "LPOP", "LPOS", "LPUSH", "LPUSHX", "LRANGE",
	"LREM", "LSET", "LTRIM", "RPOP", "RPUSH", "RPUSHX",
	// sets
	"SADD", "SCARD", "SISMEMBER", "SMISMEMBER", "SMEMBERS", "SPOP",
	"SRANDMEMBER", "SREM", "SSCAN",
	// sorted sets
	"ZADD", "ZCARD", "ZCOUNT", "ZINCRBY", "ZLEXCOUNT", "ZPOPMAX", "ZPOPMIN",
	"ZRANGE", "ZRANGEBYLEX", "ZREVRANGEBYLEX", "ZRANGEBYSCORE", "ZRANK",
	"ZREM", "ZREMRANGEBYLEX", "ZREMRANGEBYRANK", "ZREMRANGEBYSCORE",
	"ZREVRANGE", "ZREVRANGEBYSCORE", "ZREVRANK", "ZSCORE", "ZMSCORE", "ZSCAN",
	// keys
	"DEL", "DUMP", "EXISTS", "EXPIRE", "EXPIREAT", "MOVE", "PERSIST", "PEXPIRE",
	"PEXPIREAT", "PTTL", "RANDOMKEY", "RESTORE", "SORT", "TOUCH", "TTL", "TYPE",
	"UNLINK",
	// servers
	"ACL", "COMMAND", "CONFIG", "DBSIZE", "DEBUG", "FLUSHALL", "FLUSHDB", "INFO",
	"LOLWUT", "LASTSAVE", "MEMORY",
)

// writeCmd are commands that mutate keys. Anything in supportedCmd but
// not here is a read.
var writeCmd = set(
	"APPEND", "BITFIELD", "DECR", "DECRBY", "GETSET", "INCR", "INCRBY", "INCRBYFLOAT",
	"MSET", "MSETNX", "PSETEX", "SET", "SETBIT", "SETEX", "SETNX", "SETRANGE",
	"HDEL", "HINCRBY", "HINCRBYFLOAT", "HMSET", "HSET", "HSETNX",
	"LINSERT", "LPOS", "LPUSH", "LPUSHX", "LREM", "LSET", "LTRIM", "RPOP",
	"RPUSH", "RPUSHX",
	"SADD", "SPOP", "SREM",
	"ZADD", "ZINCRBY", "ZPOPMAX", "ZPOPMIN",
	"ZREM", "ZREMRANGEBYLEX", "ZREMRANGEBYRANK", "ZREMRANGEBYSCORE",
	"DEL", "EXPIRE", "EXPIREAT", "MOVE", "PERSIST", "PEXPIRE", "PEXPIREAT",
	"RESTORE", "SORT", "TOUCH", "UNLINK",
)

// multiKeyCmd commands take an arbitrary number of keys as all of
// their arguments (MGET k1 k2 k3 ...).
var multiKeyCmd = set("MGET", "DEL", "EXISTS", "TOUCH", "UNLINK")

// multiKeyValueCmd commands interleave key/value pairs (MSET k1 v1 k2 v2 ...).
var multiKeyValueCmd = set("MSET", "MSETNX")

func set(names ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(names))
	for _, n := range names {
		m[n] = struct{}{}
	}
	return m
}

func isSupported(cmd string) bool        { _, ok := supportedCmd[cmd]; return ok }
func isWrite(cmd string) bool            { _, ok := writeCmd[cmd]; return ok }
func isMultiKey(cmd string) bool         { _, ok := multiKeyCmd[cmd]; return ok }
func isMultiKeyValue(cmd string) bool    { _, ok := multiKeyValueCmd[cmd]; return ok }

package proxy

import "github.com/coreslot/vkcproxy/proto"

// cmdClass classifies a command into one of the four surfaces spec.md §6
// names: forwarded (single-key), fan-out (multi-key), local (answered by
// the proxy itself), and refused (not supported).
type cmdClass int

const (
	cmdForwarded cmdClass = iota
	cmdFanout
	cmdLocal
	cmdRefused
	cmdUnknown
)

// cmdDescriptor is the static shape of a command's key positions, the
// classic first-key/last-key/step triple used throughout Redis-family
// proxies and command tables.
type cmdDescriptor struct {
	class          cmdClass
	firstKey       int
	lastKey        int
	step           int
	fanoutKeyStart int // for cmdFanout: index of the first key argument
}

// commandTable is intentionally not exhaustive of every Redis command —
// spec.md §6 enumerates the command *surface* by category, not by literal
// exhaustive list, and this table covers every named category
// (strings, lists, hashes, sets, sorted sets, bitmap, hyperloglog, geo,
// sort, ttl, dump, object, eval/evalsha) plus the fan-out and local sets.
var commandTable = map[string]cmdDescriptor{
	// fan-out
	"DEL":    {class: cmdFanout, fanoutKeyStart: 1},
	"EXISTS": {class: cmdFanout, fanoutKeyStart: 1},
	"MGET":   {class: cmdFanout, fanoutKeyStart: 1},
	"MSET":   {class: cmdFanout, fanoutKeyStart: 1}, // step 2, handled specially

	// local
	"SELECT":    {class: cmdLocal},
	"PING":      {class: cmdLocal},
	"ECHO":      {class: cmdLocal},
	"AUTH":      {class: cmdLocal},
	"TIME":      {class: cmdLocal},
	"READONLY":  {class: cmdLocal},
	"READWRITE": {class: cmdLocal},
	"WAIT":      {class: cmdLocal},
	"COMMAND":   {class: cmdLocal},
	"SHUTDOWN":  {class: cmdLocal},
	"SLOWLOG":   {class: cmdLocal},
	"DEBUG":     {class: cmdLocal},
	"CONFIG":    {class: cmdLocal},
	"CLIENT":    {class: cmdLocal},
	"LATENCY":   {class: cmdLocal},
	"MONITOR":   {class: cmdLocal},
	"PROXY":     {class: cmdLocal},
	"INFO":      {class: cmdLocal},

	// refused
	"KEYS":      {class: cmdRefused},
	"MOVE":      {class: cmdRefused},
	"RANDOMKEY": {class: cmdRefused},
	"SCAN":      {class: cmdRefused},
	"DBSIZE":    {class: cmdRefused},
	"RENAME":    {class: cmdRefused},
	"RENAMENX":  {class: cmdRefused},
	"BITOP":     {class: cmdRefused},
	"MSETNX":    {class: cmdRefused},
	"MIGRATE":   {class: cmdRefused},
	"ASKING":    {class: cmdRefused},
	"RESTORE":   {class: cmdRefused},
	"BLPOP":     {class: cmdRefused},
	"BRPOP":     {class: cmdRefused},
	"BRPOPLPUSH": {class: cmdRefused},
	"BLMOVE":    {class: cmdRefused},
	"SUBSCRIBE":   {class: cmdRefused},
	"UNSUBSCRIBE": {class: cmdRefused},
	"PSUBSCRIBE":  {class: cmdRefused},
	"PUBLISH":     {class: cmdRefused},
	"MULTI":       {class: cmdRefused},
	"EXEC":        {class: cmdRefused},
	"DISCARD":     {class: cmdRefused},
	"WATCH":       {class: cmdRefused},
	"UNWATCH":     {class: cmdRefused},
	"SCRIPT":      {class: cmdRefused},
	"SAVE":        {class: cmdRefused},
	"BGSAVE":      {class: cmdRefused},
	"BGREWRITEAOF": {class: cmdRefused},
	"REPLICAOF":   {class: cmdRefused},
	"SLAVEOF":     {class: cmdRefused},
	"CLUSTER":     {class: cmdRefused},
	"ROLE":        {class: cmdRefused},
	"PFDEBUG":     {class: cmdRefused},
	"PFSELFTEST":  {class: cmdRefused},

	// forwarded, single-key (representative of each category named in §6)
	"GET": {class: cmdForwarded, firstKey: 1, lastKey: 1, step: 1},
	"SET": {class: cmdForwarded, firstKey: 1, lastKey: 1, step: 1},
	"SETNX": {class: cmdForwarded, firstKey: 1, lastKey: 1, step: 1},
	"SETEX": {class: cmdForwarded, firstKey: 1, lastKey: 1, step: 1},
	"PSETEX": {class: cmdForwarded, firstKey: 1, lastKey: 1, step: 1},
	"GETSET": {class: cmdForwarded, firstKey: 1, lastKey: 1, step: 1},
	"GETDEL": {class: cmdForwarded, firstKey: 1, lastKey: 1, step: 1},
	"GETEX":  {class: cmdForwarded, firstKey: 1, lastKey: 1, step: 1},
	"APPEND": {class: cmdForwarded, firstKey: 1, lastKey: 1, step: 1},
	"STRLEN": {class: cmdForwarded, firstKey: 1, lastKey: 1, step: 1},
	"INCR":    {class: cmdForwarded, firstKey: 1, lastKey: 1, step: 1},
	"DECR":    {class: cmdForwarded, firstKey: 1, lastKey: 1, step: 1},
	"INCRBY":  {class: cmdForwarded, firstKey: 1, lastKey: 1, step: 1},
	"DECRBY":  {class: cmdForwarded, firstKey: 1, lastKey: 1, step: 1},
	"INCRBYFLOAT": {class: cmdForwarded, firstKey: 1, lastKey: 1, step: 1},

	"LPUSH": {class: cmdForwarded, firstKey: 1, lastKey: 1, step: 1},
	"RPUSH": {class: cmdForwarded, firstKey: 1, lastKey: 1, step: 1},
	"LPUSHX": {class: cmdForwarded, firstKey: 1, lastKey: 1, step: 1},
	"RPUSHX": {class: cmdForwarded, firstKey: 1, lastKey: 1, step: 1},
	"LPOP":  {class: cmdForwarded, firstKey: 1, lastKey: 1, step: 1},
	"RPOP":  {class: cmdForwarded, firstKey: 1, lastKey: 1, step: 1},
	"LLEN":  {class: cmdForwarded, firstKey: 1, lastKey: 1, step: 1},
	"LRANGE": {class: cmdForwarded, firstKey: 1, lastKey: 1, step: 1},
	"LINDEX": {class: cmdForwarded, firstKey: 1, lastKey: 1, step: 1},
	"LSET":   {class: cmdForwarded, firstKey: 1, lastKey: 1, step: 1},
	"LTRIM":  {class: cmdForwarded, firstKey: 1, lastKey: 1, step: 1},
	"LREM":   {class: cmdForwarded, firstKey: 1, lastKey: 1, step: 1},

	"HSET":    {class: cmdForwarded, firstKey: 1, lastKey: 1, step: 1},
	"HSETNX":  {class: cmdForwarded, firstKey: 1, lastKey: 1, step: 1},
	"HGET":    {class: cmdForwarded, firstKey: 1, lastKey: 1, step: 1},
	"HMSET":   {class: cmdForwarded, firstKey: 1, lastKey: 1, step: 1},
	"HMGET":   {class: cmdForwarded, firstKey: 1, lastKey: 1, step: 1},
	"HDEL":    {class: cmdForwarded, firstKey: 1, lastKey: 1, step: 1},
	"HGETALL": {class: cmdForwarded, firstKey: 1, lastKey: 1, step: 1},
	"HINCRBY": {class: cmdForwarded, firstKey: 1, lastKey: 1, step: 1},
	"HLEN":    {class: cmdForwarded, firstKey: 1, lastKey: 1, step: 1},
	"HEXISTS": {class: cmdForwarded, firstKey: 1, lastKey: 1, step: 1},
	"HKEYS":   {class: cmdForwarded, firstKey: 1, lastKey: 1, step: 1},
	"HVALS":   {class: cmdForwarded, firstKey: 1, lastKey: 1, step: 1},

	"SADD":        {class: cmdForwarded, firstKey: 1, lastKey: 1, step: 1},
	"SREM":        {class: cmdForwarded, firstKey: 1, lastKey: 1, step: 1},
	"SMEMBERS":    {class: cmdForwarded, firstKey: 1, lastKey: 1, step: 1},
	"SISMEMBER":   {class: cmdForwarded, firstKey: 1, lastKey: 1, step: 1},
	"SCARD":       {class: cmdForwarded, firstKey: 1, lastKey: 1, step: 1},
	"SPOP":        {class: cmdForwarded, firstKey: 1, lastKey: 1, step: 1},
	"SRANDMEMBER": {class: cmdForwarded, firstKey: 1, lastKey: 1, step: 1},

	"ZADD":             {class: cmdForwarded, firstKey: 1, lastKey: 1, step: 1},
	"ZREM":             {class: cmdForwarded, firstKey: 1, lastKey: 1, step: 1},
	"ZSCORE":           {class: cmdForwarded, firstKey: 1, lastKey: 1, step: 1},
	"ZINCRBY":          {class: cmdForwarded, firstKey: 1, lastKey: 1, step: 1},
	"ZCARD":            {class: cmdForwarded, firstKey: 1, lastKey: 1, step: 1},
	"ZRANGE":           {class: cmdForwarded, firstKey: 1, lastKey: 1, step: 1},
	"ZREVRANGE":        {class: cmdForwarded, firstKey: 1, lastKey: 1, step: 1},
	"ZRANGEBYSCORE":    {class: cmdForwarded, firstKey: 1, lastKey: 1, step: 1},
	"ZRANK":            {class: cmdForwarded, firstKey: 1, lastKey: 1, step: 1},

	"SETBIT": {class: cmdForwarded, firstKey: 1, lastKey: 1, step: 1},
	"GETBIT": {class: cmdForwarded, firstKey: 1, lastKey: 1, step: 1},
	"BITCOUNT": {class: cmdForwarded, firstKey: 1, lastKey: 1, step: 1},
	"BITPOS":   {class: cmdForwarded, firstKey: 1, lastKey: 1, step: 1},

	"PFADD":   {class: cmdForwarded, firstKey: 1, lastKey: 1, step: 1},
	"PFCOUNT": {class: cmdForwarded, firstKey: 1, lastKey: 1, step: 1},
	"PFMERGE": {class: cmdForwarded, firstKey: 1, lastKey: 1, step: 1},

	"GEOADD":       {class: cmdForwarded, firstKey: 1, lastKey: 1, step: 1},
	"GEOPOS":       {class: cmdForwarded, firstKey: 1, lastKey: 1, step: 1},
	"GEODIST":      {class: cmdForwarded, firstKey: 1, lastKey: 1, step: 1},
	"GEOSEARCH":    {class: cmdForwarded, firstKey: 1, lastKey: 1, step: 1},

	"SORT": {class: cmdForwarded, firstKey: 1, lastKey: 1, step: 1},

	"EXPIRE":    {class: cmdForwarded, firstKey: 1, lastKey: 1, step: 1},
	"PEXPIRE":   {class: cmdForwarded, firstKey: 1, lastKey: 1, step: 1},
	"EXPIREAT":  {class: cmdForwarded, firstKey: 1, lastKey: 1, step: 1},
	"PEXPIREAT": {class: cmdForwarded, firstKey: 1, lastKey: 1, step: 1},
	"TTL":       {class: cmdForwarded, firstKey: 1, lastKey: 1, step: 1},
	"PTTL":      {class: cmdForwarded, firstKey: 1, lastKey: 1, step: 1},
	"PERSIST":   {class: cmdForwarded, firstKey: 1, lastKey: 1, step: 1},
	"TYPE":      {class: cmdForwarded, firstKey: 1, lastKey: 1, step: 1},

	"DUMP":    {class: cmdForwarded, firstKey: 1, lastKey: 1, step: 1},
	"OBJECT":  {class: cmdForwarded, firstKey: 2, lastKey: 2, step: 1},

	"EVAL":    {class: cmdForwarded, firstKey: 3, lastKey: 3, step: 1}, // EVAL script numkeys key...
	"EVALSHA": {class: cmdForwarded, firstKey: 3, lastKey: 3, step: 1},
}

// classify looks up cmd's descriptor, upper-casing nothing itself (the
// session upper-cases Args[0] on read, per the teacher's convention).
func classify(cmd string) (cmdDescriptor, bool) {
	d, ok := commandTable[cmd]
	return d, ok
}

// localAuthExempt lists commands answerable before authentication has
// completed, when AUTH is configured — mirrors the teacher's
// CmdAuthRequired check.
var localAuthExempt = map[string]bool{
	"AUTH": true,
	"PING": true,
}

// CmdAuthRequired reports whether cmd must be rejected with NOAUTH when
// the session has not authenticated yet.
func CmdAuthRequired(cmd *proto.Command) bool {
	return !localAuthExempt[cmd.Name()]
}

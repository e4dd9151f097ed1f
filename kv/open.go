package kv

import (
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

// Options selects and configures a backend.
type Options struct {
	Backend   string
	Path      string
	RedisAddr string
	RedisDB   int
	Prefix    string
}

// Open builds the backend named by opts.Backend. An empty backend means
// memory.
func Open(opts Options) (KVStore, error) {
	switch opts.Backend {
	case "", BackendMemory:
		return NewInMemoryKVStore(), nil
	case BackendFile:
		if opts.Path == "" {
			return nil, fmt.Errorf("kv backend %q requires a path", opts.Backend)
		}
		return NewFileBasedKVStore(opts.Path)
	case BackendRedis:
		if opts.RedisAddr == "" {
			return nil, fmt.Errorf("kv backend %q requires an address", opts.Backend)
		}
		client := redis.NewClient(&redis.Options{Addr: opts.RedisAddr, DB: opts.RedisDB})
		return NewRedisKVStore(client, opts.Prefix), nil
	case BackendSQLite:
		path := opts.Path
		if path == "" {
			path = ":memory:"
		}
		return OpenSQLiteKVStore(path)
	default:
		return nil, fmt.Errorf("unknown kv backend %q", opts.Backend)
	}
}

// Package storage holds the backend selection shared by the durable
// implementations of the webhook endpoint store and delivery queue.
//
// # Backends
//
// Endpoint store:
//
//   - memory: webhooks.MemoryStore, lost on restart
//   - postgres: sqlstore.EndpointStore over lib/pq
//   - sqlite: sqlstore.EndpointStore over mattn/go-sqlite3
//
// Delivery queue:
//
//   - memory: webhooks.MemoryQueue
//   - redis: redisqueue.Queue, a JSON-encoded Redis list
//
// # Configuration
//
//	cfg := storage.DefaultConfig()
//	cfg.StoreType = storage.StorePostgres
//	cfg.PostgresURL = "postgres://localhost/herald?sslmode=disable"
//	cfg.QueueType = storage.QueueRedis
//	cfg.RedisURL = "redis://localhost:6379/0"
//	if err := cfg.Validate(); err != nil {
//		return err
//	}
//
// # Related Packages
//
//   - pkg/storage/sqlstore: SQL endpoint store
//   - pkg/storage/redisqueue: Redis delivery queue
//   - pkg/config: loads this configuration from the environment
package storage

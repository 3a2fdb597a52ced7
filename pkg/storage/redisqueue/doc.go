// Package redisqueue keeps pending delivery attempts in a Redis list so the
// queue survives process restarts and can be shared by several processors.
//
// Attempts are pushed to the tail with RPUSH and drained from the head with
// LRANGE+LTRIM inside a MULTI block, which keeps FIFO order and removes each
// batch atomically.
package redisqueue

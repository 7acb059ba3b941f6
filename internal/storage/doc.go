// Package storage is the SQLite persistence layer of feedbot.
//
// It holds:
//   - Subscriptions with their dedup state (last check + recent title digests)
//   - The durable inbound update queue (FIFO by row id)
//   - Banned webhook origins
//
// All writes are single statements or short transactions; the database uses
// one connection so SQLite never sees concurrent writers from this process.
package storage

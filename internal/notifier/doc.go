// Package notifier delivers text messages to subscribers through a
// transport.Sender and absorbs transient failures.
//
// # Retry policy
//
// Failures are classified by the transport's error description into a
// Category. Each category has its own retry budget, backoff and exhaustion
// action:
//
//   - unauthorized: no retry, fatal for the whole process (OnFatal)
//   - not_found:    1 retry after 5s, then the recipient is dropped
//   - blocked:      3 retries after 10s, then the recipient is dropped
//   - rate_limited: 1 retry after 10s (or the server's retry-after, up to 40s)
//   - transport:    3 retries after 2s
//   - network:      1 retry after 5s (no API response at all)
//
// A fixed pause follows every attempt. Dropping a recipient deletes all of
// its subscriptions once and is never retried.
package notifier

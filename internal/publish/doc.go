// Package publish is the consumer side of the relay: a bounded queue fed by
// the per-feed poll loops, a single Publisher draining it into the posting
// API, and a Sweeper that re-queues entries whose publish failed.
package publish

// Package report surfaces loop failures: every report is logged, and
// optionally forwarded to a Telegram chat through a rate-limited async queue.
//
// Reporting never blocks the caller. When the queue is full the message is
// dropped and counted.
package report

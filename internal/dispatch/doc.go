// Package dispatch owns the process-wide notification queue.
//
// Producers call Submit and move on. Identical (title, body) pairs submitted
// within the dedup window are dropped before they reach the queue. A single
// drain loop pops requests in FIFO order, hands each one to the channel
// router and pauses for the throttle interval before the next one. The loop
// exits when the queue is empty and the next submission starts it again.
//
// # Synchronous dispatch
//
// DispatchNow skips both the queue and the dedup window and returns the
// per-target outcomes to the caller. It is meant for "send a test
// notification" style actions where the user waits for the result.
//
// # History
//
// When a storage.Store is configured, every outcome is appended to it from a
// background loop. Writes are best-effort: a full buffer drops records.
package dispatch

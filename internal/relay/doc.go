// Package relay fans a chat message out to every stored push subscription.
//
// One Broadcast drains the subscription store, signs a VAPID token per
// target, POSTs an empty push to each endpoint on a bounded worker pool and
// folds the per-target outcomes into a Report:
//
//   - 2xx      delivered
//   - 404/410  pruned (the subscription is deleted)
//   - anything else, including timeouts and signing failures: failed, kept
//
// A failure for one target never affects another. There are no retries
// inside a broadcast; the next broadcast is the retry.
//
// Broadcasts can also be queued (Enqueue) and run by background workers,
// with a bounded status history for polling.
package relay

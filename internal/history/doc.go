// Package history journals graph notifications to SQLite so that clients
// can page back through what changed in the graph.
//
// Journal is a graph.Notifier. It queues notifications and writes them in
// batches on its own goroutine; a full queue drops the notification rather
// than stall the reconciler. Rows older than the retention period are pruned
// periodically.
package history

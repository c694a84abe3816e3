/*
Package events carries dispatch engine notifications: task lifecycle
(queued, completed, failed, relayed) and worker lifecycle (spawned,
exited).

The Bus favors the publisher. Pool and manager loops publish without ever
blocking; a bounded ring between publication and delivery sheds the oldest
pending event under pressure. Consumers register Handler functions rather
than draining channels, and all handlers run sequentially on the bus's own
goroutine. The CLI registers a handler that mirrors events into the debug
log.
*/
package events

/*
Package worker implements the dispatch runtime hosted by each spawned
worker process.

A worker owns two framed byte streams: stdin is its input queue of task
requests and correlated responses, stdout is its result queue back to the
controller. The runtime decodes frames and dispatches strictly on the
variant tag:

	shutdown request   exit the loop (ack, close connections, ok)
	response variants  wake the task parked on the matching mailbox
	anything else      run the request as a new task goroutine

Transport connections are cached per worker, keyed by a fingerprint of the
resolved connection options, so every task with identical transport
configuration shares one open connection for the life of the worker.

An action that needs an artifact only the controller can produce emits a
sub-request through its TaskContext: the request travels out the result
queue, the controller re-dispatches it to another pool, and the eventual
result comes back down the input queue to the mailbox where the action is
parked. Dispatch failures of any kind, panics included, become
TaskFailedResult frames; errors never escape the worker process.
*/
package worker

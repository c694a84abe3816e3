/*
Package message defines the value types exchanged between the controller and
its workers, and the framed codec that carries them across process
boundaries.

Every message is a Task: a variant struct carrying a universally unique task
id. Requests additionally carry TaskOptions, the immutable plugin
configuration resolved for the task. Responses (TaskResult,
TaskFailedResult, ShutdownWorkerResponse) close the loop for a request id.

The wire form is a 4-byte big-endian length prefix followed by a JSON
envelope with an explicit variant tag:

	{"kind": "exec_command_request", "body": {...}}

Worker-originated frames also carry the worker's id so the pool can
attribute spontaneous sub-requests to the worker that must receive their
eventual responses. Receivers dispatch strictly on the variant tag.
*/
package message

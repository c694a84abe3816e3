/*
Package pool manages the worker fleet for one workload class.

A pool runs two loops. The task loop assigns inbound tasks to idle workers,
spawning processes on demand up to max_workers; the idle stack is
pre-seeded with empty placeholders, which is what enforces the capacity
bound. The response loop drains the shared result stream coming back from
every worker.

Concurrency policy is per pool: a pool whose workers are asynchronous
(connection transports) returns each worker to the idle stack immediately
after assignment so one worker multiplexes many tasks, while a CPU-bound
pool (content generation) holds the worker out of the stack until its task
completes.

Tasks flow both ways. A worker can spontaneously emit a sub-request; the
pool records which worker wants the response and forwards the request
upward for the controller to place. When the response comes back through
Queue, the task loop recognizes the relayed id and delivers it straight to
that worker's input queue.
*/
package pool

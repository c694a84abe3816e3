/*
Package manager implements the top-level task dispatcher.

The manager classifies each task by workload class and routes it to the
matching pool, creating pools lazily:

	ContentDescriptorRequest  ──► "content" pool, fan of non-concurrent workers
	other requests            ──► "connection-<plugin>" pool, one async worker

Get blocks on the shared result queue and fans results three ways: results
for caller-owned ids are returned, results for previously relayed ids are
routed back to the pool whose worker asked for them, and unknown ids are
worker sub-requests that get recorded and re-dispatched to whichever pool
serves their own workload class. That last path is what lets an action in a
connection worker suspend on content generated in the content pool.
*/
package manager

/*
Package blobstore provides a content-addressed artifact cache with
single-flight dynamic generation, shared by the controller and every worker
process through the run's temp directory.

# Layout

	<root>/content/<key>   completed blobs
	<root>/error/<key>     recorded generation errors ({msg, traceback} JSON)
	<root>/lock/<key>      rendezvous objects (named FIFOs)

# Single-flight protocol

For a given key, exactly one producer across all processes runs generation;
every concurrent caller blocks until the outcome is durable:

	┌─ GetDynamic(desc) ───────────────────────────────────────┐
	│                                                           │
	│  content/<key> exists? ──yes──► return reader             │
	│        │no                                                │
	│  mkfifo lock/<key>                                        │
	│    ├─ won  ──► desc.Create()  (enqueues generation)       │
	│    └─ lost ──► someone else is producing                  │
	│                                                           │
	│  open lock/<key> read-only, read to EOF   (parks here)    │
	│                                                           │
	│  content/<key> exists? ──yes──► return reader             │
	│  error/<key>   exists? ──yes──► GenerationError           │
	│  neither               ──────► ErrNoContentOrError        │
	└───────────────────────────────────────────────────────────┘

The producer side (DynamicContext) writes to content/<key>.tmp, renames it
into place on success or records error/<key> on failure, and unlinks the
rendezvous last. The unlink-then-close ordering releases every parked
reader only after the outcome is visible, so no reader ever observes a
partial blob.

Errors are not cached: the next GetDynamic for a failed key elects a new
producer and retries. A Sweeper covers producers that died without
publishing by removing rendezvous objects past a configured age and waking
their waiters.
*/
package blobstore

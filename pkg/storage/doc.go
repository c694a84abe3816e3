/*
Package storage provides the BoltDB-backed result journal for a controller
run. Terminal task results are serialized as JSON into a single bucket
keyed by task id; the backing file lives in the run's temp root and makes
no durability promises beyond the process lifetime.
*/
package storage

/*
Package log owns the process-wide zerolog root for the dispatch engine.

The controller logs to stderr (console or JSON); spawned workers call
SetupFile to append JSON to the run's debug.log, since their stdout is the
framed result protocol. Components derive child loggers through the With*
helpers so every line carries its component, worker, or task identity.
*/
package log

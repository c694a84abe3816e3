/*
Package plugin provides name-to-implementation resolution for the engine's
plugin kinds (action, connection, become, exec, content) and builds the
per-task plugin configuration.

The registry is populated once at startup from explicit Spec registrations;
resolution is table lookup by fully qualified name or unambiguous short
name. BuildTaskOptions walks a host's variables from an entrypoint plugin
through every kind it transitively uses, filling each declared option from
the first matching host variable in its preference list. Become is the only
optional kind; any other unresolvable plugin or missing option is a
ValidationError, fatal at setup.
*/
package plugin

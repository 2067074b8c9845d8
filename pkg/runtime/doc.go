/*
Package runtime wires the hearth subsystems into one process.

New builds everything from a validated config: the BoltDB store, the bus,
shared state, health monitor, cache, workflow engine, scheduler and
webhook server, all sharing one store and one clock. Start brings up the
background loops in dependency order and rolls back on partial failure;
Stop tears them down in reverse and closes the store last.

CLI one-shot commands construct a Runtime, operate on the subsystems
directly, and Close without ever calling Start.
*/
package runtime

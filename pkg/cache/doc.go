/*
Package cache provides a content-addressed result cache with single-flight
fills.

Keys are fingerprints over a function name and the canonical JSON of its
arguments, so equal calls collide onto one entry regardless of argument
map ordering. GetOrFill runs at most one producer per key at a time:
concurrent callers for the same missing key block on the in-flight fill
and all receive its result, counting one miss and the rest as hits. A
failed producer caches nothing.

Entries carry a TTL (default one hour) and free-form tags. Invalidation
matches tags against a glob pattern, so "weather:*" drops every entry
tagged with any weather location in one call.
*/
package cache

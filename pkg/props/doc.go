/*
Package props implements the ordered key/value attribute maps used
throughout the framework as service registration properties and as the
serialized payload of remote events.

Keys are case-sensitive strings; values are one of string, int64, float64,
bool, Version, or []any. Iteration always visits keys in insertion order,
and a duplicate Set replaces the value in place rather than moving it to
the end - this matters for service.ranking and similar properties that
callers expect to find in a stable position when round-tripping through
Save/Load.

Properties is deliberately not safe for concurrent mutation. Components
that hand a Properties value to another goroutine - the registry handing
attributes to a listener callback, the MQTT client handing a payload to
the network goroutine - call Copy first.
*/
package props

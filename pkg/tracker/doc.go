/*
Package tracker implements a filtered, callback-driven view of a service
registry: open a Tracker against a filter, get Added/Modified/Removed
callbacks for every matching entry as the registry changes, and a
"highest-ranking" selector kept up to date as entries come and go.

# Teardown ordering

A tracked entry is removed from the table before its Removed callback
fires, but the entry is not freed - the reference it holds is not
released back to the registry - until every in-flight callback on it
(Removed itself, or a concurrent UseServices/UseHighestRankingService
invocation) has returned. This is the usage-count gate described in the
framework design notes: it prevents a reader holding a stale pointer
from observing memory the registry has already reclaimed. Close and
Remove wait up to a bounded grace period for that drain to finish,
logging a warning and proceeding anyway if it does not - an unbounded
wait would let one stuck callback wedge teardown forever.
*/
package tracker

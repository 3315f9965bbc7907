// Package eventadmin gives the framework's local event-admin collaborator
// a concrete shape: the EventAdmin interface pkg/deliverer and pkg/earpm
// drive, and LocalAdmin, a registry-backed default implementation.
//
// LocalAdmin's fan-out is grounded on the teacher's in-process pub/sub
// broker: a buffered channel per handler, non-blocking publish, a
// background goroutine per handler draining its channel. Unlike that
// broker, subscription is topic-pattern scoped rather than broadcast-all,
// since event-admin handlers declare the topics they want.
package eventadmin

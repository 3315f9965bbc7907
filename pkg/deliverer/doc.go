// Package deliverer implements the synchronous-event worker pool that
// sits between pkg/earpm's inbound path and the local event-admin: a
// bounded queue of (topic, properties, done-callback) work items drained
// by a configurable number of worker goroutines, each of which calls
// EventAdmin.SendEvent then reports the outcome through the done
// callback. PostEvent bypasses the queue entirely, the same bypass
// pkg/framework's dispatcher does not need since every dispatcher event
// is itself already asynchronous.
//
// Grounded on pkg/framework's dispatcher goroutine for the
// bounded-channel-plus-fixed-worker-pool shape, generalized from one
// goroutine to N.
package deliverer

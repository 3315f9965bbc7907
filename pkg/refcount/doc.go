// Package refcount provides the shared-ownership primitive used to back
// service registrations and service references across the framework.
package refcount

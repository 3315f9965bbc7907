// Package bundle implements the INSTALLED -> RESOLVED -> STARTING ->
// ACTIVE -> STOPPING -> RESOLVED -> UNINSTALLED state machine and the
// activator contract every bundle's code satisfies. A Bundle owns no
// framework-wide state: the installed-bundle map, global lock, and
// event dispatch all live in pkg/framework, which drives a Bundle's
// transitions and relays its fevent notifications to listeners.
package bundle

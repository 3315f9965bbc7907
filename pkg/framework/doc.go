// Package framework wires pkg/bundle, pkg/bundlectx, pkg/registry, and
// pkg/tracker together into a runnable whole: one Framework owns the
// installed-bundle table, a single service registry shared by every
// bundle, and the single-goroutine event dispatcher that delivers
// bundle and framework events in total order.
//
// A caller obtains bundle code by first calling RegisterManifest, which
// stands in for the archive extraction and manifest parsing this module
// does not implement, then InstallBundle. Everything past that point -
// start, stop, update, uninstall, unload - follows the state machine
// pkg/bundle defines.
package framework

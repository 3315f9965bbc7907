// Package archive persists bundle revision bookkeeping - which
// libraries a bundle's manifest resolved to and when each revision was
// installed - in a bbolt-backed store keyed by bundle location.
//
// The archive/cache subsystem proper (zip or directory extraction, the
// manifest parser, capability/requirement resolution) is an external
// collaborator the framework does not implement; this package gives the
// bundle lifecycle a concrete, restart-surviving place to record the
// part of that subsystem's output - resolved library paths and revision
// numbers - that Bundle needs.
package archive

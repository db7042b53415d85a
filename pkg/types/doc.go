/*
Package types holds the small value types and interfaces shared across FilterFS packages.

It deliberately has no dependencies on other FilterFS packages so that the engine
(internal/namegraph, internal/cache, internal/resolver), the front end (internal/fuse) and
the observability layer (internal/metrics) can all import it without cycles.

	┌─────────────────────────────────────────────┐
	│         FUSE front end / CLI                │
	│      (internal/fuse, cmd/filterfs)          │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│               Resolver                      │
	│          (internal/resolver)                │
	└─────────────────────────────────────────────┘
	      │             │              │
	┌─────┴─────┐ ┌─────┴─────┐ ┌──────┴──────┐
	│ NameGraph │ │ NodeCache │ │  Predicate  │
	└───────────┘ └───────────┘ └─────────────┘

# Credentials

Credentials carry the uid, gid and supplementary groups of the caller. The resolver uses them
to compute the permission view attached to every resolved node.

# MetricsRecorder

MetricsRecorder is implemented by internal/metrics.Collector. Components accept a nil-safe
recorder; NopRecorder is used when metrics are disabled.
*/
package types

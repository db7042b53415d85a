/*
Package metrics exports FilterFS engine metrics through Prometheus.

# Overview

Collector implements types.MetricsRecorder, so the node cache, the filter
and the resolver report into it directly. Metrics live in a private
registry; nothing is registered with the global default registry.

	┌─────────────┐
	│  Collector  │  ← types.MetricsRecorder
	└──────┬──────┘
	       │
	   ┌───┴────────────────────────────┐
	   │                                │
	┌──▼───────────┐         ┌─────────▼─────────┐
	│  Prometheus  │         │  HTTP Endpoints   │
	│   Registry   │         │  /metrics         │
	│              │         │  /health          │
	│ - Counters   │         │  /debug/operations│
	│ - Histograms │         └───────────────────┘
	│ - Gauges     │
	└──────────────┘

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   true,
		Port:      9464,
		Path:      "/metrics",
		Namespace: "filterfs",
	})
	if err != nil {
		return err
	}
	if err := collector.Start(ctx); err != nil {
		return err
	}
	defer collector.Stop(ctx)

# Exported Metrics

Counters:
  - filterfs_operations_total{operation,status}
  - filterfs_errors_total{operation,code}
  - filterfs_node_cache_requests_total{result}
  - filterfs_node_cache_evictions_total
  - filterfs_filter_runs_total{verdict}

Histograms:
  - filterfs_operation_duration_seconds{operation}
  - filterfs_filter_duration_seconds

Gauges:
  - filterfs_node_cache_resident

The code label is the lower-cased FilterFSError code, "other" for foreign
errors. Operation names come from two layers. The engine reports resolve,
readdir and read, and the instrumented backend reports backend_lstat,
backend_open and so on. The FUSE front end reports one name per kernel
request: lookup, getattr, readlink, list, open, access, statfs, and the
refused mutations (create, mkdir, mknod, unlink, rmdir, rename, symlink,
link, setattr).

A Port of zero binds an ephemeral port (see Addr); a negative Port keeps
collecting without a listener. Collectors built by the CLI's inspection
commands are never started.
*/
package metrics

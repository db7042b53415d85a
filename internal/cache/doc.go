/*
Package cache holds materialized filesystem objects for FilterFS.

A Node pairs an identity handle on the underlying object with its cached
metadata and a lazily opened read handle. Nodes are keyed by the id of the
name node they belong to and are kept on a recency list:

	┌──────────────────────────────────────────────┐
	│  front (most recent)         back (oldest)   │
	│   [n7:refs=2] [n3:refs=0] [n9:refs=0] ...    │
	└──────────────────────────────────────────────┘
	                                ▲
	                 eviction scans from here, skipping
	                 nodes that still hold references

Capacity bounds the number of resident nodes nobody references. Referenced
nodes are pinned: when every candidate is pinned the cache temporarily holds
more than its capacity and shrinks again as references are released. A
capacity of zero disables eviction.

# Materialization

LookupOrMaterialize is all-or-nothing. The opener runs without any cache lock
held and concurrent requests for the same name share one open through
singleflight; a failed open leaves nothing behind.

	n, err := c.LookupOrMaterialize(ctx, nameNode, underlyingPath, opener)
	if err != nil {
		return err
	}
	defer c.Release(n)

# Lock order

A directory lock (see package namegraph) may be held while calling into the
cache, and the cache calls into the name graph while holding its own mutex.
Nothing here calls back out, so the order is always

	directory lock → NodeCache.mu → Graph.mu
*/
package cache

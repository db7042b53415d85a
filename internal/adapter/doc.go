/*
Package adapter wires configuration into every FilterFS component and owns
their lifecycle.

# Architecture Role

	┌─────────────────────────────────────────────┐
	│           cmd/filterfs (cobra CLI)          │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│               ADAPTER LAYER                 │ ← This Package
	│  Engine: components without a mount         │
	│  Adapter: Engine + FUSE mount + metrics     │
	└─────────────────────────────────────────────┘
	        │          │          │          │
	┌───────┴───┐ ┌────┴────┐ ┌───┴────┐ ┌───┴──────┐
	│  Backend  │ │ Filter  │ │ Cache  │ │ Resolver │
	│ (O_PATH)  │ │ (shell) │ │ (LRU)  │ │ (walk)   │
	└───────────┘ └─────────┘ └────────┘ └──────────┘

# Construction order

NewEngine validates the configuration and the root directory, then builds,
in order: the metrics collector, the predicate, the instrumented local
backend, the name graph, the node cache and the resolver. A failure at any
step is fatal and leaves nothing open.

Adapter.Start additionally starts the metrics listener, mounts the FUSE
front end and starts a mount watcher. Stop runs every shutdown step (watcher,
unmount, metrics, engine) and reports all failures combined with multierr.

# Inspection without mounting

Engine exposes Lookup, Stat, List and Cat for tools that want to see the
filtered tree without a kernel mount. Lookup restarts resolution from the
root when it meets an absolute symlink, so results match what a process
would see through the mount point.

	engine, err := adapter.NewEngine(ctx, "/srv/data", cfg)
	if err != nil {
		return err
	}
	defer engine.Close()

	entries, err := engine.List(ctx, "/reports", cred)

# Mounting

	a, err := adapter.New(ctx, "/srv/data", "/mnt/filtered", cfg)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		return err
	}
	defer a.Stop(context.Background())
	a.Wait()
*/
package adapter

/*
Package config provides configuration management for FilterFS.

Configuration is assembled once at startup and then treated as immutable. Sources are
applied in increasing order of precedence:

	┌─────────────────────────────────────────────┐
	│          CLI flags                          │ ← Highest Priority
	│   (--cache-size/-c, --property/-p, ...)     │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│        Environment Variables                │
	│           (FILTERFS_*)                      │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│         Configuration File (YAML)           │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│           Default Values                    │ ← Lowest Priority
	└─────────────────────────────────────────────┘

# Example

	global:
	  log_level: INFO
	filter:
	  command: "test -r {}"
	  placeholder: "{}"
	  shell: /bin/sh
	cache:
	  max_nodes: 256      # 0 never evicts
	  metadata_ttl: 1s
	mount:
	  fsname: filterfs
	  attr_timeout: 1s
	  entry_timeout: 1s
	monitoring:
	  metrics:
	    enabled: true
	    path: /metrics

# Usage

	cfg := config.NewDefault()
	if err := cfg.LoadFromFile(path); err != nil {
		return err
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

Unknown YAML keys are rejected so that typos in option names surface at startup rather than
silently falling back to defaults.
*/
package config

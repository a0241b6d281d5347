/*
Package config provides the checkpointing configuration consumed by the
coordinator.

# Overview

Config is a typed settings struct with validated defaults. It covers the
four load-bearing knobs of the checkpoint protocol — concurrency bound,
attempt timeout, minimum pause between triggers, and completed-checkpoint
retention — plus the self-triggering interval and the deadline-sweep
cadence.

# Basic Usage

Start from defaults and override what you need:

	cfg := config.Default()
	cfg.Timeout = 2 * time.Minute
	cfg.MaxConcurrent = 2
	if err := cfg.Validate(); err != nil {
	    log.Fatal(err)
	}

# File Loading

Load from YAML or JSON; durations are strings parsed with
time.ParseDuration, absent fields keep their defaults:

	cfg, err := config.FromFile("checkpointing.yaml")

	// checkpointing.yaml:
	//   interval: 30s
	//   timeout: 2m
	//   min_pause: 5s
	//   max_concurrent: 2
	//   retained: 3

Loaded configurations are validated before being returned.
*/
package config

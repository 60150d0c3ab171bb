// Package config loads and validates the TOML configuration that drives a
// fascicle run: directory layout, cohort scheduling, logging, external tool
// command templates, and the per-stage parameter blocks that seed the run's
// parameter set.
package config

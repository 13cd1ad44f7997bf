// Package config loads the SalesIntel YAML configuration, fills defaults,
// resolves paths relative to the configuration file and pulls secrets from
// the environment.
package config

// Package config loads the service configuration from defaults, an
// optional YAML file, and AUTOOPS_* environment variables, in that
// order of precedence.
package config

// Package config loads memdev-cli's optional settings file
// (~/.memdev/cli.yaml). Flags and environment variables override it.
package config

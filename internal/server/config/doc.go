// Package config defines the server configuration.
//
//   - spec.go: ServerConfig and its sections
//   - default.go: default values, also as a flat map for the loader
//   - verify.go: validation of loaded values
//   - device.go: conversion to the device table configuration
//
// Configuration is loaded by internal/infra/confloader from defaults, a
// YAML file, and MEMDEV_ environment variables.
package config

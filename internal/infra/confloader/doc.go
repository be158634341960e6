// Package confloader loads configuration with koanf.
//
// Sources are layered, later ones overriding earlier ones:
//
//  1. Defaults, loaded with LoadMap
//  2. A YAML configuration file
//  3. Environment variables with the MEMDEV_ prefix
//
// Environment names are matched against keys already loaded, so
// MEMDEV_DEVICE_SIZE_BYTES sets device.size_bytes. Names that match no known
// key fall back to mapping every underscore to a dot.
//
// Watcher reports changes to a configuration file so that settings safe to
// change at runtime, such as the log level, can be re-applied.
package confloader

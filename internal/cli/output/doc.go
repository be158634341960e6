// Package output renders memdev-cli results as a table, JSON or YAML.
package output

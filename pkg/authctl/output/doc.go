// Package output renders authctl results as tables, JSON or YAML.
package output

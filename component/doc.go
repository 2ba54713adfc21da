// Package component defines the lifecycle contract for long-lived resources
// such as bulkhead and retry registries, and a Registry that starts them in
// order and stops them in reverse.
package component

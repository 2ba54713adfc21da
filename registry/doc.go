// Package registry is the shared core behind the bulkhead and retry
// registries: a name to instance map with at-most-once creation, a store of
// named configurations, registry-wide tags and entry events.
//
// Entry events go first to the CompositeEventConsumer supplied at
// construction, in the order its consumers were given, and then to
// subscribers of EventPublisher.
package registry

// Package autoconfig turns resilience properties into ready registries.
//
// Properties are plain structs with mapstructure tags. A host embeds them in
// its own configuration, loads it with config.LoadConfig and hands the
// relevant section to NewBulkheadRegistry or NewRetryRegistry:
//
//	type AppConfig struct {
//	    config.ServiceConfig `mapstructure:",squash"`
//	    Bulkheads autoconfig.BulkheadProperties `mapstructure:"thread_pool_bulkhead"`
//	}
//
//	bulkheads, err := autoconfig.NewBulkheadRegistry(cfg.Bulkheads, autoconfig.BulkheadDeps{Logger: log})
//
// Every bulkhead added to the registry gets a ring-buffer event consumer
// named "ThreadPoolBulkhead-<name>" in the returned consumer registry.
package autoconfig

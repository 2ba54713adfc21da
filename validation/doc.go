// Package validation checks configuration values and reports violations as
// INVALID_CONFIGURATION errors.
//
// Struct tag validation covers property structs loaded from files:
//
//	type InstanceProperties struct {
//	    MaxConcurrentCalls *int `mapstructure:"max_concurrent_calls" validate:"omitempty,gt=0"`
//	}
//	err := validation.Validate(props)
//
// Programmatic validation covers builders whose bounds relate fields to each other:
//
//	v := validation.New()
//	v.Positive("max_concurrent_calls", cfg.MaxConcurrentCalls)
//	v.AtLeast("max_thread_pool_size", cfg.MaxThreads, cfg.CoreThreads)
//	err := v.Validate()
package validation

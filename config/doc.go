// Package config loads service configuration with Viper.
//
// Values come from a config.yml file, then a .env file, then the process
// environment. Environment variables are only considered when they carry the
// loader's prefix (BULWARK_ by default), so BULWARK_BULKHEAD_ENABLED maps to
// bulkhead.enabled.
//
//	type AppConfig struct {
//	    config.ServiceConfig `mapstructure:",squash"`
//	    Bulkhead autoconfig.BulkheadProperties `mapstructure:"bulkhead"`
//	}
//
//	var cfg AppConfig
//	err := config.LoadConfig("orders", &cfg)
//
// When the target implements Defaulter or Validator, LoadConfig calls
// ApplyDefaults and Validate after unmarshalling.
package config

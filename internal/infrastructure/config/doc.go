// Package config loads hydro-core settings from a YAML file, applies
// HYDRO_* environment overrides on top, and validates the result.
//
// Unset fields keep the values from defaultConfig. Timing knobs under
// hydro: (offline timeout, sweep intervals, retention, throttle windows) are
// Go duration strings such as "20s" or "24h".
//
//	cfg, err := config.Load(path)
//	if err != nil {
//	    return fmt.Errorf("loading config: %w", err)
//	}
//
// Credentials (mqtt password, influx token, redis password, jwt secret) are
// expected from the environment rather than the file.
package config

// Package config loads and validates the owfsd configuration.
//
// Values come from built-in defaults, then a YAML file, then OWFS_*
// environment variables (OWFS_MQTT_HOST, OWFS_SERVERS, ...). cmd/owfsd
// loads a .env file before calling Load, so .env entries behave like
// ordinary environment variables.
//
// Secrets such as the MQTT password and the InfluxDB token should be set
// through the environment rather than the file.
//
// Usage:
//
//	cfg, err := config.Load("configs/owfsd.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, spec := range cfg.ServerSpecs() {
//	    ...
//	}
package config

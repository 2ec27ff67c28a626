// Package config loads FleetWatch Core settings.
//
// Values are layered: built-in defaults, then the YAML file named by
// FLEETWATCH_CONFIG (configs/config.yaml if unset), then FLEETWATCH_*
// environment variables. Validate runs last and reports every problem in
// one error.
//
// Keep the MQTT password and InfluxDB token out of the file and pass them as
// FLEETWATCH_MQTT_PASSWORD and FLEETWATCH_INFLUXDB_TOKEN.
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//	if cfg.Telemetry.AutoRegister {
//	    // unknown endpoints are registered on first contact
//	}
package config

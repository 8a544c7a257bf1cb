// Package config loads and validates the RENKEI service configuration.
//
// Configuration comes from a YAML file, with selected fields overridable
// through RENKEI_* environment variables so secrets (the MQTT password,
// the InfluxDB token, the JWT secret) never need to live in the file.
// Load applies defaults, then the file, then the environment, and
// finally runs Validate; a config that loads is a config the service can
// start with.
//
// Everything is read once at startup. Components receive their section
// by value and never see later edits to the file.
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Motor.Host)
//
// An empty JWT secret disables API authentication entirely; only do
// that on a trusted LAN.
package config

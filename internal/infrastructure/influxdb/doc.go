// Package influxdb stores motor telemetry in InfluxDB v2.
//
// It wraps influxdb-client-go with the three measurements the service
// records:
//
//	motor_position  encoder counts, travel limit, target, percent
//	motor_flags     run/error bitfields plus a derived fault boolean
//	motor_link      command, response, reconnect and drop counters
//
// Telemetry is optional. When the influxdb section of config.yaml is
// disabled, Connect returns ErrDisabled and the coordinator simply runs
// without a telemetry writer.
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    // errors.Is(err, influxdb.ErrDisabled) means "run without it"
//	}
//	defer client.Close()
//
//	client.WriteMotorPosition("blind-office", 32768, 65536, 32768, 50.0)
//
// Writes are batched and non-blocking; failures arrive through the
// SetOnError callback rather than as return values. All methods are safe
// for concurrent use.
package influxdb

package influxdb

import "errors"

// Sentinel errors. Wrap sites add context; callers match with errors.Is.
var (
	// ErrNotConnected is returned by write helpers before Connect succeeds
	// or after Close.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrConnectionFailed wraps the ping failure from Connect.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrWriteFailed marks a synchronous write problem. Batched write
	// failures surface through the SetOnError callback instead.
	ErrWriteFailed = errors.New("influxdb: write failed")

	// ErrDisabled is returned by Connect when telemetry is switched off
	// in the configuration.
	ErrDisabled = errors.New("influxdb: disabled in configuration")
)

package influxdb

import "errors"

var (
	// ErrDisabled is returned by Connect when influxdb.enabled is false;
	// callers treat it as "run without samples", not as a failure.
	ErrDisabled = errors.New("influxdb: disabled in configuration")

	// ErrConnectionFailed wraps the ping made during Connect.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrNotConnected is returned by calls made after Close.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrWriteFailed wraps batch errors reported through SetOnError.
	ErrWriteFailed = errors.New("influxdb: write failed")
)

// Package config provides configuration loading for serialgate.
//
// Configuration is read from a YAML file, merged over hardcoded defaults,
// and finally overridden by SERIALGATE_* environment variables. The loaded
// configuration is validated before use; an invalid configuration fails
// startup rather than surfacing at first request.
//
// # Example
//
//	serial:
//	  port: "/dev/ttyUSB0"
//	  baud: 115200
//	  timeout: 1
//	  send_interval: 1
//	  queue_size: 256
//	api:
//	  host: "0.0.0.0"
//	  port: 8080
//	logging:
//	  level: "info"
//	  format: "json"
package config

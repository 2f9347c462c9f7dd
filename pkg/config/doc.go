// Package config holds the configuration of a migration run.
//
// A run is described by a single Config with one section per concern:
//
//	source:
//	  uri: ${SOURCE_URI}
//	  server_type: ejabberd
//	destination:
//	  uri: postgres://tigase@localhost/tigase
//	  virtual_host: example.com
//	pool:
//	  size: 10
//	  acquire_timeout: 30s
//	run:
//	  converters: [users]
//	  report: report.json
//	observability:
//	  log_level: info
//	  log_dir: logs
//
// ${VAR_NAME} references are replaced with environment variable values
// before parsing. Load decodes a file straight into a struct; FromViper
// layers the file beneath command line flags and XMPPCONV_* environment
// variables, so
//
//	XMPPCONV_POOL_SIZE=4 xmppconv run --config run.yaml
//
// runs with a pool of four whatever the file says.
//
// Validate reports every missing or out of range setting at once as a
// config error.
package config

// Package config provides the configuration of a healthetl run.
//
// A Config is assembled in layers, later layers winning:
//
//   - compiled defaults (Default)
//   - an optional YAML file with ${VAR} and ${VAR:-default} substitution
//   - HEALTHETL_ environment variables, with "." in keys replaced by "_"
//   - command line flags bound to the same keys
//
// # Usage
//
//	v := viper.New()
//	_ = v.BindPFlag("pipeline.threads", cmd.Flags().Lookup("threads"))
//	cfg, err := config.Load(v, configPath)
//	if err != nil {
//		return err
//	}
//
// # Environment Variables
//
// Every key can be set from the environment, for example
//
//	HEALTHETL_PIPELINE_LOAD_WORKERS=4
//	HEALTHETL_OUTPUT_HEADER_POLICY=reject
//	HEALTHETL_LOGGING_LEVEL=debug
//
// # YAML Layout
//
//	pipeline:
//	  threads: 8
//	  record_buffer: 8192
//	output:
//	  header_policy: pad
//	  compression_level: default
//	metrics:
//	  enabled: true
//	  file: ${METRICS_DIR:-/var/lib/node_exporter}/healthetl.prom
package config

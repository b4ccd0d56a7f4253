// Package config handles loading and validating gateway configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of server and interface entries
//   - Writing assigned generated ids back to the file
//
// The web section drives the protocol layer: web.servers is keyed by
// transport type (http, https, http2, mdns, ssdp) and web.interfaces is keyed
// by bridge name with a type of http, influx, mqtt or rem.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Web.Servers[config.ServerHTTP].Port)
package config

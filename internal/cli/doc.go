// Package cli implements the gpueye command-line interface.
//
// Commands:
//   - watch: poll hosts and render live GPU telemetry
//   - hosts: list, probe and add monitored hosts
//   - init: write a starter config file
//   - doctor: diagnose config, SSH and host problems
//   - version: print build information
package cli

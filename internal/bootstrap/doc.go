// Package bootstrap wires bootcfg together for a process: it loads the
// environment snapshot, builds the registry, probes and engine, resolves
// every subsystem at startup and re-resolves on reload.
package bootstrap

// Package telemetry publishes daemon metrics to its configured sinks: a
// retained message bus bucket, a Prometheus push gateway, and a
// node-exporter textfile collector. Each sink runs on its own interval
// under the daemon scheduler, and a sink whose interval is zero or
// negative stays registered but silent. Sink failures are reported to
// the caller and never abort the daemon.
package telemetry

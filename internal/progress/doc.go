// Package progress relays upload progress between WebSocket clients. A Bus
// owns the set of open connections and rebroadcasts every valid event to all
// of them; a Hub batches the resulting deliveries on a background goroutine
// and fans them out to pluggable sinks such as structured logs or Prometheus
// metrics.
package progress

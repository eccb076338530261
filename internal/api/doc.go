// Package api hosts the HTTP server, middleware, and handlers for the upload
// service. Notable routes:
//   - POST /import accepts a multipart "file" field and stores its rows.
//   - GET /data/{requestId} returns the stored rows as a JSON array.
//   - GET / and GET /ws upgrade to the progress WebSocket.
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
package api

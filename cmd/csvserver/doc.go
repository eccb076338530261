// Package main hosts the CSV upload service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server accepts multipart uploads on POST /import, validates size (5000 KiB) and media
//     type (text/csv), and returns {"requestId": ...}. GET /data/{requestId} returns the stored rows.
//   - Parsing & persistence: internal/rows splits the body on newlines and commas without quoting rules. Records are
//     written to the configured RecordStore (memory/local/GCS/Postgres/SQLite) and a record.created notification is
//     published to Pub/Sub when a topic is configured.
//   - Progress: every WebSocket connection on / or /ws joins a single broadcast set. A message carrying a non-empty
//     requestId and non-zero progress is relayed to all open connections, including the sender, and reported to the
//     progress Hub for logging and Prometheus metrics.
//   - Configuration & plumbing: Viper populates config from env/files; zap provides structured logging; Prometheus
//     metrics are exported via the metrics middleware and /metrics handler.
//
// Quick checklist:
//   - Configure env vars: CSVINGEST_SERVER_PORT or PORT (default 3000), CSVINGEST_STORAGE_BACKEND and the matching
//     CSVINGEST_STORAGE_* / CSVINGEST_DATABASE_* settings, CSVINGEST_PUBSUB_PROJECT_ID and _TOPIC_NAME.
//   - Run locally: go run ./cmd/csvserver --config config.yaml (or rely solely on env overrides).
//   - The process reacts to SIGINT/SIGTERM by failing readiness, draining HTTP requests and closing WebSockets.
package main

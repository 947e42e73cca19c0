// Package main hosts the harvester entrypoint.
//
// Architecture overview:
//   - CLI: cobra commands in package cmd. "serve" runs the HTTP API and
//     "harvest" runs one job in the foreground and prints the final status.
//   - Coordinator: internal/harvest owns the single running job, the stop
//     flag, the status counters and the deduplication gate. Records stream
//     from a harvester to the coordinator one at a time.
//   - Harvesters: portal1 is a flat listing fetched with Colly, its links
//     extracted by a bounded errgroup pool in paced batches. portal2 is a
//     postback-driven folder tree walked depth-first in a chromedp session,
//     with a navigation stack that always returns to the parent folder.
//   - Ingestion: internal/ingest stores each accepted record, optionally
//     downloading and validating the PDF and mirroring it to GCS, a local
//     directory or memory, then publishes a paper.ingested event to Pub/Sub
//     when a topic is configured.
//   - Storage: Postgres (pgx) when db.dsn is set, otherwise in memory.
//   - Plumbing: Viper config (HARVESTER_ env prefix), zap logging,
//     Prometheus metrics on /metrics.
//
// Quick checklist:
//   - Set HARVESTER_SOURCES_PORTAL1_URL and HARVESTER_SOURCES_PORTAL2_URL.
//   - Run locally: go run ./cmd/harvester serve --config config.yaml
//   - One-shot: go run ./cmd/harvester harvest --portal both --years 2019,2020
package main

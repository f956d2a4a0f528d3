// Package storage implements a filesystem-backed time-series store for
// JSON-like metric records.
//
// Architecture:
//
//	┌─────────────┐     ┌─────────────┐     ┌──────────────┐
//	│    Store    │────▶│   Bucket    │────▶│  Slot files  │
//	│ (per-bucket │     │  (Writable) │     │ YYYY/MM/DD/… │
//	│   mutex)    │     └─────────────┘     └──────────────┘
//	└─────────────┘            │              Compress │ ▲ Expand
//	       │                   ▼                       ▼ │
//	       │            ┌─────────────┐     ┌──────────────┐
//	       │            │Writer cache │     │ Day archive  │
//	       │            │    (LRU)    │     │ YYYY/MM/DD.* │
//	       │            └─────────────┘     └──────────────┘
//	       ▼
//	┌─────────────┐     ┌─────────────┐     ┌──────────────┐
//	│ Compaction  │     │   Export    │────▶│    Query     │
//	│  Retention  │     │  (Parquet)  │     │   (DuckDB)   │
//	└─────────────┘     └─────────────┘     └──────────────┘
//
// Each bucket keeps one live file per granularity slot under a day
// directory. Finished days are compressed into a single archive and
// expanded again when a late record arrives. Switching between the two
// representations always goes through a staging path and an atomic
// rename, so a day is readable in full at every point.
//
// The storage system provides:
//   - Append-only writes with a bounded set of open files
//   - Day compaction and expansion that preserve record order
//   - Background compaction and retention sweeps
//   - DDSketch-based operation latency statistics
//   - Parquet export and DuckDB queries over exports
package storage

// Package export writes the records of a bucket day to Parquet files and
// reads them back.
//
// The package provides:
//   - Writer for streaming rows into a Parquet file
//   - WriteDay for exporting one day through a bucket's read path
//   - ReadFile for reading an export back into stored metrics
//   - Support for multiple compression algorithms (snappy, zstd, lz4, gzip)
//
// Each row carries the record timestamp in milliseconds, the label of its
// live slot and the JSON encoded payload. Exports are the input of the
// query package.
package export

// Package types defines the core data types used throughout the storage system.
//
// Key types:
//   - Record: An opaque JSON-like payload handed to a bucket
//   - StoredMetric: A record paired with the timestamp it was filed under
//   - BucketData: The immutable identity and layout parameters of one bucket
//   - DayState: Which on-disk representation a day currently has
package types

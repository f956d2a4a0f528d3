package config

import (
	"fmt"
	"time"
	// Zone names in bucket configs must resolve on hosts without tzdata.
	_ "time/tzdata"

	"github.com/xtxerr/metricstore/internal/storage/codec"
	"github.com/xtxerr/metricstore/internal/storage/types"
)

// Resolved is a bucket configuration turned into runtime values.
type Resolved struct {
	Data      types.BucketData
	Codec     codec.Codec
	Timestamp types.TimestampFunc
	CacheSize int
}

// Resolve maps a bucket configuration onto its data directory.
func (c *Config) Resolve(b BucketConfig) (Resolved, error) {
	cd, err := codec.Lookup(b.Codec)
	if err != nil {
		return Resolved{}, err
	}
	loc, err := time.LoadLocation(b.Location)
	if err != nil {
		return Resolved{}, fmt.Errorf("bucket '%s': location: %w", b.Name, err)
	}

	return Resolved{
		Data: types.BucketData{
			Name:        b.Name,
			Root:        c.BucketDir(b.Name),
			Granularity: b.Granularity,
			Location:    loc,
			Extension:   cd.Extension(),
		},
		Codec:     cd,
		Timestamp: types.FieldTimestamp(b.TimestampField, b.TimestampLayout),
		CacheSize: b.WriterCacheSize,
	}, nil
}

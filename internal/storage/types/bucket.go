package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/xtxerr/metricstore/internal/errors"
)

// Day is the span covered by one day directory or archive.
const Day = 24 * time.Hour

// BucketData identifies one bucket on disk. It is created once and shared
// read-only by everything that derives paths for the bucket.
type BucketData struct {
	// Name is the logical bucket name (e.g. "cpu").
	Name string

	// Root is the directory that holds <year>/<month>/<day> trees.
	Root string

	// Granularity is the span of one live file. Must be a whole number of
	// minutes that divides a day.
	Granularity time.Duration

	// Location decides where day boundaries fall. Nil means UTC.
	Location *time.Location

	// Extension is appended to minute files and day archives (e.g. ".json.gz").
	Extension string
}

// Loc returns the bucket location, defaulting to UTC.
func (d BucketData) Loc() *time.Location {
	if d.Location == nil {
		return time.UTC
	}
	return d.Location
}

// SlotsPerDay returns the number of live files a full day can hold.
func (d BucketData) SlotsPerDay() int {
	if d.Granularity <= 0 {
		return 0
	}
	return int(Day / d.Granularity)
}

// Validate checks the bucket parameters.
func (d BucketData) Validate() error {
	var errs []error

	if d.Name == "" {
		errs = append(errs, errors.NewMissingField("name"))
	}
	if strings.ContainsAny(d.Name, `/\`) {
		errs = append(errs, errors.NewValidation("name", "must not contain path separators"))
	}
	if d.Root == "" {
		errs = append(errs, errors.NewMissingField("root"))
	}
	switch {
	case d.Granularity <= 0:
		errs = append(errs, errors.NewValidation("granularity", "must be positive"))
	case d.Granularity%time.Minute != 0:
		errs = append(errs, errors.NewValidation("granularity", "must be a whole number of minutes"))
	case Day%d.Granularity != 0:
		errs = append(errs, errors.NewValidation("granularity", fmt.Sprintf("%s does not divide a day", d.Granularity)))
	}
	if d.Extension == "" || !strings.HasPrefix(d.Extension, ".") {
		errs = append(errs, errors.NewValidation("extension", "must start with '.'"))
	}
	if strings.HasPrefix(d.Extension, ".tmp") {
		errs = append(errs, errors.NewValidation("extension", "collides with staging suffix"))
	}

	return errors.Join(errs...)
}

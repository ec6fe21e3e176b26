// Package version reports proclab's build version, adapted from
// ingesters/version: the same {Major,Minor,Point,BuildDate} shape, now
// naming the kernel core's own release line instead of the ingest stack's.
package version

import (
	"fmt"
	"io"
	"time"
)

const (
	MajorVersion = 0
	MinorVersion = 1
	PointVersion = 0
)

var BuildDate = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// Print writes a short human-readable version banner to wtr.
func Print(wtr io.Writer) {
	fmt.Fprintf(wtr, "proclabd %s (built %s)\n", String(), BuildDate.Format("2006-01-02"))
}

// String returns the dotted version number.
func String() string {
	return fmt.Sprintf("%d.%d.%d", MajorVersion, MinorVersion, PointVersion)
}

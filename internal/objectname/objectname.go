// Package objectname derives safe object-store names from user-supplied
// upload parameters. Names are deterministic for a given set of inputs and
// timestamp, so they double as the idempotency key for ingestion.
package objectname

import (
	"fmt"
	"regexp"
	"time"
)

// Pre-compiled: any character outside the object-name alphabet maps to "_".
var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// Sanitize maps an arbitrary string to the safe object-name alphabet
// [A-Za-z0-9._-]. Every other character becomes an underscore.
func Sanitize(s string) string {
	return unsafeChars.ReplaceAllString(s, "_")
}

// Build returns the object name for an upload:
//
//	<class>_<subject>_<teacher>_<unixMillis>_<file>
//
// Each segment is sanitized independently. Uniqueness comes from the embedded
// timestamp, not from the content of the other segments.
func Build(className, subjectName, teacherName, fileName string, ts time.Time) string {
	return fmt.Sprintf("%s_%s_%s_%d_%s",
		Sanitize(className),
		Sanitize(subjectName),
		Sanitize(teacherName),
		ts.UnixMilli(),
		Sanitize(fileName),
	)
}

// Package monitoring is the pipeline's diagnostic log hook. The daemons and
// the CLI report dropped work and progress through Logf so it can be swapped
// or silenced in one place.
package monitoring

import (
	"fmt"
	"log"
)

// Logf emits one diagnostic line. Defaults to the standard logger.
var Logf = log.Printf

// SetLogger installs f as the sink behind Logf. A nil f silences logging.
func SetLogger(f func(format string, v ...any)) {
	if f == nil {
		f = func(string, ...any) {}
	}
	Logf = f
}

// Capture redirects Logf into the returned slice until restore is called.
// Tests use it to assert that skipped work was reported.
func Capture() (lines *[]string, restore func()) {
	prev := Logf
	buf := &[]string{}
	Logf = func(format string, v ...any) {
		*buf = append(*buf, fmt.Sprintf(format, v...))
	}
	return buf, func() { Logf = prev }
}

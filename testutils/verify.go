// Package testutils holds helpers shared by package tests.
package testutils

import (
	"go.uber.org/goleak"
)

// VerifyTestMain runs the package's tests and fails if any goroutine outlives them.
func VerifyTestMain(m goleak.TestingM) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"),
	)
}

package server_test

import (
	"testing"

	"go.markscan.dev/markscan/testutils"
)

func TestMain(m *testing.M) {
	testutils.VerifyTestMain(m)
}

package playback

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain verifies that no goroutine is left running once the tests
// in this package finish.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

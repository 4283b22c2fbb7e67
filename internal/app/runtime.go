package app

import (
	"os"
	"sync"
	"sync/atomic"
)

// TestModeEnv, when set to 1, keeps the binaries from starting background side effects
// such as the cache invalidation listener or the worker scheduler.
const TestModeEnv = "ODYSSEY_TEST_MODE"

var testMode struct {
	once sync.Once
	on   atomic.Bool
}

// InTestMode reports whether ODYSSEY_TEST_MODE is set.
func InTestMode() bool {
	testMode.once.Do(RefreshTestMode)
	return testMode.on.Load()
}

// RefreshTestMode re-reads the environment.
func RefreshTestMode() {
	testMode.on.Store(os.Getenv(TestModeEnv) == "1")
}

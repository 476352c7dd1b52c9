package app

import "os"

const testModeEnv = "STRATA_TEST_MODE"

// InTestMode reports whether the binaries should skip runtime startup.
// Set STRATA_TEST_MODE=1 when exercising the mains from integration
// harnesses that provide no Postgres or Redis.
func InTestMode() bool {
	return os.Getenv(testModeEnv) == "1"
}

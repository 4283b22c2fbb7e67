// Package guard switches the process into test mode when imported, so tests can call
// a binary's main without it dialing Postgres or Redis.
package guard

import (
	"os"

	"github.com/odyssey-erp/odyssey-retail/internal/app"
)

func init() {
	if os.Getenv(app.TestModeEnv) == "" {
		_ = os.Setenv(app.TestModeEnv, "1")
	}
	app.RefreshTestMode()
}

// Package all is a meta-package that imports all audit sinks.
package all

import (
	_ "github.com/TecharoHQ/linecaptcha/lib/audit/kvsink"
	_ "github.com/TecharoHQ/linecaptcha/lib/audit/logsink"
	_ "github.com/TecharoHQ/linecaptcha/lib/audit/postgres"
)

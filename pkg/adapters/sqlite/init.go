// This file registers the SQLite adapter with the adapter registry.
// Import this package with a blank identifier to register the adapter:
//
//	import _ "github.com/datakit-labs/flowctl/pkg/adapters/sqlite"
package sqlite

import (
	"log/slog"

	"github.com/datakit-labs/flowctl/pkg/adapter"
)

func init() {
	adapter.Register("sqlite", func(logger *slog.Logger) adapter.Adapter { return New(logger) })
}

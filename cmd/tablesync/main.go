// Command tablesync exports database tables to dated CSV or spreadsheet
// files, or replaces table contents from such files.
//
// Usage:
//
//	tablesync run                 # one pass over SYNC_TABLES, then exit
//	tablesync run --forever       # repeat on SYNC_CRON or SYNC_INTERVAL
//	tablesync serve               # scheduler plus the ops HTTP server
//	tablesync version
package main

import (
	"fmt"
	"os"

	"github.com/JonMunkholm/tablesync/internal/core"
)

// Version information (set at build time).
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if msg := core.FormatUserError(err); core.IsUserFacing(err) {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(1)
	}
}

package core

// # Error Codes Reference
//
// This file maps technical errors to operator messages with codes. The codes
// appear in run logs and in the ops API, so a failed scheduled run can be
// diagnosed without reading driver error text.
//
// Error codes are grouped by category:
//
// # Configuration Errors (CFG001-CFG099)
//
//	CFG001 - Invalid mode: Sync mode is not export or import
//	         Action: Set SYNC_MODE to export, import, e or i
//	         Patterns: "invalid sync mode"
//
//	CFG002 - Missing setting: A required setting is not set
//	         Action: Set the variable named in the log entry
//	         Patterns: "is not set"
//
//	CFG003 - Unknown driver: Connection descriptor names no supported database
//	         Action: Start the descriptor with postgres://, sqlserver://, sqlite:// or duckdb://
//	         Patterns: "unknown database driver"
//
//	CFG004 - Invalid table name: Table name is not a plain identifier
//	         Action: Use letters, digits and underscores, optionally schema.table
//	         Patterns: "invalid table name"
//
// # Database Errors (DB001-DB099)
//
//	DB001 - Duplicate key: A loaded row repeats an existing key
//	DB002 - Unique constraint: A loaded value must be unique
//	DB003 - Foreign key: Referenced record does not exist
//	DB004 - Connection refused: Unable to connect to database
//	DB005 - Connection reset: Database connection was interrupted
//	DB006 - Login failed: The database rejected the credentials
//	DB007 - Deadlock: Database was busy with conflicting operations
//	DB008 - Table not found: The table does not exist in the database
//	DB009 - Column not found: A file column has no matching table column
//	DB010 - Timeout: Operation timed out
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - Field count: A record has a different number of fields than the header
//	FILE002 - Permission denied: The file or folder is not accessible
//	FILE003 - Disk full: No space left to write the file
//	FILE004 - Invalid spreadsheet: The file is not a valid xlsx workbook
//
// # Run Errors (RUN001-RUN099)
//
//	RUN001 - Run in progress: Another sync run is still active
//	RUN002 - Cancelled: The run was cancelled
//	RUN003 - Deadline: The run exceeded its deadline
//
// # Default Error (ERR000)
//
// Fallback when no specific pattern matches:
//
//	ERR000 - Unknown error: An unexpected error occurred
//	         Action: Check the logs for the technical error
//
// # Pattern Matching
//
// Error patterns are matched case-insensitively using strings.Contains.
// The first matching pattern wins, so more specific patterns should be
// defined before general ones.

import (
	"fmt"
	"strings"
)

// UserMessage provides operator-facing error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"` // What happened
	Action  string `json:"action"`  // What to do about it
	Code    string `json:"code"`    // Error code for support reference
}

// errorPattern defines a pattern to match and its corresponding message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error patterns (case-insensitive) to messages.
// The first matching pattern wins, so order matters.
var errorPatterns = []errorPattern{
	// =========================================================================
	// Configuration Errors (CFG001-CFG004)
	// =========================================================================
	{
		pattern: "invalid sync mode",
		msg: UserMessage{
			Message: "Sync mode is not export or import",
			Action:  "Set SYNC_MODE to export, import, e or i",
			Code:    "CFG001",
		},
	},
	{
		pattern: "is not set",
		msg: UserMessage{
			Message: "A required setting is not set",
			Action:  "Set the variable named in the log entry",
			Code:    "CFG002",
		},
	},
	{
		pattern: "unknown database driver",
		msg: UserMessage{
			Message: "Connection descriptor names no supported database",
			Action:  "Start the descriptor with postgres://, sqlserver://, sqlite:// or duckdb://",
			Code:    "CFG003",
		},
	},
	{
		pattern: "invalid table name",
		msg: UserMessage{
			Message: "Table name is not a plain identifier",
			Action:  "Use letters, digits and underscores, optionally schema.table",
			Code:    "CFG004",
		},
	},

	// =========================================================================
	// Database Constraint Errors (DB001-DB003)
	// =========================================================================
	{
		pattern: "duplicate key",
		msg: UserMessage{
			Message: "A loaded row repeats an existing key",
			Action:  "Remove duplicate rows from the file and rerun the import",
			Code:    "DB001",
		},
	},
	{
		pattern: "unique constraint",
		msg: UserMessage{
			Message: "A loaded value must be unique but already exists",
			Action:  "Check the file for duplicate entries",
			Code:    "DB002",
		},
	},
	{
		pattern: "violates unique",
		msg: UserMessage{
			Message: "A loaded value must be unique but already exists",
			Action:  "Check the file for duplicate entries",
			Code:    "DB002",
		},
	},
	{
		pattern: "foreign key",
		msg: UserMessage{
			Message: "Referenced record does not exist",
			Action:  "Import parent tables first",
			Code:    "DB003",
		},
	},

	// =========================================================================
	// Database Connection Errors (DB004-DB007)
	// =========================================================================
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to database",
			Action:  "Check the host and port in the connection descriptor",
			Code:    "DB004",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "Database connection was interrupted",
			Action:  "Rerun the sync",
			Code:    "DB005",
		},
	},
	{
		pattern: "login failed",
		msg: UserMessage{
			Message: "The database rejected the credentials",
			Action:  "Check the user and password in the connection descriptor",
			Code:    "DB006",
		},
	},
	{
		pattern: "password authentication failed",
		msg: UserMessage{
			Message: "The database rejected the credentials",
			Action:  "Check the user and password in the connection descriptor",
			Code:    "DB006",
		},
	},
	{
		pattern: "deadlock",
		msg: UserMessage{
			Message: "Database was busy with conflicting operations",
			Action:  "Rerun the sync",
			Code:    "DB007",
		},
	},

	// =========================================================================
	// Table Errors (DB008-DB009)
	// =========================================================================
	{
		pattern: "no such table",
		msg: UserMessage{
			Message: "The table does not exist in the database",
			Action:  "Verify SYNC_TABLES against the database",
			Code:    "DB008",
		},
	},
	{
		pattern: "invalid object name",
		msg: UserMessage{
			Message: "The table does not exist in the database",
			Action:  "Verify SYNC_TABLES against the database",
			Code:    "DB008",
		},
	},
	{
		pattern: "does not exist",
		msg: UserMessage{
			Message: "The table does not exist in the database",
			Action:  "Verify SYNC_TABLES against the database",
			Code:    "DB008",
		},
	},
	{
		pattern: "not found in destination table",
		msg: UserMessage{
			Message: "A file column has no matching table column",
			Action:  "Rename the file header or add the column to the table",
			Code:    "DB009",
		},
	},
	{
		pattern: "timeout",
		msg: UserMessage{
			Message: "Operation timed out",
			Action:  "Raise DB_CONNECT_TIMEOUT or check database load",
			Code:    "DB010",
		},
	},

	// =========================================================================
	// File Errors (FILE001-FILE004)
	// =========================================================================
	{
		pattern: "wrong number of fields",
		msg: UserMessage{
			Message: "A record has a different number of fields than the header",
			Action:  "Fix the line named in the log entry",
			Code:    "FILE001",
		},
	},
	{
		pattern: "permission denied",
		msg: UserMessage{
			Message: "The file or folder is not accessible",
			Action:  "Check permissions on SYNC_FILE_FOLDER",
			Code:    "FILE002",
		},
	},
	{
		pattern: "no space left",
		msg: UserMessage{
			Message: "No space left to write the file",
			Action:  "Free disk space on the file folder's volume",
			Code:    "FILE003",
		},
	},
	{
		pattern: "not a valid zip file",
		msg: UserMessage{
			Message: "The file is not a valid xlsx workbook",
			Action:  "Save the file as xlsx or switch SYNC_FILE_FORMAT to csv",
			Code:    "FILE004",
		},
	},

	// =========================================================================
	// Run Errors (RUN001-RUN003)
	// =========================================================================
	{
		pattern: "sync run already in progress",
		msg: UserMessage{
			Message: "Another sync run is still active",
			Action:  "Wait for the active run to finish",
			Code:    "RUN001",
		},
	},
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "The run was cancelled",
			Action:  "Rerun the sync",
			Code:    "RUN002",
		},
	},
	{
		pattern: "context deadline exceeded",
		msg: UserMessage{
			Message: "The run exceeded its deadline",
			Action:  "Rerun the sync",
			Code:    "RUN003",
		},
	},
}

// defaultMessage is returned when no pattern matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Check the logs for the technical error",
	Code:    "ERR000",
}

// MapError converts a technical error to an operator message.
// It searches through known error patterns (case-insensitive) and returns
// the first match. If no pattern matches, a generic fallback message with
// code ERR000 is returned.
//
// Example:
//
//	msg := MapError(errors.New("pq: duplicate key value"))
//	// msg.Code == "DB001"
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	errStr := strings.ToLower(err.Error())

	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err matches a known pattern rather than the
// generic ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

package core

// Error codes reference
//
// User-facing errors carry a code that support staff can look up. Codes are
// grouped by category:
//
//	DB001 - Duplicate key            "duplicate key"
//	DB002 - Unique constraint        "unique constraint", "violates unique"
//	DB003 - Sink unreachable         "sink unreachable"
//	DB004 - Connection refused       "connection refused"
//	DB005 - Connection reset         "connection reset"
//	DB006 - Timeout                  "timeout"
//	DB007 - Deadlock / busy          "deadlock", "database is locked"
//
//	FILE001 - File too large         "file too large"
//	FILE002 - Unsupported format     "unsupported file format"
//	FILE003 - Encoding error         "encoding error"
//	FILE004 - No file                "no file provided"
//	FILE005 - Empty file             "empty file"
//	FILE006 - Missing column         "missing required column"
//
//	IMP001 - Import cancelled        "import cancelled"
//	IMP002 - System busy             "too many concurrent imports"
//	IMP003 - Import not found        "import not found"
//	IMP004 - Request cancelled       "context canceled"
//	IMP005 - Request timeout         "context deadline exceeded"
//	IMP006 - Invalid query           "invalid sort field", "invalid filter"
//
//	REQ001 - Malformed request       "bad request"
//
//	RATE001 - Rate limited           "rate limit"
//
//	ERR000 - Unknown error (fallback; check logs for the technical error)
//
// Patterns are matched case-insensitively with strings.Contains and the
// first match wins, so specific patterns come before general ones.

import (
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"` // What happened
	Action  string `json:"action"`  // What to do about it
	Code    string `json:"code"`    // Support reference
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	// =========================================================================
	// Database (DB001-DB007)
	// =========================================================================
	{
		pattern: "duplicate key",
		msg: UserMessage{
			Message: "A call with this time and caller already exists",
			Action:  "Re-run the import; existing calls are updated in place",
			Code:    "DB001",
		},
	},
	{
		pattern: "unique constraint",
		msg: UserMessage{
			Message: "This value must be unique but already exists",
			Action:  "Check for duplicate entries in your file",
			Code:    "DB002",
		},
	},
	{
		pattern: "violates unique",
		msg: UserMessage{
			Message: "A duplicate value was found",
			Action:  "Review your data for duplicate call time and caller pairs",
			Code:    "DB002",
		},
	},
	{
		pattern: "sink unreachable",
		msg: UserMessage{
			Message: "The call database could not be reached",
			Action:  "Nothing was imported. Please try again in a few moments",
			Code:    "DB003",
		},
	},
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to database",
			Action:  "Please try again in a few moments",
			Code:    "DB004",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "Database connection was interrupted",
			Action:  "Please try again",
			Code:    "DB005",
		},
	},
	{
		pattern: "timeout",
		msg: UserMessage{
			Message: "Operation timed out",
			Action:  "Try importing a smaller file or try again later",
			Code:    "DB006",
		},
	},
	{
		pattern: "deadlock",
		msg: UserMessage{
			Message: "Database was busy with conflicting operations",
			Action:  "Please try again",
			Code:    "DB007",
		},
	},
	{
		pattern: "database is locked",
		msg: UserMessage{
			Message: "Database was busy with conflicting operations",
			Action:  "Please try again",
			Code:    "DB007",
		},
	},

	// =========================================================================
	// File (FILE001-FILE006)
	// =========================================================================
	{
		pattern: "file too large",
		msg: UserMessage{
			Message: "File exceeds maximum size limit",
			Action:  "Split the export into smaller date ranges",
			Code:    "FILE001",
		},
	},
	{
		pattern: "unsupported file format",
		msg: UserMessage{
			Message: "File format is not supported",
			Action:  "Upload a CSV, TSV, xlsx, or a gzip/zstd/xz compressed export",
			Code:    "FILE002",
		},
	},
	{
		pattern: "encoding error",
		msg: UserMessage{
			Message: "File contains invalid characters",
			Action:  "Save file as UTF-8 encoding",
			Code:    "FILE003",
		},
	},
	{
		pattern: "no file provided",
		msg: UserMessage{
			Message: "No file was selected",
			Action:  "Please select a call log file to import",
			Code:    "FILE004",
		},
	},
	{
		pattern: "empty file",
		msg: UserMessage{
			Message: "The uploaded file is empty",
			Action:  "Please upload a file with a header row and call rows",
			Code:    "FILE005",
		},
	},
	{
		pattern: "missing required column",
		msg: UserMessage{
			Message: "Required column is missing",
			Action:  "The file needs a call time column and a caller ID column",
			Code:    "FILE006",
		},
	},

	// =========================================================================
	// Import (IMP001-IMP006)
	// =========================================================================
	{
		pattern: "import cancelled",
		msg: UserMessage{
			Message: "Import was cancelled",
			Action:  "Start a new import when ready; completed batches were kept",
			Code:    "IMP001",
		},
	},
	{
		pattern: "too many concurrent imports",
		msg: UserMessage{
			Message: "System is busy processing other imports",
			Action:  "Please wait a moment and try again",
			Code:    "IMP002",
		},
	},
	{
		pattern: "import not found",
		msg: UserMessage{
			Message: "Import not found",
			Action:  "The import may have expired. Check the import list",
			Code:    "IMP003",
		},
	},
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "Request was cancelled",
			Action:  "Please try again",
			Code:    "IMP004",
		},
	},
	{
		pattern: "context deadline exceeded",
		msg: UserMessage{
			Message: "Request timed out",
			Action:  "Try importing a smaller file or check your connection",
			Code:    "IMP005",
		},
	},
	{
		pattern: "invalid sort field",
		msg: UserMessage{
			Message: "Unknown sort column",
			Action:  "Sort by call_time, caller_id or another imported column",
			Code:    "IMP006",
		},
	},
	{
		pattern: "invalid filter",
		msg: UserMessage{
			Message: "Invalid filter",
			Action:  "Check the filter column name and operator",
			Code:    "IMP006",
		},
	},

	{
		pattern: "bad request",
		msg: UserMessage{
			Message: "The request was not understood",
			Action:  "Check the request parameters and try again",
			Code:    "REQ001",
		},
	},

	// =========================================================================
	// Rate limiting (RATE001)
	// =========================================================================
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "RATE001",
		},
	},
}

// defaultMessage is returned when no pattern matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// If no pattern matches, the ERR000 fallback is returned.
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
// ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error with its user-facing message.
type UserError struct {
	Technical error
	User      UserMessage
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err. Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}

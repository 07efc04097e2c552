// Package core is the batch import reconciliation engine.
//
// # Error Codes Reference
//
// This file defines user-friendly error messages with codes for support reference.
// When an import fails, the code can be quoted to support staff for faster diagnosis.
//
// # Database Errors (DB001-DB099)
//
//	DB001 - Duplicate key: A record with this ID already exists
//	        Patterns: "duplicate key"
//
//	DB003 - Foreign key: Referenced record does not exist
//	        Patterns: "foreign key constraint", "violates foreign key"
//
//	DB004 - Connection refused: Unable to connect to database
//	        Patterns: "connection refused"
//
//	DB005 - Connection reset: Database connection was interrupted
//	        Patterns: "connection reset"
//
//	DB006 - Timeout: Operation timed out
//	        Patterns: "timeout"
//
//	DB007 - Deadlock: Database was busy with conflicting operations
//	        Patterns: "deadlock"
//
//	DB008 - Partial import: A write failed after earlier phases were saved
//	        Patterns: "storage failure"
//
// # Validation Errors (VAL001-VAL099)
//
//	VAL004 - Missing column: Account reference or communication code column is missing
//	         Patterns: "missing required column"
//
//	VAL007 - No origin: A revision refers to a communication that does not exist
//	         Patterns: "no origin found"
//
//	VAL008 - Non-positive total: Declared total is zero or negative
//	         Patterns: "declared total must be positive"
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - File too large      Patterns: "file too large"
//	FILE002 - Invalid CSV         Patterns: "invalid csv"
//	FILE003 - Invalid workbook    Patterns: "invalid xlsx"
//	FILE004 - No file             Patterns: "no file provided"
//	FILE005 - Empty file          Patterns: "empty file"
//	FILE006 - Invalid JSON        Patterns: "invalid json"
//
// # Import Errors (IMP001-IMP099)
//
//	IMP001 - Busy: Another import is running
//	         Patterns: "import already in progress"
//
//	IMP002 - Run not found: The import run is unknown or expired
//	         Patterns: "unknown import run"
//
//	IMP003 - Communication not found: No communication with that code
//	         Patterns: "unknown communication"
//
//	IMP004 - Request cancelled      Patterns: "context canceled"
//	IMP005 - Request timeout        Patterns: "context deadline exceeded"
//
// # Default Error (ERR000)
//
// Fallback when no specific pattern matches. Support staff should check the
// application logs for the original technical error.
//
// # Pattern Matching
//
// Error patterns are matched case-insensitively using strings.Contains.
// The first matching pattern wins, so more specific patterns should be
// defined before general ones.
package core

import "strings"

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error patterns (case-insensitive) to user messages.
// Patterns are matched using strings.Contains, so partial matches work.
// The first matching pattern wins, so order matters:
//   - More specific patterns should come before general ones
//   - Multiple patterns can map to the same error code
//
// To add a new error pattern:
//  1. Choose the appropriate category and code range
//  2. Add the pattern in the correct position (specific before general)
//  3. Update the package documentation at the top of this file
var errorPatterns = []errorPattern{
	// =========================================================================
	// Import Errors (IMP001-IMP005)
	// =========================================================================
	{
		pattern: "import already in progress",
		msg: UserMessage{
			Message: "Another import is running",
			Action:  "Please wait for it to finish and try again",
			Code:    "IMP001",
		},
	},
	{
		pattern: "unknown import run",
		msg: UserMessage{
			Message: "Import run not found",
			Action:  "The result may have expired. Check the run history",
			Code:    "IMP002",
		},
	},
	{
		pattern: "unknown communication",
		msg: UserMessage{
			Message: "Communication not found",
			Action:  "Check the account reference and communication code",
			Code:    "IMP003",
		},
	},

	// =========================================================================
	// Database Errors (DB001-DB008)
	// =========================================================================
	{
		pattern: "duplicate key",
		msg: UserMessage{
			Message: "A record with this ID already exists",
			Action:  "Download the rejected rows to review duplicates",
			Code:    "DB001",
		},
	},
	{
		pattern: "foreign key constraint",
		msg: UserMessage{
			Message: "Referenced record does not exist",
			Action:  "Check that origins are imported before their revisions",
			Code:    "DB003",
		},
	},
	{
		pattern: "violates foreign key",
		msg: UserMessage{
			Message: "Referenced record does not exist",
			Action:  "Check that origins are imported before their revisions",
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
		pattern: "storage failure",
		msg: UserMessage{
			Message: "The import stopped while writing to the database",
			Action:  "Earlier phases were saved. Fix the cause and re-import; catalogs and communications will not be duplicated",
			Code:    "DB008",
		},
	},

	// =========================================================================
	// Validation Errors (VAL004-VAL008)
	// =========================================================================
	{
		pattern: "missing required column",
		msg: UserMessage{
			Message: "Required column is missing from the file",
			Action:  "Include account reference and communication code columns",
			Code:    "VAL004",
		},
	},
	{
		pattern: "no origin found",
		msg: UserMessage{
			Message: "Revision has no origin communication",
			Action:  "Import the origin first or correct the communication code",
			Code:    "VAL007",
		},
	},
	{
		pattern: "declared total must be positive",
		msg: UserMessage{
			Message: "Declared total is zero or negative",
			Action:  "Provide a positive total for the document",
			Code:    "VAL008",
		},
	},

	// =========================================================================
	// File Errors (FILE001-FILE006)
	// =========================================================================
	{
		pattern: "file too large",
		msg: UserMessage{
			Message: "File exceeds the maximum size limit",
			Action:  "Split the file into smaller chunks",
			Code:    "FILE001",
		},
	},
	{
		pattern: "invalid csv",
		msg: UserMessage{
			Message: "File is not a valid CSV",
			Action:  "Ensure the file is comma, semicolon or tab separated",
			Code:    "FILE002",
		},
	},
	{
		pattern: "invalid xlsx",
		msg: UserMessage{
			Message: "File is not a valid Excel workbook",
			Action:  "Save the workbook as .xlsx or export it to CSV",
			Code:    "FILE003",
		},
	},
	{
		pattern: "no file provided",
		msg: UserMessage{
			Message: "No file was selected",
			Action:  "Please select a file to import",
			Code:    "FILE004",
		},
	},
	{
		pattern: "empty file",
		msg: UserMessage{
			Message: "The file is empty",
			Action:  "Please import a file with a header row and data rows",
			Code:    "FILE005",
		},
	},
	{
		pattern: "invalid json",
		msg: UserMessage{
			Message: "The document JSON could not be read",
			Action:  "Send a document object or an array of documents",
			Code:    "FILE006",
		},
	},

	// =========================================================================
	// Request Errors (IMP004-IMP005)
	// =========================================================================
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
}

// defaultMessage is returned when no pattern matches (ERR000).
// This is the fallback for unexpected errors. Support staff should check
// application logs for the original technical error when users report ERR000.
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// It searches through known error patterns (case-insensitive) and returns
// the first match. If no pattern matches, a generic fallback message with
// code ERR000 is returned.
//
// Example:
//
//	msg := MapError(ErrImportInProgress)
//	// msg.Code == "IMP001"
//	// msg.Message == "Another import is running"
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

// IsUserFacing reports whether err matches a known pattern rather than the
// ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	msg := MapError(err)
	return msg.Code != defaultMessage.Code
}

// UserError pairs a technical error with its user-facing message.
type UserError struct {
	Technical error       // Original technical error for logging
	User      UserMessage // User-friendly message for display
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err to its user message, keeping err for Unwrap.
// Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}

package core

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/JonMunkholm/calllog/internal/ingest"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{"nil error returns empty", nil, ""},
		{"duplicate key", errors.New("ERROR: duplicate key value violates unique constraint"), "DB001"},
		{"unique constraint", errors.New("ERROR: unique constraint violated"), "DB002"},
		{"sink unreachable wins over cause", fmt.Errorf("%w: dial tcp: connection refused", ingest.ErrSinkUnreachable), "DB003"},
		{"connection refused", errors.New("dial tcp: connection refused"), "DB004"},
		{"timeout", errors.New("context deadline exceeded (timeout)"), "DB006"},
		{"sqlite busy", errors.New("database is locked (5) (SQLITE_BUSY)"), "DB007"},
		{"file too large", fmt.Errorf("%w: limit is 10 bytes", ErrFileTooLarge), "FILE001"},
		{"unsupported format", ErrUnsupportedFormat, "FILE002"},
		{"empty file", ErrEmptyFile, "FILE005"},
		{"no file", ErrNoFile, "FILE004"},
		{"too many imports", ErrTooManyImports, "IMP002"},
		{"import not found", fmt.Errorf("%w: abc", ErrImportNotFound), "IMP003"},
		{"cancelled", context.Canceled, "IMP004"},
		{"deadline", context.DeadlineExceeded, "IMP005"},
		{"bad sort", errors.New(`invalid sort field "x;"`), "IMP006"},
		{"rate limit", errors.New("rate limit exceeded"), "RATE001"},
		{"unknown", errors.New("some random internal error"), "ERR000"},
		{"case insensitive", errors.New("DUPLICATE KEY value violates"), "DB001"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("MapError() code = %q, want %q", got.Code, tt.wantCode)
			}
			if tt.err != nil && got.Message == "" {
				t.Error("MapError() returned empty message")
			}
		})
	}
}

func TestFormatUserError(t *testing.T) {
	result := FormatUserError(ErrTooManyImports)

	expected := "System is busy processing other imports (Code: IMP002). Please wait a moment and try again"
	if result != expected {
		t.Errorf("FormatUserError() = %q, want %q", result, expected)
	}
	if FormatUserError(nil) != "" {
		t.Error("FormatUserError(nil) should be empty")
	}
}

func TestIsUserFacing(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil error is not user facing", nil, false},
		{"known error is user facing", ErrEmptyFile, true},
		{"unknown error is not user facing", errors.New("random internal error xyz"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUserFacing(tt.err); got != tt.want {
				t.Errorf("IsUserFacing() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewUserError(t *testing.T) {
	t.Run("nil error returns nil", func(t *testing.T) {
		if got := NewUserError(nil); got != nil {
			t.Errorf("NewUserError(nil) = %v, want nil", got)
		}
	})

	t.Run("wraps technical error with user message", func(t *testing.T) {
		techErr := fmt.Errorf("%w: limit is 5 bytes", ErrFileTooLarge)
		userErr := NewUserError(techErr)

		if userErr.Error() != "File exceeds maximum size limit" {
			t.Errorf("Error() = %q, want user message", userErr.Error())
		}
		if !errors.Is(userErr, ErrFileTooLarge) {
			t.Error("Unwrap() should expose the original error")
		}
	})
}

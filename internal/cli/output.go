package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fatih/color"

	"github.com/roach88/eventdb/internal/store"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // migration aborted, unknown user, read or write failed
	ExitCommandError = 2 // bad flags, unreadable config, malformed filter
)

// Error codes reported in JSON error responses.
const (
	ErrCodeQuery     = "E003" // Filter could not be parsed or compiled
	ErrCodeNotFound  = "E004" // Event or user not found
	ErrCodeMigration = "E005" // Migration failed or aborted
)

// ExitError carries the process exit status of a failed command. Commands
// return ExitFailure when a store or migration operation failed and
// ExitCommandError when the invocation itself was wrong.
type ExitError struct {
	Code    int
	Message string
	Err     error // cause, may be nil
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError returns an ExitError without a cause.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError attaches an exit status to err. errors.Is still sees the
// store and migrate sentinels through it.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode maps the error returned by Execute to the process exit
// status. An ExitError anywhere in the chain decides it; cobra's own flag
// errors and anything else map to ExitFailure.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter writes command results. Events and envelopes go to
// Writer; diagnostics go to ErrWriter so JSON lines on stdout stay parseable.
type OutputFormatter struct {
	Format    string // "json" | "text"
	Writer    io.Writer
	ErrWriter io.Writer // falls back to Writer
	Verbose   bool
}

// CLIResponse is the envelope of non-event JSON output (counts, user lists,
// migration reports, errors).
type CLIResponse struct {
	Status string    `json:"status"` // "ok" or "error"
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

// CLIError is the error half of a CLIResponse.
type CLIError struct {
	Code    string `json:"code"` // one of the ErrCode constants
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Success writes data in an "ok" envelope, or as a plain line in text format.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}

	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error writes an "error" envelope, or a red "Error [code]:" line in text
// format with details only when verbose.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}

	fmt.Fprintf(f.Writer, "%s %s\n", color.RedString("Error [%s]:", code), message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// Event writes one event: a JSON line in json format, a one-line summary in
// text format.
func (f *OutputFormatter) Event(ev *store.Event) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(ev)
	}
	_, err := fmt.Fprintln(f.Writer, summarizeEvent(ev))
	return err
}

// summarizeEvent renders "<id> <type> <time> [<streams>]" plus a marker for
// history rows and tombstones.
func summarizeEvent(ev *store.Event) string {
	var b strings.Builder
	b.WriteString(color.CyanString(ev.ID))
	b.WriteString(" ")
	b.WriteString(ev.Type)
	b.WriteString(" ")
	b.WriteString(strconv.FormatFloat(ev.Time, 'f', -1, 64))
	b.WriteString(" [")
	b.WriteString(strings.Join(ev.StreamIDs, ","))
	b.WriteString("]")

	switch {
	case ev.IsDeleted():
		b.WriteString(" " + color.RedString("deleted"))
	case ev.IsHistory():
		b.WriteString(" " + color.YellowString("history of %s", *ev.HeadID))
	case ev.Trashed:
		b.WriteString(" " + color.YellowString("trashed"))
	}
	return b.String()
}

// VerboseLog writes a diagnostic line when -v is set.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns the diagnostic writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}

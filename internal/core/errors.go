package core

import "fmt"

// Code is a stable machine-readable error identifier. Every Code value
// here corresponds 1:1 to an error_code string in the wire protocol
// (internal/daemon copies Error.Code directly into the response JSON).
type Code string

const (
	CodeInvalidSize          Code = "invalid_size"
	CodeInvalidELF           Code = "invalid_elf"
	CodeInvalidExecPath      Code = "invalid_exec_path"
	CodeInvalidEnv           Code = "invalid_env"
	CodeUploadInProgress     Code = "upload_in_progress"
	CodeMaxSessions          Code = "max_sessions_reached"
	CodeMaxTotalBytes        Code = "max_total_bytes_reached"
	CodeMemfdCreateFailed    Code = "memfd_create_failed"
	CodeUploadWriteFailed    Code = "upload_write_failed"
	CodeTmpfileCreateFailed  Code = "tmpfile_create_failed"
	CodeTmpdirCreateFailed   Code = "tmpdir_create_failed"
	CodeExtractFailed        Code = "extract_failed"
	CodeNotFound             Code = "not_found"
	CodeAlreadyRunning       Code = "already_running"
	CodeNotRunning           Code = "not_running"
	CodeSessionRunning       Code = "session_running"
	CodeForkFailed           Code = "fork_failed"
	CodeUnknownCommand       Code = "unknown_command"
	CodeSysrootTmpfileFailed Code = "sysroot_tmpfile_failed"
	CodeSysrootNoLibs        Code = "sysroot_no_libs"
	CodeSysrootTarFailed     Code = "sysroot_tar_failed"
)

// Error is a session-manager operation error carrying a stable Code
// alongside a human-readable Message. internal/daemon renders it
// directly into internal/protocol's wire error shape.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError builds an *Error with a formatted message.
func NewError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

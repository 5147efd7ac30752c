package model

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound           = errors.New("resource not found")
	ErrProvider           = errors.New("provider error")
	ErrNoCompatibleStream = errors.New("no compatible stream")
	ErrTransferFailed     = errors.New("transfer failed")
	ErrCancelled          = errors.New("cancelled")
	ErrTranscodeFailed    = errors.New("transcode failed")
	ErrQueueFull          = errors.New("download queue is full")

	ErrNotCancellable = errors.New("job cannot be cancelled in its current state")
	ErrNotDismissable = errors.New("job is still running")
	ErrJobNotFound    = errors.New("job not found")
	ErrInvalidRequest = errors.New("invalid download request")
)

// TransferError reports an I/O or stream failure while writing Path.
// It matches ErrTransferFailed.
type TransferError struct {
	Path string
	Err  error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer failed for %s: %v", e.Path, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

func (e *TransferError) Is(target error) bool { return target == ErrTransferFailed }

// TranscodeError reports a failed normalization run. Source is the preserved
// pre-transcode file. It matches ErrTranscodeFailed.
type TranscodeError struct {
	Source   string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *TranscodeError) Error() string {
	var b strings.Builder
	b.WriteString("transcode failed")
	if e.ExitCode != 0 {
		fmt.Fprintf(&b, " (exit %d)", e.ExitCode)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if tail := lastLine(e.Stderr); tail != "" {
		b.WriteString(": ")
		b.WriteString(tail)
	}
	if e.Source != "" {
		fmt.Fprintf(&b, " (source kept at %s)", e.Source)
	}
	return b.String()
}

func (e *TranscodeError) Unwrap() error { return e.Err }

func (e *TranscodeError) Is(target error) bool { return target == ErrTranscodeFailed }

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(s)
}

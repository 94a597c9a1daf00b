// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"io"
)

// Process exit codes
const (
	ExitOK            = 0
	ExitSessionFailed = 1
	ExitSetupFailed   = 2
)

// UserError is an error meant for the operator, with an optional hint on
// how to fix it
type UserError struct {
	Message string
	Hint    string
	Err     error
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// exitError attaches a process exit code to an error
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

func withExitCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &exitError{code: code, err: err}
}

// setupError reports a configuration or connection failure
func setupError(message, hint string, err error) error {
	return withExitCode(ExitSetupFailed, &UserError{Message: message, Hint: hint, Err: err})
}

// ExitCode returns the process exit code for an error returned by Execute.
// Errors without an explicit code come from argument parsing.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return ExitSetupFailed
}

// PrintError writes err and its hint, if any, to w
func PrintError(w io.Writer, err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(w, "Error: %v\n", err)
	var ue *UserError
	if errors.As(err, &ue) && ue.Hint != "" {
		fmt.Fprintf(w, "Hint: %s\n", ue.Hint)
	}
}

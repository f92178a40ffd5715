// Copyright (c) 2024 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

package logger

// Nop is a Logger that discards everything. It is the default logger for
// packages that accept a Logger but are not handed one explicitly; note
// that, unlike a real Logger, Nop's Fatal/Fatalf do not terminate the
// process.
type Nop struct{}

// Info discards args.
func (Nop) Info(args ...interface{}) {}

// Infof discards its arguments.
func (Nop) Infof(format string, args ...interface{}) {}

// Error discards args.
func (Nop) Error(args ...interface{}) {}

// Errorf discards its arguments.
func (Nop) Errorf(format string, args ...interface{}) {}

// Fatal discards args; it does not call os.Exit.
func (Nop) Fatal(args ...interface{}) {}

// Fatalf discards its arguments; it does not call os.Exit.
func (Nop) Fatalf(format string, args ...interface{}) {}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides the one raw-stderr-and-exit helper used by
// cmd/tool-meister-start's main(): reporting a fatal error from run()
// when the structured logger may already have said everything useful,
// and the process just needs to stop with the right exit code.
package process

import (
	"fmt"
	"os"
)

// Fatal writes "error: err" to stderr and exits with code.
func Fatal(code int, err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(code)
}

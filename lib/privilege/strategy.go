// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package privilege

import (
	"fmt"
	"runtime"
	"strings"
)

// Strategy names a policy controlling how much ambient privilege the
// invoked agent process retains during execution.
type Strategy string

const (
	// StrategyDropSudo revokes the runner account's passwordless sudo
	// access before the agent starts.
	StrategyDropSudo Strategy = "drop-sudo"

	// StrategyUnprivilegedUser runs the agent and all of its resource
	// operations as a separate, lower-privileged account.
	StrategyUnprivilegedUser Strategy = "unprivileged-user"

	// StrategyReadOnly leaves privileges alone but forces the agent's
	// sandbox to read-only filesystem access.
	StrategyReadOnly Strategy = "read-only"

	// StrategyUnsafe runs the agent with whatever privilege the
	// caller already has. The only strategy supported on Windows.
	StrategyUnsafe Strategy = "unsafe"
)

// Strategies lists every valid safety strategy, in the order shown in
// error messages and help output.
var Strategies = []Strategy{
	StrategyDropSudo,
	StrategyUnprivilegedUser,
	StrategyReadOnly,
	StrategyUnsafe,
}

// ValidationError reports an invalid request: an unknown strategy
// token, a strategy unsupported on the current OS, or a missing
// required impersonation username. Validation errors are raised
// before any subprocess is spawned or any mutation is attempted.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Validationf builds a *ValidationError from a format string.
func Validationf(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ParseStrategy converts a token into a Strategy, rejecting unknown
// values with an error that names the value and the allowed set.
func ParseStrategy(value string) (Strategy, error) {
	for _, strategy := range Strategies {
		if Strategy(value) == strategy {
			return strategy, nil
		}
	}
	return "", Validationf("unknown safety strategy %q (valid strategies: %s)",
		value, strategyList())
}

// Validate checks the strategy against the current operating system.
func (s Strategy) Validate() error {
	return s.ValidateForOS(runtime.GOOS)
}

// ValidateForOS checks the strategy against a specific GOOS value. On
// Windows only the unsafe strategy is supported; every strategy is
// supported on Unix-like systems. Split out from Validate so the
// OS-compatibility matrix is testable from any host.
func (s Strategy) ValidateForOS(goos string) error {
	if _, err := ParseStrategy(string(s)); err != nil {
		return err
	}
	if goos == "windows" && s != StrategyUnsafe {
		return Validationf("safety strategy %q is not supported on Windows; only %q is",
			s, StrategyUnsafe)
	}
	return nil
}

func strategyList() string {
	names := make([]string, len(Strategies))
	for i, strategy := range Strategies {
		names[i] = string(strategy)
	}
	return strings.Join(names, ", ")
}

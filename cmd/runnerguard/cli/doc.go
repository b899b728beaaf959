// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli provides the command dispatch framework for the runnerguard
// binary: a [Command] tree with pflag-based flag parsing, structured help
// output, typo suggestions for unknown commands and flags, and the
// [ExitError] convention for handled non-zero exits.
//
// Command handlers receive a context.Context wired to SIGINT/SIGTERM by
// main, and a *slog.Logger configured by [NewLogger]. Every subprocess the
// handlers spawn inherits that context, so a signal aborts a hung elevation
// command or agent process instead of blocking the invocation forever.
package cli

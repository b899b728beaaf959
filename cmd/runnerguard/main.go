// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// runnerguard hardens a shared CI runner host before executing an
// untrusted coding-agent process, and then executes that agent under
// a selected safety strategy.
//
// Usage:
//
//	runnerguard exec [flags]
//	runnerguard drop-sudo [flags]
//	runnerguard version
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bureau-foundation/runnerguard/cmd/runnerguard/cli"
)

func main() {
	if err := runMain(); err != nil {
		// Commands that print their own output return an ExitError
		// with the desired exit code. Don't print a redundant
		// "error:" line for those.
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func runMain() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return rootCommand().Execute(ctx, os.Args[1:], cli.NewLogger())
}

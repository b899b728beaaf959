// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package privilege implements safety-strategy validation and the
// two-phase "drop-sudo" revocation protocol that removes a CI runner
// account's passwordless administrative access before an untrusted
// agent process runs.
//
// The protocol has two phases dispatched through the command table,
// never inferred from ambient process state. The caller phase runs
// with whatever privilege the invoking session has: it probes that
// passwordless sudo actually works, invalidates any cached sudo
// ticket, re-invokes the runnerguard binary under sudo with the
// --root-phase flag, and invalidates the ticket again so no residual
// elevation survives into the rest of the session. The root phase
// runs fully privileged: it removes the user from the elevation
// group, strips the user's entries from /etc/sudoers.d fragments and
// /etc/sudoers, and logs the user's remaining group memberships.
//
// Failures during the root phase are deliberately not rolled back: a
// partially revoked account is strictly safer than a fully privileged
// one.
package privilege

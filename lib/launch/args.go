// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package launch

import (
	"encoding/json"
	"strings"

	"github.com/google/shlex"

	"github.com/bureau-foundation/runnerguard/lib/privilege"
)

// TokenizeExtraArgs parses pass-through agent arguments. A string
// starting with '[' is a JSON array of strings; anything else is
// tokenized with shell-style quoting rules. Both forms yield the
// identical token sequence: `["--flag","value"]` and `--flag value`
// are equivalent.
func TokenizeExtraArgs(value string) ([]string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}

	if strings.HasPrefix(trimmed, "[") {
		var tokens []string
		if err := json.Unmarshal([]byte(trimmed), &tokens); err != nil {
			return nil, privilege.Validationf("extra args look like a JSON array but do not parse: %v", err)
		}
		return tokens, nil
	}

	tokens, err := shlex.Split(trimmed)
	if err != nil {
		return nil, privilege.Validationf("tokenizing extra args: %v", err)
	}
	return tokens, nil
}

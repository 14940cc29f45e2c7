// Package policy decides which commands may run under the configured
// allowlist and read-only mode.
package policy

import (
	"strings"

	"github.com/spf13/cobra"

	clierr "github.com/ggonzalez94/rwa-orchestrator/internal/errors"
)

// AnnotationSubmits marks commands that can submit transactions.
const AnnotationSubmits = "rwa/submits"

func CheckCommandAllowed(allowlist []string, commandPath string) error {
	if len(allowlist) == 0 {
		return nil
	}
	normPath := normalize(commandPath)
	for _, allowed := range allowlist {
		if normalize(allowed) == normPath {
			return nil
		}
	}
	return clierr.New(clierr.CodeBlocked, "command blocked by --enable-commands policy")
}

// Submits reports whether cmd is annotated as submitting transactions.
func Submits(cmd *cobra.Command) bool {
	return cmd != nil && cmd.Annotations[AnnotationSubmits] == "true"
}

// CheckReadOnly blocks transaction-submitting commands in read-only mode.
func CheckReadOnly(readOnly bool, cmd *cobra.Command) error {
	if readOnly && Submits(cmd) {
		return clierr.New(clierr.CodeBlocked, "command submits transactions and is blocked by read-only mode")
	}
	return nil
}

func normalize(v string) string {
	parts := strings.Fields(strings.ToLower(strings.TrimSpace(v)))
	return strings.Join(parts, " ")
}

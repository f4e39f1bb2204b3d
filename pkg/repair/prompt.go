package repair

import (
	"fmt"
	"strings"
)

// Instruction is the fixed system message for the repair round-trip.
const Instruction = "You repair malformed JSON. Return only the corrected JSON object. " +
	"Keep every field and value that is present, fix syntax only, and do not invent fields."

const maxPromptContent = 16 * 1024

// GenerateRepairPrompt creates the user message asking a provider to fix
// output that failed to parse.
func GenerateRepairPrompt(raw string, cause error) string {
	var sb strings.Builder

	sb.WriteString("The following output is not valid JSON:\n\n")
	sb.WriteString("---\n")
	sb.WriteString(truncate(raw, maxPromptContent))
	sb.WriteString("\n---\n")

	if cause != nil {
		sb.WriteString(fmt.Sprintf("\nParser error: %s\n", cause))
	}

	sb.WriteString("\nReturn the same data as a single valid JSON object.")

	return sb.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "\n...[truncated]"
}

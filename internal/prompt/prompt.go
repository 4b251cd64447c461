// Package prompt builds backend-ready prompt text. Build is a pure
// function of its inputs — no I/O, no clock, no randomness — which is
// what makes response caching deterministic.
package prompt

import (
	"encoding/json"
	"fmt"
	"strings"

	"reeve/internal/tools"
)

// Instruction is the fixed trailer describing the tool directive
// format. It is part of the prompt contract: changing it changes every
// cache key.
const Instruction = "If one of the tools above applies, respond with exactly:\n" +
	"TOOL:<name> PARAMS:<json>\n" +
	"where <json> is a JSON object of parameters. " +
	"Otherwise answer the user directly in plain text."

// Build assembles the prompt for a request. The user input is included
// verbatim; previousSteps are included only when non-empty; every
// tool's name, description and parameter schema is enumerated in
// catalog order.
func Build(userInput string, previousSteps []string, catalog []tools.Descriptor) string {
	var b strings.Builder

	b.WriteString("You are Reeve, a personal assistant.\n\n")

	if len(previousSteps) > 0 {
		b.WriteString("Previous steps:\n")
		for _, step := range previousSteps {
			fmt.Fprintf(&b, "- %s\n", step)
		}
		b.WriteString("\n")
	}

	b.WriteString("Available tools:\n")
	for _, d := range catalog {
		fmt.Fprintf(&b, "- %s: %s", d.Name, d.Description)
		if len(d.Parameters) > 0 {
			if schema, err := json.Marshal(d.Parameters); err == nil {
				fmt.Fprintf(&b, " parameters=%s", schema)
			}
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")

	b.WriteString(Instruction)
	b.WriteString("\n\nUser: ")
	b.WriteString(userInput)

	return b.String()
}

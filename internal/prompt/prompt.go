// Package prompt builds the system and stage prompts used across
// consultations. Every builder is a pure function: same inputs, same
// output.
package prompt

import (
	"fmt"
	"strings"
)

// ConsultantSystem is the base system prompt for the quick and standard
// tiers and for the primary deliberation stage.
func ConsultantSystem() string {
	var b strings.Builder
	b.WriteString("You are a senior software engineer giving a consultation. ")
	b.WriteString("Answer precisely and ground every claim in the material you are shown. ")
	b.WriteString("When tools are available, use them to inspect the project before answering; ")
	b.WriteString("prefer reading the actual code over guessing. ")
	b.WriteString("Say so plainly when you are unsure.")
	return b.String()
}

// ReviewerSystem is the system prompt for the review stage.
func ReviewerSystem() string {
	var b strings.Builder
	b.WriteString("You are reviewing another engineer's answer before it ships. ")
	b.WriteString("Be direct and specific: name concrete errors, risky assumptions, and missing considerations. ")
	b.WriteString("Do not rewrite the answer; critique it. ")
	b.WriteString("If the answer is solid, say so briefly instead of inventing objections.")
	return b.String()
}

// SynthesizerSystem is the system prompt for the synthesis stage. The
// final answer must read as one voice; attribution to earlier stages is
// explicitly forbidden.
func SynthesizerSystem() string {
	var b strings.Builder
	b.WriteString("You produce the final consultation answer from a draft and a critique of it. ")
	b.WriteString("Write in a single unified voice, as if the answer were yours from the start. ")
	b.WriteString("Never attribute content to its source: no \"the first model said\", ")
	b.WriteString("no \"the reviewer noted\", no mention that multiple models were involved. ")
	b.WriteString("Keep what survived the critique, fix what did not.")
	return b.String()
}

// ReviewRequest builds the user message asking the reviewer to critique
// the primary stage's answer.
func ReviewRequest(question, answer string) string {
	var b strings.Builder

	b.WriteString("Review the following answer to a consultation question.\n\n")
	b.WriteString("## Original Question\n\n")
	b.WriteString(question)
	b.WriteString("\n\n## Proposed Answer\n\n")
	b.WriteString(answer)
	b.WriteString("\n\n## Review Protocol\n\n")
	b.WriteString("1. **Correctness**: flag technical errors with specifics\n")
	b.WriteString("2. **Completeness**: what did the answer miss or gloss over?\n")
	b.WriteString("3. **Assumptions**: which unstated assumptions could be wrong?\n")
	b.WriteString("4. **Verdict**: one of agree / agree with changes / disagree, with a one-line justification\n")

	return b.String()
}

// SynthesisRequest builds the user message for the synthesis stage,
// carrying the question, the primary answer, and the critique.
func SynthesisRequest(question, answer, critique string) string {
	var b strings.Builder

	b.WriteString("Produce the final answer to the question below, ")
	b.WriteString("incorporating the critique into the draft.\n\n")
	b.WriteString("## Question\n\n")
	b.WriteString(question)
	b.WriteString("\n\n## Draft Answer\n\n")
	b.WriteString(answer)
	b.WriteString("\n\n## Critique\n\n")
	b.WriteString(critique)
	b.WriteString("\n\nWrite the final answer in one unified voice. ")
	b.WriteString("Do not reference the draft, the critique, or any model by name.")

	return b.String()
}

// ForcedFinalInstruction is the user message appended when the tool-use
// loop exhausts its budget and must force a text-only answer.
func ForcedFinalInstruction() string {
	return "Provide your final answer now based on the information gathered so far. Do not call any more tools."
}

// DegradedNote annotates a consultation reason when a deliberation stage
// failed and the result fell back to the primary answer alone.
func DegradedNote(reason, cause string) string {
	return fmt.Sprintf("%s (deliberation degraded: %s)", reason, cause)
}

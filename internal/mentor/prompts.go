package mentor

import (
	"fmt"

	"github.com/lazypower/sanctum/internal/brain"
)

const systemPrompt = `You are a personal mentor with access to one user's history and patterns.
Use ONLY the context below, which belongs to this user alone, to guide them.

Ground every answer in:
1. Their behavior patterns and habits
2. Their historical data and trends
3. Their goals and challenges
4. Earlier conversations

Be specific and actionable, and cite their actual numbers where you can.`

// System renders the system prompt for doc's owner.
func System(doc *brain.Document) string {
	return systemPrompt + "\n\n" + doc.PromptContext()
}

// Prompt renders a single-turn prompt for providers without a separate
// system role.
func Prompt(doc *brain.Document, message string) string {
	return fmt.Sprintf("%s\nUSER QUESTION: %s\n", System(doc), message)
}

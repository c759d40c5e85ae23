package llm

import (
	"fmt"
	"strings"

	"docqa-rag/internal/models"
)

// DefaultContextChars caps the context handed to the model
const DefaultContextChars = 3000

// NotSpecified is the exact reply the model is told to give when the
// context has nothing relevant
const NotSpecified = "Not specified in the document."

// NoInformation is returned without calling the model when retrieval finds nothing
const NoInformation = "I don't have enough information in the indexed documents to answer that question."

// BuildContext joins candidate chunks into "[section]\ntext" blocks separated
// by "\n---\n". Blocks are added in order until the next one would push the
// total past maxChars.
func BuildContext(candidates []models.ScoredCandidate, maxChars int) string {
	if maxChars <= 0 {
		maxChars = DefaultContextChars
	}
	var blocks []string
	used := 0
	for _, c := range candidates {
		section := c.Chunk.Metadata.SectionTitle
		if section == "" {
			section = "Unknown Section"
		}
		block := fmt.Sprintf("[%s]\n%s\n", section, strings.TrimSpace(c.Chunk.Content))
		if used+len(block) > maxChars {
			break
		}
		blocks = append(blocks, block)
		used += len(block)
	}
	return strings.Join(blocks, "\n---\n")
}

// BuildPrompt creates a grounded prompt for the question over context
func BuildPrompt(query, context string) string {
	var promptBuilder strings.Builder

	promptBuilder.WriteString("You are an expert assistant.\n\n")
	promptBuilder.WriteString("Follow this decision process strictly:\n")
	promptBuilder.WriteString("1. Check whether the context contains information relevant to the question.\n")
	promptBuilder.WriteString("2. If relevant information exists:\n")
	promptBuilder.WriteString("   - Answer using only that information.\n")
	promptBuilder.WriteString("   - If the question is broad, summarize the document purpose and scope.\n")
	promptBuilder.WriteString("   - Cite clause numbers when present (e.g., Clauses 4-10).\n")
	promptBuilder.WriteString("3. If no relevant information exists at all:\n")
	promptBuilder.WriteString("   - Respond exactly with: \"" + NotSpecified + "\"\n\n")

	promptBuilder.WriteString("Rules:\n")
	promptBuilder.WriteString("- Use ONLY the provided context.\n")
	promptBuilder.WriteString("- Answer ONLY the question asked.\n")
	promptBuilder.WriteString("- Do NOT add external knowledge.\n")
	promptBuilder.WriteString("- Be concise, precise, and technical.\n")
	promptBuilder.WriteString("- Start directly with the answer.\n\n")

	promptBuilder.WriteString("Context:\n")
	promptBuilder.WriteString(context)
	promptBuilder.WriteString("\n\nQuestion:\n")
	promptBuilder.WriteString(query)
	promptBuilder.WriteString("\n\nAnswer:\n")

	return promptBuilder.String()
}

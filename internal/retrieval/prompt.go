package retrieval

import (
	"fmt"
	"strings"
)

const systemPrompt = `You are a research assistant. Answer the user's question using only the provided context from their reference documents.
Cite the source document names the answer relies on.
If the context does not contain the information needed, say so clearly and point out what is missing instead of guessing.`

// NotFoundAnswer is returned when no indexed content matches the query.
const NotFoundAnswer = "I couldn't find any relevant information in the selected reference sets to answer your question. " +
	"Try uploading documents that cover this topic or widening the reference sets you search."

// degradedPrefix starts an answer built from raw context when generation is unavailable.
const degradedPrefix = "Based on the retrieved documents (AI generation unavailable):\n\n"

func userPrompt(context, query string) string {
	return fmt.Sprintf("Context:\n%s\n\nQuestion: %s", context, query)
}

// Citation formats the label shown for one retrieved chunk.
func Citation(documentName, domain string, page int) string {
	return fmt.Sprintf("%s (Domain: %s, Page: %d)", documentName, domain, page)
}

// degradedAnswer returns the leading maxChars characters of the context under a fixed prefix.
func degradedAnswer(context string, maxChars int) string {
	excerpt := []rune(strings.TrimSpace(context))
	if maxChars > 0 && len(excerpt) > maxChars {
		excerpt = excerpt[:maxChars]
	}
	return degradedPrefix + string(excerpt) + "..."
}

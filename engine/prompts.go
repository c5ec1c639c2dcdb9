package engine

import "strings"

// DefaultSystemPrompt is the system prompt for memory-backed chat.
const DefaultSystemPrompt = `You are a helpful AI assistant. Please format your responses clearly:
- Use proper markdown formatting
- Wrap code blocks with ` + "```" + `language_name
- Use bullet points and numbered lists appropriately
- Separate paragraphs with blank lines
- Use bold and italics for emphasis
`

// NoDocumentReply is returned by document questions in a session without a
// usable document.
const NoDocumentReply = "I don't have enough context to answer that question. Please make sure a document is uploaded first."

// buildChatPrompt assembles the memory-backed chat prompt. history is the
// formatted context window and may be empty.
func buildChatPrompt(system, history, message string) string {
	var b strings.Builder
	b.WriteString(system)
	b.WriteString("\n\n")
	if history != "" {
		b.WriteString("Previous conversation:\n")
		b.WriteString(history)
		b.WriteString("\n\nImportant: Only use the above context if it's directly relevant to the current question.\n")
		b.WriteString("If the context is not relevant to the current question, ignore it and answer based on your knowledge.\n\n")
	}
	b.WriteString("User: ")
	b.WriteString(message)
	b.WriteString("\nAssistant:")
	return b.String()
}

// buildDocumentPrompt restricts the answer to the retrieved chunks.
func buildDocumentPrompt(chunks []string, question string) string {
	return "Using ONLY the following context, answer the question.\n" +
		"If the answer cannot be found in the context, say so clearly.\n\n" +
		"Context:\n" + strings.Join(chunks, "\n\n") + "\n\n" +
		"Question: " + question + "\n\n" +
		"Answer: "
}

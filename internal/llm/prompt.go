package llm

import (
	"fmt"
	"strings"
)

// Prompt templates are static configuration data. Render substitutes
// {placeholder} variables; it performs no I/O and no logic beyond
// substitution.
const (
	TemplateCondense       = "condense_question"
	TemplateGroundedAnswer = "grounded_answer"
	TemplateNoContext      = "no_context_answer"
)

var templates = map[string]string{
	TemplateCondense: "Given a chat history and the latest user question " +
		"which might reference context in the chat history, " +
		"formulate a standalone question which can be understood " +
		"without the chat history. Do NOT answer the question, " +
		"just reformulate it if needed and otherwise return it as is.",

	TemplateGroundedAnswer: "You are an assistant for question-answering tasks. " +
		"Use the following pieces of retrieved context to answer " +
		"the question. If you don't know the answer, say that you " +
		"don't know. Use three sentences maximum and keep the " +
		"answer concise.\n\n{context}",

	TemplateNoContext: "You are an assistant for question-answering tasks. " +
		"No relevant excerpts were found in the uploaded documents for this " +
		"question. Say clearly that the documents contain no supporting " +
		"material, then answer briefly from general knowledge if you can.",
}

// Render returns the template identified by templateID with every
// {key} placeholder replaced by vars[key].
func Render(templateID string, vars map[string]string) (string, error) {
	tmpl, ok := templates[templateID]
	if !ok {
		return "", fmt.Errorf("unknown prompt template %q", templateID)
	}
	out := tmpl
	for key, value := range vars {
		out = strings.ReplaceAll(out, "{"+key+"}", value)
	}
	return out, nil
}

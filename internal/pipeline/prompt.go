package pipeline

import (
	"fmt"
	"strings"
)

// BuildPrompt lays out the retrieved contexts followed by the question.
func BuildPrompt(question string, contexts []string) string {
	var b strings.Builder
	b.WriteString("Context information is below.\n---------------------\n")
	if len(contexts) == 0 {
		b.WriteString("(no context was retrieved)\n")
	}
	for i, c := range contexts {
		fmt.Fprintf(&b, "[%d] %s\n", i+1, strings.TrimSpace(c))
	}
	b.WriteString("---------------------\n")
	b.WriteString("Given the context information and not prior knowledge, answer the question.\n")
	fmt.Fprintf(&b, "Question: %s\nAnswer:", question)
	return b.String()
}

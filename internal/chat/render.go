package chat

import "strings"

// Turn is one answered question.
type Turn struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Render projects the history to a transcript: "You: <q>" then "Bot: <a>"
// per turn, in insertion order.
func Render(history []Turn) string {
	var b strings.Builder
	for i, t := range history {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("You: ")
		b.WriteString(t.Question)
		b.WriteString("\nBot: ")
		b.WriteString(t.Answer)
	}
	return b.String()
}

package chat

import "strings"

// QuickQuestions are the canned prompts offered alongside the chat
// input.
var QuickQuestions = []string{
	"Summarize the main topics covered in this document",
	"What are the most important concepts I should focus on?",
	"Create practice questions to test my understanding",
	"Make a study plan based on this content",
	"What topics are likely to appear in exams?",
	"Explain the most difficult concepts in simple terms",
}

// quickBullets are the emoji markers a canned question may carry in the
// UI; they are stripped before the question is sent.
const quickBullets = "📝🔍❓📊🎯💡"

// ScrubQuestion removes a leading emoji bullet and surrounding
// whitespace from a canned question.
func ScrubQuestion(q string) string {
	q = strings.TrimSpace(q)
	for _, bullet := range quickBullets {
		q = strings.TrimPrefix(q, string(bullet))
	}
	return strings.TrimSpace(q)
}

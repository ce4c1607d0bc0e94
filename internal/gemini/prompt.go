package gemini

import (
	"fmt"
	"strings"
)

// Message senders as rendered into the prompt transcript.
const (
	SenderUser = "user"
	SenderAI   = "ai"
)

// maxContextTurns bounds how much recent history is embedded in the
// prompt. Older turns are dropped; chronological order is preserved.
const maxContextTurns = 6

// Turn is one prior exchange entry supplied as conversation context.
type Turn struct {
	Sender string
	Text   string
}

const promptTemplate = `You are an AI study assistant helping students understand their document content. Answer questions based on the provided document.

%s

Current question: %s

Instructions:
- Answer based on the document content provided
- If the question is not covered in the document, mention that politely and try to provide general guidance
- Be helpful, clear, and educational in your responses
- Use examples from the document when possible
- Keep responses concise but informative (aim for 2-4 sentences)
- If asked for summaries, provide structured bullet points
- If asked for practice questions, create 3-5 relevant questions
- Format your response clearly with proper spacing

Answer:`

// buildPrompt renders the generation prompt: at most the last
// maxContextTurns history entries as alternating Human/AI lines, the new
// question, and the fixed instructional scaffolding.
func buildPrompt(question string, history []Turn) string {
	if len(history) > maxContextTurns {
		history = history[len(history)-maxContextTurns:]
	}

	var context string
	if len(history) > 0 {
		lines := make([]string, 0, len(history))
		for _, turn := range history {
			who := "AI"
			if turn.Sender == SenderUser {
				who = "Human"
			}
			lines = append(lines, who+": "+turn.Text)
		}
		context = "Previous conversation:\n" + strings.Join(lines, "\n") + "\n"
	}

	return strings.TrimSpace(fmt.Sprintf(promptTemplate, context, question))
}

package session

import "strings"

// defaultInstructions follows the "Session ID" header of every new session.
const defaultInstructions = `You are a helpful and thoughtful AI assistant. There is no need to follow any strict step-by-step format.

Instead:
- Be friendly, natural, and conversational.
- Think carefully about what the user *really* wants before answering.
- Use your tools only when they genuinely help.
- Provide clear, useful answers, and explain your thinking if it adds value.
- Focus on understanding the user's goal and helping them achieve it efficiently.

Your goal is to make the user feel understood and supported. Keep the conversation natural and helpful.`

// RenderSystemPrompt builds the first message of a session. A non-empty
// template replaces the default instructions and has {session} substituted.
func RenderSystemPrompt(template, key string) string {
	if strings.TrimSpace(template) != "" {
		return strings.ReplaceAll(template, "{session}", key)
	}
	return "Session ID: " + key + "\n\n" + defaultInstructions
}

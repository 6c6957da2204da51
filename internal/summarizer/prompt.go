package summarizer

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Style selects the shape of the generated summary
type Style string

const (
	StyleTransfer Style = "transfer"
	StyleDetailed Style = "detailed"
	StyleBrief    Style = "brief"
)

const baseInstructions = `You are an AI assistant specialized in generating concise, actionable call summaries for warm transfers in customer service environments.
Your task is to analyze the conversation and create a summary that will help the receiving agent understand the context and continue the conversation seamlessly.`

const transferFormat = `
WARM TRANSFER SUMMARY FORMAT:

Create a structured summary with the following sections:

1. CALLER PROFILE: name, identifying information, account or reference numbers if mentioned.
2. REASON FOR CALL: primary issue, urgency level (Low/Medium/High), category.
3. CONVERSATION HIGHLIGHTS: key points discussed, solutions attempted, customer reactions.
4. CURRENT STATUS: where the conversation stands, what is resolved and unresolved, next steps.
5. TRANSFER CONTEXT: why the transfer is occurring and what the receiving agent should focus on.

Keep the summary concise but comprehensive. Use bullet points. Limit to 300-400 words.`

const detailedFormat = `
DETAILED CALL SUMMARY FORMAT:

Provide a comprehensive analysis including the conversation timeline, all topics discussed, customer sentiment, technical details, and follow-up requirements. Use clear headings and bullet points.`

const briefFormat = `
BRIEF TRANSFER SUMMARY FORMAT:

Create a concise 2-3 sentence summary covering who is calling and why, what has been discussed, and what the receiving agent needs to do next. Keep it under 100 words.`

// systemPrompt returns the system instruction for the given summary style
func systemPrompt(style Style) string {
	switch style {
	case StyleDetailed:
		return baseInstructions + detailedFormat
	case StyleBrief:
		return baseInstructions + briefFormat
	case StyleTransfer, "":
		return baseInstructions + transferFormat
	default:
		return baseInstructions + "\nProvide a clear, professional call summary suitable for agent handoff."
	}
}

const questionsPrompt = `You are an AI assistant helping generate relevant follow-up questions for customer service agents.

Based on the call summary provided, generate 3-5 intelligent questions the receiving agent should consider asking to clarify remaining issues, gather additional information, confirm customer understanding, and move toward resolution.

Format as a simple list of questions, each starting with "- "`

// fallbackQuestions is returned when the provider cannot produce suggestions
var fallbackQuestions = []string{
	"Can you confirm your account information?",
	"What is the main issue you need help with today?",
	"Have you tried any troubleshooting steps already?",
}

// BuildContext renders a summary request into the prompt text sent to the
// provider. A raw context blob is passed through ahead of any structured
// history.
func BuildContext(req SummaryRequest) string {
	var b strings.Builder
	b.WriteString("CALL CONTEXT FOR WARM TRANSFER:\n")

	if len(req.CallerInfo) > 0 {
		b.WriteString("\nCALLER INFORMATION:\n")
		keys := make([]string, 0, len(req.CallerInfo))
		for k := range req.CallerInfo {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "- %s: %s\n", k, req.CallerInfo[k])
		}
	}

	if req.ContextBlob != "" {
		b.WriteString("\n")
		b.WriteString(req.ContextBlob)
		b.WriteString("\n")
	}

	if len(req.History) > 0 {
		b.WriteString("\nCONVERSATION HISTORY:\n")
		for _, entry := range req.History {
			ts := entry.Timestamp
			if ts == "" {
				ts = "unknown time"
			}
			speaker := entry.Speaker
			if speaker == "" {
				speaker = "unknown"
			}
			fmt.Fprintf(&b, "[%s] %s: %s\n", ts, speaker, entry.Message)
		}
	}

	fmt.Fprintf(&b, "\nSummary generated at: %s\n", time.Now().UTC().Format(time.RFC3339))
	return b.String()
}

// parseQuestions extracts the question list from a provider response
func parseQuestions(text string) []string {
	var questions []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "- "):
			questions = append(questions, strings.TrimPrefix(line, "- "))
		case line != "" && !strings.HasPrefix(line, "#") && strings.Contains(line, "?"):
			questions = append(questions, line)
		}
	}
	if len(questions) > 5 {
		questions = questions[:5]
	}
	return questions
}

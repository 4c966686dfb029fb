package gateway

import (
	"fmt"
	"strings"
	"text/template"
)

// ContextFallback replaces the reference documents when the tool server
// cannot serve them.
const ContextFallback = "Follow standard IPO guidelines."

// DefaultPersona is the system prompt template used when no persona is
// configured. {{.Context}} receives the assembled reference documents.
const DefaultPersona = `
IMPORTANT: Use clear Indian English (en-IN) to start with.
You are the official Groww IPO Voice Assistant. Use clear Indian English (en-IN) and you should sound as human as possible to the extent that no one should be able to figure out that you are an AI bot.
Your persona must be calm, polite, empathetic, not too formal and non-argumentative at all times.

CORE CONTEXT & RULES:
{{.Context}}

GUIDELINES:
1. DATA SOURCE TRUTH: You must ONLY use the data provided via the Tools. Do NOT hallucinate.
2. TOOL USAGE: Call tools like ` + "`get_user_applications`" + ` without arguments unless specific filters are requested.
3. LIST HANDLING: If a tool returns multiple items, speak details of EVERY SINGLE ITEM.
4. RESPONSE STYLE: Keep general conversational responses concise. When fetching data, always inform the customer to wait while you are processing.
5. HINDI GRAMMAR: When speaking in English, use clear Indian English (en-IN). When speaking in Hindi, you MUST strictly use correct grammatical forms.
6. ESCALATION: Use the 'escalate_to_agent' tool if necessary.
`

// BuildContext joins the five reference documents (compliance, business
// rules, pre-apply, application/UPI, post-apply) into the context block of
// the system prompt. Any other count yields [ContextFallback].
func BuildContext(docs []string) string {
	if len(docs) != 5 {
		return ContextFallback
	}
	return fmt.Sprintf("--- COMPLIANCE ---\n%s\n--- PROCEDURES ---\n%s\n%s\n%s\n%s",
		docs[0], docs[1], docs[2], docs[3], docs[4])
}

// ParsePersona compiles a persona template. An empty text selects
// [DefaultPersona].
func ParsePersona(text string) (*template.Template, error) {
	if strings.TrimSpace(text) == "" {
		text = DefaultPersona
	}
	tmpl, err := template.New("persona").Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("gateway: parse persona: %w", err)
	}
	return tmpl, nil
}

// RenderInstructions fills tmpl with the context block.
func RenderInstructions(tmpl *template.Template, contextText string) (string, error) {
	var sb strings.Builder
	if err := tmpl.Execute(&sb, struct{ Context string }{contextText}); err != nil {
		return "", fmt.Errorf("gateway: render persona: %w", err)
	}
	return sb.String(), nil
}

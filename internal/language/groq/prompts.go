package groq

import (
	"fmt"
	"strings"

	"github.com/vovakirdan/medrelay/internal/language"
	"github.com/vovakirdan/medrelay/internal/store"
)

const detectPrompt = `Detect the language of the given text.
Return ONLY the ISO 639-1 two-letter language code (e.g. 'en', 'hi', 'es', 'fr', 'de', 'zh', 'ar', 'ja', 'ko', 'bn', 'ta', 'te', 'ur').
Return ONLY the code, nothing else.`

const summaryPrompt = `You are a medical documentation assistant. Analyze the following doctor-patient conversation and generate a structured clinical summary.

Your summary MUST include the following sections (use exactly these headings):

## Patient Complaints & Symptoms
## Doctor's Observations & Diagnosis
## Medications & Treatments
## Follow-up Actions
## Key Medical Terms Used

RULES:
- Only include information explicitly stated in the conversation.
- If a section has no relevant information, write "Not discussed in this conversation."
- Use clear, professional medical language.
- Flag any potential urgency or red flags with a warning sign.
- Keep the summary concise but comprehensive.`

func translatePrompt(src, dst string, role store.Role) string {
	return fmt.Sprintf(`You are a professional medical interpreter specializing in doctor-patient communication.

RULES:
1. Translate the following message from %s to %s.
2. Preserve ALL medical terminology accurately. Use proper medical terms in the target language.
3. If the speaker is a PATIENT: use simple, clear language that a layperson would understand.
4. If the speaker is a DOCTOR: maintain professional medical terminology.
5. Preserve the emotional tone and urgency of the original message.
6. NEVER add, remove, or modify any medical information.
7. If a medical term has no direct translation, keep it in the original language and add a brief explanation in parentheses.
8. Return ONLY the translated text. No explanations, no notes, no prefixes.

Speaker role: %s`, language.Name(src), language.Name(dst), strings.ToUpper(string(role)))
}

// transcriptFor renders messages as the summary model's user prompt.
func transcriptFor(msgs []*store.Message) string {
	var b strings.Builder
	b.WriteString("Please summarize this doctor-patient conversation:\n\n")
	for _, m := range msgs {
		label := "Patient"
		if m.Role == store.RoleDoctor {
			label = "Doctor"
		}
		fmt.Fprintf(&b, "%s: %s\n", label, m.OriginalText)
		if m.TranslatedText != nil && *m.TranslatedText != "" {
			fmt.Fprintf(&b, "  [Translated: %s]\n", *m.TranslatedText)
		}
	}
	return b.String()
}

var translationPrefixes = []string{
	"Translation:",
	"Translated:",
	"Here's the translation:",
	"Here is the translation:",
}

// cleanTranslation strips preambles the model sometimes adds.
func cleanTranslation(s string) string {
	s = strings.TrimSpace(s)
	for _, p := range translationPrefixes {
		if len(s) >= len(p) && strings.EqualFold(s[:len(p)], p) {
			s = strings.TrimSpace(s[len(p):])
		}
	}
	return s
}

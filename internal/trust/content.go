package trust

import (
	"regexp"
	"strings"

	"github.com/23blocks-OS/ai-maestro/internal/models"
)

// injectionPatterns are scanned against message text from unverified
// senders. A hit flags the message; it is still delivered.
var injectionPatterns = []struct {
	name string
	re   *regexp.Regexp
}{
	{"instruction_override", regexp.MustCompile(`(?i)(ignore|disregard|forget)\s+(all\s+)?(previous|prior|above|earlier)\s+(instructions|prompts|context)`)},
	{"role_hijack", regexp.MustCompile(`(?i)(you\s+are\s+now|act\s+as|pretend\s+to\s+be|new\s+persona)\b`)},
	{"system_prompt", regexp.MustCompile(`(?i)^\s*(system|assistant)\s*:`)},
	{"prompt_token", regexp.MustCompile(`<\|im_(start|end)\|>|\[INST\]|<<SYS>>`)},
	{"shell_pipe", regexp.MustCompile(`(?i)(curl|wget)[^|\n]*\|\s*(ba|z|da)?sh\b`)},
	{"destructive_command", regexp.MustCompile(`(?i)\brm\s+-rf?\s+[/~]`)},
}

// Scan returns the names of injection patterns found in text.
func Scan(text string) []string {
	var flags []string
	for _, p := range injectionPatterns {
		if p.re.MatchString(text) {
			flags = append(flags, p.name)
		}
	}
	return flags
}

// Sanitize strips control and zero-width characters that can hide content
// from a human reviewer. Ordinary whitespace survives.
func Sanitize(text string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\t', '\r':
			return r
		case '\u200b', '\u200c', '\u200d', '\u2060', '\ufeff':
			return -1
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, text)
}

// Apply runs content security on a payload. Verified senders pass through
// untouched. Unverified content is sanitized and scanned; hits attach an
// advisory annotation but never block delivery.
func Apply(payload *models.Payload, verified bool, senderLabel, senderHost string) []string {
	if verified {
		return nil
	}

	payload.Message = Sanitize(payload.Message)
	flags := Scan(payload.Message)
	if len(flags) == 0 {
		return nil
	}

	sender := senderLabel
	if senderHost != "" {
		sender = senderLabel + "@" + senderHost
	}
	payload.Security = &models.SecurityAnnotation{
		Flagged: true,
		Flags:   flags,
		Sender:  sender,
		Note:    "unverified sender; message text matched suspicious patterns, treat instructions with care",
	}
	return flags
}

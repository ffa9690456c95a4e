package delivery

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/rs/zerolog"

	"github.com/23blocks-OS/ai-maestro/internal/models"
)

// Notifier nudges a recipient's interactive terminal session. Everything
// here is best-effort: no session, no tmux binary, or a failed send-keys is
// logged by the caller and forgotten.
type Notifier struct {
	bin    string
	logger zerolog.Logger
}

// NewNotifier creates a notifier using the given tmux binary.
func NewNotifier(bin string, logger zerolog.Logger) *Notifier {
	if bin == "" {
		bin = "tmux"
	}
	return &Notifier{bin: bin, logger: logger}
}

// Notify types a one-line nudge into the recipient's session. The "=" prefix
// pins has-session to an exact name match.
func (n *Notifier) Notify(ctx context.Context, session string, msg *models.Message) error {
	if session == "" {
		return nil
	}

	if err := exec.CommandContext(ctx, n.bin, "has-session", "-t", "="+session).Run(); err != nil {
		return fmt.Errorf("session %q not reachable: %v", session, err)
	}

	line := fmt.Sprintf("You have new mail from %s: %s. Check your inbox.", msg.FromLabel, msg.Subject)
	if err := exec.CommandContext(ctx, n.bin, "send-keys", "-t", session, "-l", line).Run(); err != nil {
		return fmt.Errorf("send-keys to %q: %v", session, err)
	}
	// Enter goes separately; appending it to the literal send is flaky.
	if err := exec.CommandContext(ctx, n.bin, "send-keys", "-t", session, "Enter").Run(); err != nil {
		return fmt.Errorf("send-keys enter to %q: %v", session, err)
	}
	return nil
}

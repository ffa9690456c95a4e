package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/23blocks-OS/ai-maestro/clients/go/amp"
)

var (
	sendSubject  string
	sendMessage  string
	sendType     string
	sendPriority string
	sendReplyTo  string
	sendSeal     bool
	sendContext  []string
	inboxBox     string
	inboxStatus  string
	inboxLimit   int
	inboxJSON    bool
	readJSON     bool
	readIdentity string
	forwardNote  string
	mailboxOwner string
)

var sendCmd = &cobra.Command{
	Use:   "send <to>",
	Short: "Send a message",
	Long: `Send a message to an agent.

The recipient can be an alias, agent id, session name, or a qualified
address (alias@host) for agents on other nodes. Sends are signed with the
local identity's key; --seal additionally encrypts the body to the
recipient's registered public key.

Examples:
  maestro send billing -s "invoice run" -m "start the nightly batch"
  maestro send scout@mainframe -s "handoff" -m "take over issue 88" --priority high
  maestro send billing -s "credentials" -m "token: ..." --seal
  maestro send crm -s "re: deploy" -m "done" --reply-to msg_01ABC`,
	Args: cobra.ExactArgs(1),
	RunE: runSend,
}

var inboxCmd = &cobra.Command{
	Use:   "inbox [identifier]",
	Short: "List mailbox messages",
	Long: `List messages in an agent's mailbox.

Without an identifier, lists the local identity's inbox. --box selects
the sent or archived folder; --status filters by read state.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInbox,
}

var readCmd = &cobra.Command{
	Use:   "read <message-id>",
	Short: "Read a message and mark it read",
	Args:  cobra.ExactArgs(1),
	RunE:  runRead,
}

var archiveCmd = &cobra.Command{
	Use:   "archive <message-id>",
	Short: "Archive a message",
	Args:  cobra.ExactArgs(1),
	RunE:  runArchive,
}

var forwardCmd = &cobra.Command{
	Use:   "forward <message-id> <to>",
	Short: "Forward a message to another agent",
	Args:  cobra.ExactArgs(2),
	RunE:  runForward,
}

var watchCmd = &cobra.Command{
	Use:   "watch [identifier]",
	Short: "Stream deliveries live",
	Long:  "Subscribe to an agent's live message stream and print deliveries as they land.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runWatch,
}

func runSend(cmd *cobra.Command, args []string) error {
	ctxMap, err := parseContextFlags(sendContext)
	if err != nil {
		return err
	}

	c := newClient()
	resp, err := c.Send(amp.SendOptions{
		To:        args[0],
		Subject:   sendSubject,
		Message:   sendMessage,
		Type:      sendType,
		Priority:  sendPriority,
		Context:   ctxMap,
		InReplyTo: sendReplyTo,
		Seal:      sendSeal,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Sent: %s (thread %s)\n", resp.ID, resp.ThreadID)
	return nil
}

func runInbox(cmd *cobra.Command, args []string) error {
	identifier := ""
	if len(args) > 0 {
		identifier = args[0]
	}

	c := newClient()
	list, err := c.Inbox(identifier, amp.InboxOptions{Box: inboxBox, Status: inboxStatus, Limit: inboxLimit})
	if err != nil {
		return err
	}

	if inboxJSON {
		printJSON(list)
		return nil
	}

	if list.Count == 0 {
		fmt.Println("No messages.")
		return nil
	}
	for _, m := range list.Messages {
		fmt.Println(formatLine(&m))
	}
	return nil
}

func runRead(cmd *cobra.Command, args []string) error {
	c := newClient()

	msg, err := c.GetMessage(readIdentity, args[0])
	if err != nil {
		return err
	}
	if msg.Status == "unread" {
		if err := c.MarkRead(readIdentity, args[0]); err != nil {
			return err
		}
	}

	if readJSON {
		printJSON(msg)
		return nil
	}
	printMessage(c, msg)
	return nil
}

func runArchive(cmd *cobra.Command, args []string) error {
	c := newClient()
	if err := c.Archive(mailboxOwner, args[0]); err != nil {
		return err
	}
	fmt.Printf("Archived: %s\n", args[0])
	return nil
}

func runForward(cmd *cobra.Command, args []string) error {
	c := newClient()
	resp, err := c.Forward(mailboxOwner, args[0], args[1], forwardNote)
	if err != nil {
		return err
	}
	fmt.Printf("Forwarded as: %s\n", resp.ID)
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	identifier := ""
	if len(args) > 0 {
		identifier = args[0]
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := newClient()
	fmt.Fprintln(os.Stderr, "Watching for messages (Ctrl-C to stop)...")
	err := c.Watch(ctx, identifier, func(m amp.Message) {
		fmt.Println(formatLine(&m))
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// formatLine renders one inbox row.
func formatLine(m *amp.Message) string {
	ts := m.Timestamp.Local().Format("2006-01-02 15:04")
	from := m.FromLabel
	if from == "" {
		from = m.FromAlias
	}
	if from == "" {
		from = m.From
	}

	marks := ""
	if m.Status == "unread" {
		marks += "*"
	}
	if m.Priority == "high" || m.Priority == "urgent" {
		marks += "!"
	}
	if m.Content.Security != nil && m.Content.Security.Flagged {
		marks += "⚠"
	}
	if marks != "" {
		marks = " " + marks
	}

	return fmt.Sprintf("[%s] %-12s %s  %s%s", ts, m.ID, from, m.Subject, marks)
}

// printMessage renders a full message, opening sealed bodies when the
// local key can.
func printMessage(c *amp.Client, m *amp.Message) {
	from := m.FromLabel
	if from == "" {
		from = m.FromAlias
	}
	verified := ""
	if m.FromVerified {
		verified = " (verified)"
	}

	fmt.Printf("From:     %s%s\n", from, verified)
	fmt.Printf("Subject:  %s\n", m.Subject)
	fmt.Printf("Date:     %s\n", m.Timestamp.Local().Format(time.RFC1123))
	fmt.Printf("Priority: %s\n", m.Priority)
	if m.InReplyTo != "" {
		fmt.Printf("Reply-To: %s\n", m.InReplyTo)
	}
	if m.ForwardedFrom != nil {
		fmt.Printf("Fwd:      originally %s -> %s at %s\n",
			m.ForwardedFrom.OriginalFrom, m.ForwardedFrom.OriginalTo,
			m.ForwardedFrom.OriginalTimestamp.Local().Format(time.RFC1123))
	}
	if m.Content.Security != nil && m.Content.Security.Flagged {
		fmt.Printf("Warning:  content flagged: %s\n", strings.Join(m.Content.Security.Flags, ", "))
	}

	body := m.Content.Message
	if m.Sealed() {
		if opened, err := c.Open(m); err == nil {
			body = opened
		} else {
			body = fmt.Sprintf("[sealed body, cannot open: %v]", err)
		}
	}
	fmt.Printf("\n%s\n", body)
}

// parseContextFlags turns repeated key=value flags into a context map.
func parseContextFlags(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	m := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --context %q, want key=value", pair)
		}
		m[k] = v
	}
	return m, nil
}

func init() {
	sendCmd.Flags().StringVarP(&sendSubject, "subject", "s", "", "Message subject")
	sendCmd.Flags().StringVarP(&sendMessage, "message", "m", "", "Message body")
	sendCmd.Flags().StringVar(&sendType, "type", "", "Content type: request, response, notification, update")
	sendCmd.Flags().StringVar(&sendPriority, "priority", "", "Priority: low, normal, high, urgent")
	sendCmd.Flags().StringVar(&sendReplyTo, "reply-to", "", "Envelope id this message answers")
	sendCmd.Flags().BoolVar(&sendSeal, "seal", false, "Encrypt the body to the recipient's public key")
	sendCmd.Flags().StringArrayVar(&sendContext, "context", nil, "Context entry key=value (repeatable)")
	sendCmd.MarkFlagRequired("subject")
	sendCmd.MarkFlagRequired("message")

	inboxCmd.Flags().StringVar(&inboxBox, "box", "", "Mailbox folder: inbox, sent, archived")
	inboxCmd.Flags().StringVar(&inboxStatus, "status", "", "Filter by status: unread, read, archived")
	inboxCmd.Flags().IntVar(&inboxLimit, "limit", 0, "Maximum messages to list")
	inboxCmd.Flags().BoolVar(&inboxJSON, "json", false, "Output as JSON")

	readCmd.Flags().BoolVar(&readJSON, "json", false, "Output as JSON")
	readCmd.Flags().StringVar(&readIdentity, "id", "", "Mailbox owner (default: local identity)")

	archiveCmd.Flags().StringVar(&mailboxOwner, "id", "", "Mailbox owner (default: local identity)")
	forwardCmd.Flags().StringVar(&mailboxOwner, "id", "", "Mailbox owner (default: local identity)")
	forwardCmd.Flags().StringVar(&forwardNote, "note", "", "Note to prepend to the forwarded body")

	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(inboxCmd)
	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(archiveCmd)
	rootCmd.AddCommand(forwardCmd)
	rootCmd.AddCommand(watchCmd)
}

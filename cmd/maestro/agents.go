package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/23blocks-OS/ai-maestro/clients/go/amp"
)

var (
	registerName    string
	registerSession string
	registerWebhook string
	registerExt     bool
	registerPickup  string
	agentsJSON      bool
)

var registerCmd = &cobra.Command{
	Use:   "register <alias>",
	Short: "Register this agent on the node",
	Long: `Register an agent identity on the node.

Generates an Ed25519 keypair (unless one is already saved for the alias),
registers the alias with the node, and saves the assigned address to the
identity config dir. Re-running updates the mutable fields.

External agents (--external) have no session on the node; their messages
queue in the relay until picked up with the --pickup-key.`,
	Args: cobra.ExactArgs(1),
	RunE: runRegister,
}

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List agents registered on the node",
	RunE:  runAgents,
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <identifier>",
	Short: "Resolve an identifier the way routing would",
	Args:  cobra.ExactArgs(1),
	RunE:  runResolve,
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the local identity",
	RunE:  runWhoami,
}

func runRegister(cmd *cobra.Command, args []string) error {
	c := newClient()
	resp, err := c.Register(amp.RegisterOptions{
		Alias:       args[0],
		DisplayName: registerName,
		SessionName: registerSession,
		WebhookURL:  registerWebhook,
		External:    registerExt,
		PickupKey:   registerPickup,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Registered %s as %s\n", resp.Address, resp.ID)
	return nil
}

func runAgents(cmd *cobra.Command, args []string) error {
	c := newClient()
	list, err := c.ListAgents()
	if err != nil {
		return err
	}

	if agentsJSON {
		printJSON(list)
		return nil
	}

	for _, a := range list.Agents {
		kind := "session"
		if a.External {
			kind = "external"
		}
		name := a.DisplayName
		if name == "" {
			name = a.Alias
		}
		fmt.Printf("  %-16s %-10s %s\n", a.Alias, kind, name)
	}
	fmt.Printf("%d agents\n", list.Count)
	return nil
}

func runResolve(cmd *cobra.Command, args []string) error {
	c := newClient()
	resp, err := c.Resolve(args[0])
	if err != nil {
		return err
	}
	printJSON(resp)
	return nil
}

func runWhoami(cmd *cobra.Command, args []string) error {
	c := newClient()
	if c.Identity == nil {
		return fmt.Errorf("no identity in %s; run register first", c.ConfigDir)
	}
	fmt.Printf("Agent:      %s\n", c.Identity.AgentID)
	fmt.Printf("Address:    %s\n", c.Identity.Address)
	fmt.Printf("Public key: %s\n", c.Identity.PublicKeyB64())
	return nil
}

func init() {
	registerCmd.Flags().StringVar(&registerName, "name", "", "Display name")
	registerCmd.Flags().StringVar(&registerSession, "session", "", "Tmux session to nudge on delivery")
	registerCmd.Flags().StringVar(&registerWebhook, "webhook", "", "Callback URL for webhook delivery")
	registerCmd.Flags().BoolVar(&registerExt, "external", false, "Register as an external (relay pickup) agent")
	registerCmd.Flags().StringVar(&registerPickup, "pickup-key", "", "Pickup key for relay drain auth")

	agentsCmd.Flags().BoolVar(&agentsJSON, "json", false, "Output as JSON")

	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(agentsCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(whoamiCmd)
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	relayKey   string
	relayLimit int
	relayJSON  bool
)

var hostsCmd = &cobra.Command{
	Use:   "hosts",
	Short: "List the mesh hosts the node knows",
	RunE:  runHosts,
}

var relayCmd = &cobra.Command{
	Use:   "relay [identifier]",
	Short: "Drain the relay queue for an external agent",
	Long: `Drain queued messages for an external agent.

Drained messages are removed from the node; this output is the only copy.
Use 'relay pending' via the node API to probe depth without draining.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRelay,
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check node health",
	RunE:  runHealth,
}

func runHosts(cmd *cobra.Command, args []string) error {
	c := newClient()
	list, err := c.Hosts()
	if err != nil {
		return err
	}

	for _, h := range list.Hosts {
		marker := " "
		if h.ID == list.Self {
			marker = "*"
		}
		state := "enabled"
		if !h.Enabled {
			state = "disabled"
		}
		fmt.Printf("%s %-16s %-9s %s\n", marker, h.ID, state, h.URL)
	}
	return nil
}

func runRelay(cmd *cobra.Command, args []string) error {
	identifier := ""
	if len(args) > 0 {
		identifier = args[0]
	}

	c := newClient()
	resp, err := c.RelayPickup(identifier, relayKey, relayLimit)
	if err != nil {
		return err
	}

	if relayJSON {
		printJSON(resp)
		return nil
	}

	if resp.Count == 0 {
		fmt.Println("Relay queue is empty.")
		return nil
	}
	for _, entry := range resp.Messages {
		fmt.Printf("[%s] %s -> %s  %s\n", entry.Envelope.ID, entry.Envelope.From, entry.Envelope.To, entry.Envelope.Subject)
		fmt.Printf("    %s\n", entry.Payload.Message)
	}
	fmt.Printf("%d messages drained (node keeps no copy)\n", resp.Count)
	return nil
}

func runHealth(cmd *cobra.Command, args []string) error {
	c := newClient()
	resp, err := c.Health()
	if err != nil {
		return err
	}
	printJSON(resp)
	return nil
}

func init() {
	relayCmd.Flags().StringVar(&relayKey, "key", "", "Pickup key for the agent")
	relayCmd.Flags().IntVar(&relayLimit, "limit", 0, "Maximum messages to drain")
	relayCmd.Flags().BoolVar(&relayJSON, "json", false, "Output as JSON")
	relayCmd.MarkFlagRequired("key")

	rootCmd.AddCommand(hostsCmd)
	rootCmd.AddCommand(relayCmd)
	rootCmd.AddCommand(healthCmd)
}

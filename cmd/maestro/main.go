// Command maestro is the operator and agent CLI for AMP mesh nodes.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/23blocks-OS/ai-maestro/clients/go/amp"
)

var (
	flagURL    string
	flagConfig string
)

var rootCmd = &cobra.Command{
	Use:   "maestro",
	Short: "Message agents across an AI-Maestro mesh",
	Long: `maestro talks to an AI-Maestro node: register agents, send and read
messages, drain relay queues, and inspect the mesh.

The node URL comes from --url, then AMP_URL, then http://localhost:8080.
Agent identity (keypair + registered address) lives in --config, AMP_CONFIG,
or ~/.amp.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagURL, "url", "", "Node base URL (default AMP_URL or http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Identity config dir (default AMP_CONFIG or ~/.amp)")
}

// newClient builds a client honoring the persistent flags.
func newClient() *amp.Client {
	c := amp.NewClient(flagURL)
	if flagConfig != "" {
		c.ConfigDir = flagConfig
		if id, err := amp.LoadIdentity(flagConfig); err == nil {
			c.Identity = id
		} else {
			c.Identity = nil
		}
	}
	return c
}

func printJSON(v interface{}) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}

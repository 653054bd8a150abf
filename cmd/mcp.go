package cmd

import (
	"github.com/spf13/cobra"

	"github.com/gathertown/grapevine/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server for agent integration",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This lets an MCP client inspect tenants, run triage over transcripts, and
confirm or cancel pending actions. Configure with:

  {
    "mcpServers": {
      "grapevine": { "command": "grapevine", "args": ["mcp"] }
    }
  }

Available tools: grapevine_list_tenants, grapevine_run_triage,
grapevine_list_actions, grapevine_confirm_action, grapevine_cancel_action,
grapevine_delete_ticket`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getStore()
		if err != nil {
			return err
		}
		engine, err := getEngine()
		if err != nil {
			return err
		}
		return mcp.NewServer(s, engine).ServeStdio(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

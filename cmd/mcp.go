package main

import (
	"github.com/spf13/cobra"

	"github.com/max-solo23/deeptrace/internal/mcpserver"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve research tools to MCP clients over stdio",
	Long:  "Runs an MCP server on stdin/stdout. Logs go to stderr so the protocol stream stays clean.",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initResearch(cmd.Context(), "mcp")
		if err != nil {
			return err
		}
		defer env.Close()

		return mcpserver.Serve(mcpserver.NewHandlers(env.Pipeline(), env.Store, env.Registry))
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

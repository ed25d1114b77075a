package main

import (
	"context"

	"github.com/spf13/cobra"

	"awrlens/internal/logging"
	mcpserver "awrlens/internal/mcp"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

func newMCPCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Run an MCP server over stdio exposing the report tools",
		Long: `Starts an MCP server over stdin/stdout. Agents call the report tools
(upload_report, list_reports, analyze_report, ...) against the service at
--api-url.

The server monitors for parent process death. When the agent host disconnects
or restarts, the server exits instead of lingering.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			srv := mcpserver.NewServer(client, version)
			defer srv.Shutdown()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			mcpserver.WatchParent(ctx, mcpserver.DefaultParentPoll, cancel)

			logging.New("mcp").Info("starting awrlens MCP server over stdio (parent watchdog active)",
				"api_url", a.cfg.Client.BaseURL)
			return srv.MCPServer.Run(ctx, &sdkmcp.StdioTransport{})
		},
	}
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/sercha-retrieval/internal/adapters/driving/mcp"
)

var (
	mcpPort int
	mcpUser string
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP server for AI assistant integration",
	Long: `Start a Model Context Protocol (MCP) server exposing knowledge retrieval.

By default the server communicates over stdio. With --port it serves
streamable HTTP instead. MCP sessions carry no token, so queries run as
the user given by --user.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := buildApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		server, err := mcp.NewServer(&mcp.Ports{
			Retrieval: a.Retrieval,
			Sync:      a.Sync,
			UserID:    mcpUser,
		})
		if err != nil {
			return fmt.Errorf("failed to create MCP server: %w", err)
		}

		if mcpPort > 0 {
			addr := fmt.Sprintf(":%d", mcpPort)
			logger.Info("starting MCP server", "addr", addr)
			return server.RunHTTP(ctx, addr)
		}
		return server.Run(ctx)
	},
}

func init() {
	mcpCmd.Flags().IntVar(&mcpPort, "port", 0, "serve streamable HTTP on this port instead of stdio")
	mcpCmd.Flags().StringVar(&mcpUser, "user", "", "user MCP queries run as")
	rootCmd.AddCommand(mcpCmd)
}

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"docrag/pkg/server"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Download the reranker model and verify llama-server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := server.NewManager()
		if err != nil {
			return err
		}
		if err := mgr.Setup(true); err != nil {
			return err
		}
		fmt.Println("Setup complete. Start the rerank server with 'docrag server start'.")
		return nil
	},
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Manage the local rerank server",
}

var serverStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the rerank server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := server.NewManager()
		if err != nil {
			return err
		}
		if err := mgr.Start(); err != nil {
			return err
		}
		fmt.Printf("Rerank server running at %s\n", mgr.Endpoint())
		return nil
	},
}

var serverStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the rerank server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := server.NewManager()
		if err != nil {
			return err
		}
		if err := mgr.Stop(); err != nil {
			return err
		}
		fmt.Println("Rerank server stopped")
		return nil
	},
}

var serverStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show rerank server status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := server.NewManager()
		if err != nil {
			return err
		}
		running, pid, port := mgr.Status()
		if running {
			fmt.Printf("Running on port %d (pid %d)\n", port, pid)
		} else {
			fmt.Printf("Not running (port %d)\n", port)
		}
		return nil
	},
}

func init() {
	serverCmd.AddCommand(serverStartCmd, serverStopCmd, serverStatusCmd)
	rootCmd.AddCommand(setupCmd, serverCmd)
}

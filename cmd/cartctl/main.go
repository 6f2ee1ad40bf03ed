// Package main provides cartctl, a command-line client for the cartsync
// daemon's local HTTP facade.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Global flag values.
var (
	flagConfigDir string
	flagAddr      string
	flagJSON      bool
)

// daemonAddr holds the resolved facade address, set by PersistentPreRunE.
var daemonAddr string

var rootCmd = &cobra.Command{
	Use:   "cartctl",
	Short: "cartctl controls a running cartsync daemon",
	Long: `cartctl talks to the local HTTP facade of a running cartsync daemon.
It can inspect and mutate the cart, and install or remove the session
credential the daemon uses against the remote cart backend.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		addr, err := resolveAddr()
		if err != nil {
			return err
		}
		daemonAddr = addr
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigDir, "config-dir", "", "configuration directory (default: ~/.cartsync)")
	rootCmd.PersistentFlags().StringVar(&flagAddr, "addr", "", "daemon address (default: http://localhost:8080)")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output as JSON")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(totalsCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(checkoutCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("cartctl v0.1.0")
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

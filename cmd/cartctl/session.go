// Session subcommands: login, logout.
package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

var loginToken string

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Install a session credential in the daemon",
	Long: `Install a bearer token in the daemon. The daemon uses it for all
requests to the remote cart backend, and re-initializes the cart from the
backend immediately.

Example:
  cartctl login --token "$(my-auth-tool token)"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := callDaemon(http.MethodPut, "/api/v1/session", map[string]any{
			"token": loginToken,
		})
		if err != nil {
			return err
		}
		fmt.Println("logged in")
		return printCartEnvelope(env)
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove the session credential and reset the cart",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := callDaemon(http.MethodDelete, "/api/v1/session", nil); err != nil {
			return err
		}
		fmt.Println("logged out")
		return nil
	},
}

func init() {
	loginCmd.Flags().StringVar(&loginToken, "token", "", "bearer token (required)")
	_ = loginCmd.MarkFlagRequired("token")
}

package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/glideapp/glide-sync/internal/config"
	"github.com/glideapp/glide-sync/internal/ui"
)

var loginCmd = &cobra.Command{
	Use:     "login",
	GroupID: "setup",
	Short:   "Log in and store credentials",
	Long: `Exchange email and password for a token pair and store it in
~/.glide/credentials.json (owner-readable only). Later commands refresh the
pair automatically and write it back.`,
	Run: func(cmd *cobra.Command, args []string) {
		email, _ := cmd.Flags().GetString("email")
		var password string

		form := huh.NewForm(huh.NewGroup(
			huh.NewInput().
				Title("Email").
				Value(&email).
				Validate(func(s string) error {
					if !strings.Contains(s, "@") {
						return fmt.Errorf("not an email address")
					}
					return nil
				}),
			huh.NewInput().
				Title("Password").
				EchoMode(huh.EchoModePassword).
				Value(&password).
				Validate(func(s string) error {
					if s == "" {
						return fmt.Errorf("password is required")
					}
					return nil
				}),
		))
		if err := form.Run(); err != nil {
			fail("login aborted: %v", err)
		}

		client := newClient(false)
		pair, err := client.Login(cmd.Context(), email, password)
		if err != nil {
			fail("login failed: %v", err)
		}

		path, err := config.CredentialsPath()
		if err != nil {
			fail("%v", err)
		}
		if err := config.SaveCredentials(path, config.Credentials{
			Email:        email,
			AccessToken:  pair.AccessToken,
			RefreshToken: pair.RefreshToken,
		}); err != nil {
			fail("%v", err)
		}

		fmt.Println(ui.Pass("logged in as %s", email))
		fmt.Println(ui.Dim("next: glide hydrate"))
	},
}

var logoutCmd = &cobra.Command{
	Use:     "logout",
	GroupID: "setup",
	Short:   "Delete stored credentials",
	Run: func(cmd *cobra.Command, args []string) {
		path, err := config.CredentialsPath()
		if err != nil {
			fail("%v", err)
		}
		if err := config.DeleteCredentials(path); err != nil {
			fail("%v", err)
		}
		fmt.Println(ui.Pass("logged out"))
	},
}

func init() {
	loginCmd.Flags().String("email", "", "email address (prompted when omitted)")
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
}

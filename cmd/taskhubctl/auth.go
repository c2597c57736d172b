package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login [username]",
		Short: "Log in and store the session token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, cfg, err := apiClient(cmd)
			if err != nil {
				return err
			}
			password, err := promptPassword("Password: ")
			if err != nil {
				return err
			}
			user, err := c.Login(cmd.Context(), args[0], password)
			if err != nil {
				return err
			}
			cfg.Token = c.Token()
			if err := saveConfig(cfg); err != nil {
				return err
			}
			fmt.Printf("Logged in as %s\n", user.Username)
			return nil
		},
	}
}

func registerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "register [username]",
		Short: "Create an account and log in",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, cfg, err := apiClient(cmd)
			if err != nil {
				return err
			}
			password, err := promptPassword("Password: ")
			if err != nil {
				return err
			}
			confirm, err := promptPassword("Confirm password: ")
			if err != nil {
				return err
			}
			if password != confirm {
				return fmt.Errorf("passwords do not match")
			}
			user, err := c.Register(cmd.Context(), args[0], password)
			if err != nil {
				return err
			}
			cfg.Token = c.Token()
			if err := saveConfig(cfg); err != nil {
				return err
			}
			if user.IsAdmin {
				fmt.Printf("Registered %s (first account, admin)\n", user.Username)
			} else {
				fmt.Printf("Registered %s\n", user.Username)
			}
			return nil
		},
	}
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Drop the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, cfg, err := apiClient(cmd)
			if err != nil {
				return err
			}
			// Best effort server side; the local token goes either way.
			_ = c.Logout(cmd.Context())
			cfg.Token = ""
			if err := saveConfig(cfg); err != nil {
				return err
			}
			fmt.Println("Logged out")
			return nil
		},
	}
}

func whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := apiClient(cmd)
			if err != nil {
				return err
			}
			user, err := c.Me(cmd.Context())
			if err != nil {
				return err
			}
			if user.IsAdmin {
				fmt.Printf("%s (admin)\n", user.Username)
			} else {
				fmt.Println(user.Username)
			}
			return nil
		},
	}
}

func promptPassword(label string) (string, error) {
	fmt.Fprint(os.Stderr, label)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(b), nil
}

package main

import (
	"fmt"
	"strings"

	"github.com/LuminPulse-AI/chatsync"
	"github.com/spf13/cobra"
)

var (
	initBaseURL string
	initUserID  string
)

func init() {
	initCmd.Flags().StringVar(&initBaseURL, "base-url", "", "Service base URL (e.g. https://chat.example.com)")
	initCmd.Flags().StringVar(&initUserID, "user-id", "", "User id, when the credential does not carry one")
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init <credential>",
	Short: "Store a credential in ~/.chatsync/config.toml",
	Long:  "Initialize the chatsync CLI by storing your credential and the service URL in the local configuration file.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		credential := strings.TrimSpace(args[0])

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		userID := initUserID
		if userID == "" {
			userID, err = chatsync.SubjectFromCredential(credential)
			if err != nil {
				return fmt.Errorf("%w (pass --user-id to set it explicitly)", err)
			}
		}
		cfg.Auth.Credential = credential
		cfg.Auth.UserID = userID
		if initBaseURL != "" {
			cfg.Default.BaseURL = strings.TrimRight(initBaseURL, "/")
		}
		if cfg.Default.BaseURL != "" {
			if _, err := sessionConfig(cfg); err != nil {
				return err
			}
		}

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		path, _ := configPath()
		fmt.Printf("Credential for %s saved to %s\n", userID, path)
		if cfg.Default.BaseURL == "" {
			fmt.Println("No base URL yet. Set one with 'chatsync config set default.base_url <url>'.")
		}
		return nil
	},
}

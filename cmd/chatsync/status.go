package main

import (
	"context"
	"fmt"
	"time"

	"github.com/LuminPulse-AI/chatsync"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current configuration and account status",
	Long:  "Display the current configuration, then fetch the conversation list to check the credential and count unread messages.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		fmt.Println("Configuration:")
		fmt.Printf("  Base URL:    %s\n", valueOrDefault(cfg.Default.BaseURL, "(not set)"))
		if cfg.Default.ChannelURL != "" {
			fmt.Printf("  Channel URL: %s\n", cfg.Default.ChannelURL)
		}
		fmt.Printf("  Log level:   %s\n", valueOrDefault(cfg.Default.LogLevel, "WARN"))

		fmt.Println()
		fmt.Println("Auth:")
		fmt.Printf("  User ID:     %s\n", valueOrDefault(cfg.Auth.UserID, "(not set)"))
		if cfg.Auth.Credential != "" {
			fmt.Printf("  Credential:  %s\n", maskKey(cfg.Auth.Credential))
		} else {
			fmt.Println("  Credential:  (not set)")
		}

		sc, err := sessionConfig(cfg)
		if err != nil {
			fmt.Printf("\nConfig error: %v\n", err)
			return nil
		}
		credential, err := credentialFrom(cfg)
		if err != nil {
			return nil
		}

		fmt.Println()
		fmt.Println("Live status:")
		api := chatsync.NewHTTPAPI(credential, chatsync.WithBaseURL(sc.BaseURL), chatsync.WithTimeout(10*time.Second))
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		convs, err := api.ListConversations(ctx)
		if err != nil {
			fmt.Printf("  Error fetching conversations: %v\n", err)
			return nil
		}
		groups := lo.CountBy(convs, func(c chatsync.ConversationPayload) bool { return c.Type == chatsync.KindProjectGroup })
		unread := lo.SumBy(convs, func(c chatsync.ConversationPayload) int { return c.UnreadCount })
		fmt.Printf("  Conversations: %d (%d groups, %d direct)\n", len(convs), groups, len(convs)-groups)
		fmt.Printf("  Unread:        %d\n", unread)
		return nil
	},
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/LuminPulse-AI/chatsync"
	"github.com/spf13/cobra"
)

var (
	sendFile string
	sendJSON bool
)

func init() {
	sendCmd.Flags().StringVarP(&sendFile, "file", "f", "", "Attach a file")
	sendCmd.Flags().BoolVar(&sendJSON, "json", false, "Output the confirmed message as JSON")
	rootCmd.AddCommand(sendCmd)
}

var sendCmd = &cobra.Command{
	Use:   "send <conversation-id> [text...]",
	Short: "Send a message and wait for the server to confirm it",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conversationID := args[0]
		text := strings.Join(args[1:], " ")
		if strings.TrimSpace(text) == "" && sendFile == "" {
			return fmt.Errorf("nothing to send: pass text or --file")
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
		defer cancel()
		s, _, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.SelectConversation(ctx, conversationID); err != nil {
			return err
		}

		var attachments []chatsync.Attachment
		if sendFile != "" {
			data, err := os.ReadFile(sendFile)
			if err != nil {
				return fmt.Errorf("cannot read file: %w", err)
			}
			att, err := s.UploadFile(ctx, filepath.Base(sendFile), data)
			if err != nil {
				return fmt.Errorf("upload failed: %w", err)
			}
			attachments = append(attachments, att)
		}

		msg, err := s.SendMessage(ctx, text, attachments)
		if err != nil {
			return err
		}

		if sendJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(msg)
		}
		fmt.Printf("Message sent (id: %s, state: %s)\n", msg.ID, msg.State)
		return nil
	},
}

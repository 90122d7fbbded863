package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var chatConversationID string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the assistant from the terminal",
	Long: `Start an interactive terminal session with the assistant.
Type /reset to restart the conversation and /exit to leave.`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatConversationID, "conversation", "", "conversation ID to resume (default: a fresh one)")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	conversationID := chatConversationID
	if conversationID == "" {
		conversationID = uuid.New().String()
	}

	fmt.Printf("Conversation %s. Type /reset to start over, /exit to quit.\n\n", conversationID)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("you> ")
		if !scanner.Scan() {
			break
		}
		message := strings.TrimSpace(scanner.Text())
		if message == "" {
			continue
		}

		switch message {
		case "/exit", "/quit":
			return nil
		case "/reset":
			if err := a.service.ResetConversation(cmd.Context(), conversationID); err != nil {
				fmt.Printf("reset failed: %v\n", err)
				continue
			}
			fmt.Println("Conversation reset.")
			continue
		}

		turn, err := a.service.ProcessTurn(cmd.Context(), conversationID, message)
		if err != nil {
			fmt.Printf("error: %v\n", err)
			continue
		}

		fmt.Printf("%s> %s\n", turn.Handler, turn.Reply)
		if turn.Ended {
			fmt.Println("\nConversation ended. The next message starts a new one.")
		}
	}

	return scanner.Err()
}

package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ashureev/studio-relay/internal/coordinator"
	"github.com/ashureev/studio-relay/internal/domain"
)

const (
	dim   = "\033[2m"
	reset = "\033[0m"
)

func newChatCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "chat [message]",
		Short: "Chat with the model",
		Long:  "Sends a single message when one is given, otherwise reads messages from stdin until EOF or /exit. /clear empties the conversation.",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer sess.Close()

			if len(args) > 0 {
				return sendMessage(cmd, sess, strings.Join(args, " "))
			}
			return runREPL(cmd, sess)
		},
	}
}

func sendMessage(cmd *cobra.Command, sess *session, message string) error {
	out := cmd.OutOrStdout()
	_, err := sess.coordinator.Chat(cmd.Context(), message, func(delta string) {
		fmt.Fprint(out, delta)
	})
	fmt.Fprintln(out)
	if errors.Is(err, coordinator.ErrSuperseded) {
		return nil
	}
	return err
}

func runREPL(cmd *cobra.Command, sess *session) error {
	out := cmd.OutOrStdout()
	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		case "/clear":
			sess.messages.Clear(cmd.Context())
			fmt.Fprintln(out, "Conversation cleared.")
			continue
		}
		if err := sendMessage(cmd, sess, line); err != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), "Error:", err)
		}
		if cmd.Context().Err() != nil {
			return nil
		}
	}
}

func newTranscriptCmd(opts *options) *cobra.Command {
	var showReasoning bool

	cmd := &cobra.Command{
		Use:   "transcript",
		Short: "Print the stored conversation",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer sess.Close()

			printTranscript(cmd.OutOrStdout(), sess.messages.Messages(), showReasoning)
			return nil
		},
	}

	cmd.Flags().BoolVar(&showReasoning, "reasoning", false, "include the model's reasoning, dimmed")
	return cmd
}

func printTranscript(out io.Writer, messages []domain.ChatMessage, showReasoning bool) {
	if len(messages) == 0 {
		fmt.Fprintln(out, "No messages.")
		return
	}
	for _, m := range messages {
		stamp := time.UnixMilli(m.Timestamp).Format("2006-01-02 15:04:05")
		fmt.Fprintf(out, "[%s] %s:\n", stamp, m.Role)
		if m.Role != domain.RoleAssistant {
			fmt.Fprintln(out, m.Content)
			continue
		}
		reasoning, answer := domain.SplitThinking(m.Content)
		if showReasoning && strings.TrimSpace(reasoning) != "" {
			fmt.Fprintln(out, dim+strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(reasoning), "<think>"))+reset)
		}
		fmt.Fprintln(out, strings.TrimSpace(answer))
	}
}

package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"kbflow/internal/app"
	"kbflow/internal/model"
)

var sessionID string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to an agent",
}

var chatSendCmd = &cobra.Command{
	Use:   "send [agent-id] [message]",
	Short: "Send one message",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		reply, err := orch.SendMessage(cmd.Context(), args[0], strings.Join(args[1:], " "), sessionID)
		if reply != nil {
			if asJSON {
				if printErr := printJSON(cmd.OutOrStdout(), reply); printErr != nil {
					return printErr
				}
			} else {
				printReply(cmd.OutOrStdout(), reply)
			}
		}
		return err
	},
}

var chatHistoryCmd = &cobra.Command{
	Use:   "history [agent-id]",
	Short: "Show the server-side history of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conv, err := orch.LoadHistory(cmd.Context(), args[0], sessionID)
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(cmd.OutOrStdout(), conv)
		}
		if len(conv.Turns) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No previous history.")
			return nil
		}
		for _, t := range conv.Turns {
			printTurn(cmd.OutOrStdout(), t)
		}
		return nil
	},
}

var chatClearCmd = &cobra.Command{
	Use:   "clear [agent-id]",
	Short: "Clear a session's history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := orch.ClearHistory(cmd.Context(), args[0], sessionID)
		if err != nil {
			return err
		}
		if result.RemoteErr != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "Local history cleared; the service could not clear it: %v\n", result.RemoteErr)
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), "History cleared.")
		return nil
	},
}

var chatReplCmd = &cobra.Command{
	Use:   "repl [agent-id]",
	Short: "Chat interactively; /clear resets the session, /quit exits",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		agentID := args[0]
		conv := orch.SelectAgent(agentID)
		if sessionID != "" {
			var err error
			if conv, err = orch.LoadHistory(cmd.Context(), agentID, sessionID); err != nil {
				return err
			}
			for _, t := range conv.Turns {
				printTurn(cmd.OutOrStdout(), t)
			}
		}
		return repl(cmd, agentID, conv.SessionID)
	},
}

func repl(cmd *cobra.Command, agentID, session string) error {
	out := cmd.OutOrStdout()
	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/clear":
			if _, err := orch.ClearHistory(cmd.Context(), agentID, session); err != nil {
				fmt.Fprintln(out, "Error:", err)
			}
			session = ""
			continue
		}

		reply, err := orch.SendMessage(cmd.Context(), agentID, line, session)
		if reply != nil {
			printReply(out, reply)
			session = reply.SessionID
		} else if err != nil {
			fmt.Fprintln(out, "Error:", err)
		}
	}
}

func printReply(w io.Writer, reply *app.Reply) {
	if reply.Turn.Assistant != nil {
		fmt.Fprintln(w, reply.Turn.Assistant.Content)
	}
	for _, c := range reply.Citations {
		fmt.Fprintf(w, "  [%s] %s: %s\n", c.FolderName, c.DocumentTitle, c.Snippet)
	}
	if reply.SessionID != "" && !reply.Failed {
		fmt.Fprintf(w, "(session %s)\n", reply.SessionID)
	}
}

func printTurn(w io.Writer, t model.Turn) {
	fmt.Fprintf(w, "you: %s\n", t.User.Content)
	if t.Assistant != nil {
		fmt.Fprintf(w, "agent: %s\n", t.Assistant.Content)
	}
}

func init() {
	for _, c := range []*cobra.Command{chatSendCmd, chatHistoryCmd, chatClearCmd, chatReplCmd} {
		c.Flags().StringVar(&sessionID, "session", "", "Session id to continue")
	}
	chatCmd.AddCommand(chatSendCmd, chatHistoryCmd, chatClearCmd, chatReplCmd)
}

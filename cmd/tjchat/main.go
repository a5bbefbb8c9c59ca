package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/trenchjob/tjchat/internal/auth"
	"github.com/trenchjob/tjchat/internal/session"
	"github.com/trenchjob/tjchat/internal/store"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	switch args[0] {
	case "login":
		cmdLogin(sessionName, args[1:])
	case "status":
		cmdStatus(sessionName, *jsonFlag)
	case "conversations":
		cmdConversations(sessionName, *jsonFlag)
	case "messages":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: tjchat messages <conversation-id>")
			os.Exit(1)
		}
		cmdMessages(sessionName, args[1], *jsonFlag)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: tjchat [--session <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  login [token]        Store the marketplace bearer token (reads stdin if omitted)")
	fmt.Fprintln(os.Stderr, "  status               Show session and token status")
	fmt.Fprintln(os.Stderr, "  conversations        List mirrored conversations")
	fmt.Fprintln(os.Stderr, "  messages <conv-id>   Show mirrored messages for a conversation")
}

func cmdLogin(sessionName string, args []string) {
	var token string
	if len(args) > 0 {
		token = args[0]
	} else {
		fmt.Fprintln(os.Stderr, "paste token:")
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 64*1024), 64*1024)
		if scanner.Scan() {
			token = strings.TrimSpace(scanner.Text())
		}
	}
	if token == "" {
		fmt.Fprintln(os.Stderr, "error: empty token")
		os.Exit(1)
	}

	claims, err := auth.Parse(token)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if claims.Expired(time.Now()) {
		fmt.Fprintf(os.Stderr, "error: token expired at %s\n", claims.ExpiresAt.Format(time.RFC3339))
		os.Exit(1)
	}

	if err := auth.SaveToken(session.TokenPath(sessionName), token); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Token stored for %s (user %s). Restart tjchatd to connect.\n", sessionName, claims.UserID)
}

func cmdStatus(sessionName string, jsonOut bool) {
	out := map[string]any{
		"session": sessionName,
		"token":   "missing",
	}
	if token, err := auth.LoadToken(session.TokenPath(sessionName)); err == nil {
		if claims, err := auth.Parse(token); err == nil {
			switch {
			case claims.Expired(time.Now()):
				out["token"] = "expired"
			default:
				out["token"] = "valid"
			}
			out["user_id"] = claims.UserID
			out["username"] = claims.Username
			if !claims.ExpiresAt.IsZero() {
				out["expires_at"] = claims.ExpiresAt.Format(time.RFC3339)
			}
		}
	}

	if db, err := store.Open(session.DBPath(sessionName)); err == nil {
		if total, err := db.TotalUnread(); err == nil {
			out["unread_total"] = total
		}
		_ = db.Close()
	}

	if jsonOut {
		outputJSON(out)
		return
	}
	fmt.Printf("Session: %s\n", out["session"])
	fmt.Printf("Token:   %s\n", out["token"])
	if u, ok := out["username"]; ok {
		fmt.Printf("User:    %s (%s)\n", u, out["user_id"])
	}
	if n, ok := out["unread_total"]; ok {
		fmt.Printf("Unread:  %d\n", n)
	}
}

func cmdConversations(sessionName string, jsonOut bool) {
	db := openMirror(sessionName)
	defer func() { _ = db.Close() }()

	convs, err := db.ListConversations(100, 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if jsonOut {
		outputJSON(convs)
		return
	}
	for _, c := range convs {
		marker := " "
		if c.UnreadCount > 0 {
			marker = fmt.Sprintf("%d", c.UnreadCount)
		}
		title := c.ContextTitle
		if title == "" {
			title = c.ID
		}
		fmt.Printf("%-3s %-36s %s\n", marker, c.ID, title)
		if c.LastMessagePreview != "" {
			fmt.Printf("    %s\n", c.LastMessagePreview)
		}
	}
}

func cmdMessages(sessionName, conversationID string, jsonOut bool) {
	db := openMirror(sessionName)
	defer func() { _ = db.Close() }()

	msgs, err := db.ListMessages(conversationID, 0, 50)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if jsonOut {
		outputJSON(msgs)
		return
	}
	// Stored newest first; print oldest first.
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		ts := time.UnixMilli(m.CreatedAt).Format("2006-01-02 15:04")
		fmt.Printf("[%s] %s: %s\n", ts, m.SenderName, m.Body)
	}
}

func openMirror(sessionName string) *store.DB {
	db, err := store.Open(session.DBPath(sessionName))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot open mirror for session %q: %v\n", sessionName, err)
		os.Exit(1)
	}
	return db
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

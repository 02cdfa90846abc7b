// Command messenger is an interactive client for the realtime gateway.
//
// Lines read from stdin are commands:
//
//	/join <conversation>   switch the active conversation
//	/leave                 leave the active conversation
//	/who                   list who is typing in the active conversation
//	/quit                  disconnect and exit
//
// Any other line sends a typing signal to the active conversation.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/eventflow/realtime/internal/auth"
	"github.com/eventflow/realtime/internal/client"
	"github.com/eventflow/realtime/internal/config"
	"go.uber.org/zap"
)

func main() {
	url := flag.String("url", "ws://localhost:8083/ws", "gateway websocket url")
	userID := flag.String("user", "", "user id to authenticate as")
	token := flag.String("token", "", "bearer token; issued locally when -secret is set")
	secret := flag.String("secret", os.Getenv("JWT_SECRET"), "HS256 secret for issuing a development token")
	room := flag.String("join", "", "conversation to join after connecting")
	verbose := flag.Bool("v", false, "log client internals")
	flag.Parse()

	log := zap.NewNop()
	if *verbose {
		l, err := zap.NewDevelopment()
		if err == nil {
			log = l
		}
	}
	defer log.Sync()

	if *userID == "" {
		fmt.Fprintln(os.Stderr, "messenger: -user is required")
		os.Exit(2)
	}
	if *token == "" && *secret != "" {
		t, err := auth.Issue(*secret, *userID, os.Getenv("JWT_ISSUER"), os.Getenv("JWT_AUDIENCE"), 24*time.Hour)
		if err != nil {
			fmt.Fprintln(os.Stderr, "messenger: issue token:", err)
			os.Exit(1)
		}
		*token = t
	}

	policy := config.Default().Reconnect
	cfg, err := config.Load()
	if err == nil {
		policy = cfg.Reconnect
	}

	c := client.New(*url,
		client.WithLogger(log),
		client.WithReconnect(policy.MaxAttempts, policy.BaseDelay, policy.MaxDelay),
	)
	subscribe(c)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := c.Connect(ctx, *userID, *token); err != nil {
		fmt.Fprintln(os.Stderr, "messenger:", err)
		os.Exit(1)
	}
	defer c.Disconnect()

	if *room != "" {
		c.JoinConversation(*room)
	}

	go heartbeat(ctx, c)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok || !handleLine(c, strings.TrimSpace(line)) {
				return
			}
		}
	}
}

func subscribe(c *client.Client) {
	c.Subscribe(client.TopicConnected, func(ev client.Event) {
		fmt.Printf("* connected (socket %s)\n", ev.SocketID)
	})
	c.Subscribe(client.TopicDisconnected, func(ev client.Event) {
		fmt.Printf("* disconnected: %v\n", ev.Err)
	})
	c.Subscribe(client.TopicConnectionFailed, func(ev client.Event) {
		fmt.Printf("* gave up after %d attempts: %v\n", ev.Attempts, ev.Err)
	})
	c.Subscribe(client.TopicPresence, func(ev client.Event) {
		fmt.Printf("* %s is %s\n", ev.Frame.UserID, ev.Frame.State)
	})
	c.Subscribe(client.TopicTyping, func(ev client.Event) {
		verb := "stopped typing"
		if ev.Frame.IsTyping {
			verb = "is typing"
		}
		fmt.Printf("* [%s] %s %s\n", ev.Frame.ConversationID, ev.Frame.UserID, verb)
	})
	c.Subscribe(client.TopicNewMessage, func(ev client.Event) {
		fmt.Printf("[%s] %s: %s\n", ev.Frame.ConversationID, ev.Frame.SenderID, ev.Frame.Body)
	})
}

// heartbeat keeps the session ONLINE while the CLI sits idle.
func heartbeat(ctx context.Context, c *client.Client) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Heartbeat()
		}
	}
}

// handleLine runs one command and reports whether to keep going.
func handleLine(c *client.Client, line string) bool {
	cmd, arg, _ := strings.Cut(line, " ")
	active := c.ActiveConversation()

	switch cmd {
	case "":
	case "/quit":
		return false
	case "/join":
		if arg == "" {
			fmt.Println("usage: /join <conversation>")
			return true
		}
		if active != "" && active != arg {
			c.LeaveConversation(active)
		}
		c.JoinConversation(arg)
	case "/leave":
		if active != "" {
			c.LeaveConversation(active)
		}
	case "/who":
		if active == "" {
			fmt.Println("no active conversation")
			return true
		}
		fmt.Printf("typing in %s: %s\n", active, strings.Join(c.TypingUsers(active), ", "))
	default:
		if active == "" {
			fmt.Println("join a conversation first")
			return true
		}
		c.SendTyping(active, true)
	}
	return true
}

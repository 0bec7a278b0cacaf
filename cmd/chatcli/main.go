/*
Package main is a line-oriented terminal client for relaychat.

It signs in over REST, opens a socket session through the bridge and prints incoming
messages, notifications and presence changes. Lines that do not start with a slash are
sent to the open conversation.
*/
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"relaychat/internal/app/chat"
	"relaychat/internal/app/realtime"
	"relaychat/internal/app/user"
	"relaychat/internal/client/api"
	"relaychat/internal/client/bridge"
	"relaychat/internal/client/state"
	"relaychat/internal/configs"
	"relaychat/internal/pkg/logx"
)

const historyLimit = 50

const help = `commands:
  /chats              list conversations
  /open <n|chat id>   open a conversation from /chats
  /dm <search>        open a direct conversation with the first matching user
  /group <name> <search>,<search>,...  create a group
  /online             list online users
  /close              close the open conversation
  /help               show this text
  /quit               exit
anything else is sent to the open conversation`

type app struct {
	rest   *api.Client
	bridge *bridge.Bridge
	me     user.Profile
	out    io.Writer

	mu      sync.Mutex
	listing []string
	shown   map[string]struct{}
}

func main() {
	cfg, err := configs.LoadClientConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "chatcli: %v\n", err)
		os.Exit(2)
	}

	logx.InitGlobalLogger(true)
	if !cfg.Verbose {
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "chatcli: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *configs.ClientConfig) error {
	rest, err := api.New(cfg.Server)
	if err != nil {
		return err
	}

	var session *api.Session
	if cfg.Register {
		session, err = rest.Register(ctx, cfg.Name, cfg.Email, cfg.Password)
	} else {
		session, err = rest.Login(ctx, cfg.Email, cfg.Password)
	}
	if err != nil {
		return fmt.Errorf("sign in: %w", err)
	}

	a := &app{rest: rest, me: session.User, out: os.Stdout, shown: make(map[string]struct{})}

	a.bridge, err = bridge.Dial(ctx, bridge.Config{
		URL:      rest.SocketURL(),
		Token:    rest.Token(),
		Observer: a.observe,
	}, session.User, state.New(session.User.ID))
	if err != nil {
		return err
	}
	defer a.bridge.Close()

	chats, err := rest.Chats(ctx)
	if err != nil {
		return err
	}
	if err := a.bridge.State(ctx, func(st *state.Store) { st.SetChats(chats) }); err != nil {
		return err
	}

	fmt.Fprintf(a.out, "signed in as %s (%s)\n%s\n", session.User.Name, session.User.Email, help)
	a.printChats(ctx)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-a.bridge.Done():
			return errors.New("connection lost")
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := a.handle(ctx, strings.TrimSpace(line))
			if err != nil {
				fmt.Fprintf(a.out, "! %v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}

func (a *app) handle(ctx context.Context, line string) (bool, error) {
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		return false, a.send(ctx, line)
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		fmt.Fprintln(a.out, help)
	case "/chats":
		return false, a.refreshChats(ctx)
	case "/open":
		return false, a.open(ctx, arg)
	case "/dm":
		return false, a.direct(ctx, arg)
	case "/group":
		return false, a.group(ctx, arg)
	case "/online":
		return false, a.online(ctx)
	case "/close":
		return false, a.bridge.CloseChat(ctx)
	default:
		return false, fmt.Errorf("unknown command %s, try /help", cmd)
	}
	return false, nil
}

func (a *app) refreshChats(ctx context.Context) error {
	chats, err := a.rest.Chats(ctx)
	if err != nil {
		return err
	}
	if err := a.bridge.State(ctx, func(st *state.Store) { st.SetChats(chats) }); err != nil {
		return err
	}
	a.printChats(ctx)
	return nil
}

func (a *app) printChats(ctx context.Context) {
	var summaries []state.ChatSummary
	var online map[string]bool
	_ = a.bridge.State(ctx, func(st *state.Store) {
		summaries = st.Chats()
		online = make(map[string]bool)
		for _, id := range st.OnlineUsers() {
			online[id] = true
		}
	})

	listing := make([]string, 0, len(summaries))
	for i, c := range summaries {
		listing = append(listing, c.ID)

		line := fmt.Sprintf("%2d. %s", i+1, a.title(c.Chat, online))
		if c.Unread > 0 {
			line += fmt.Sprintf(" [%d unread]", c.Unread)
		}
		if c.LatestMessage != nil {
			line += " | " + preview(*c.LatestMessage)
		}
		fmt.Fprintln(a.out, line)
	}
	if len(summaries) == 0 {
		fmt.Fprintln(a.out, "no conversations yet, start one with /dm")
	}

	a.mu.Lock()
	a.listing = listing
	a.mu.Unlock()
}

func (a *app) title(c chat.Chat, online map[string]bool) string {
	if c.IsGroup {
		return c.Name + " (group)"
	}
	for _, u := range c.Users {
		if u.ID != a.me.ID {
			if online[u.ID] {
				return u.Name + " *"
			}
			return u.Name
		}
	}
	return c.Name
}

func preview(m chat.Message) string {
	text := m.Content
	if text == "" && m.ImageKey != "" {
		text = "[image]"
	}
	if len([]rune(text)) > 40 {
		text = string([]rune(text)[:40]) + "..."
	}
	return m.Sender.Name + ": " + text
}

func (a *app) open(ctx context.Context, arg string) error {
	chatID := arg
	if n, err := strconv.Atoi(arg); err == nil {
		a.mu.Lock()
		if n < 1 || n > len(a.listing) {
			a.mu.Unlock()
			return fmt.Errorf("no conversation %d, see /chats", n)
		}
		chatID = a.listing[n-1]
		a.mu.Unlock()
	}
	if chatID == "" {
		return errors.New("usage: /open <n|chat id>")
	}

	history, err := a.rest.Messages(ctx, chatID, historyLimit)
	if err != nil {
		return err
	}
	if err := a.bridge.OpenChat(ctx, chatID, history); err != nil {
		return err
	}

	a.mu.Lock()
	for _, m := range history {
		a.shown[m.ID] = struct{}{}
	}
	a.mu.Unlock()

	for _, m := range history {
		a.printMessage(m)
	}
	fmt.Fprintf(a.out, "-- %d messages --\n", len(history))
	return nil
}

func (a *app) direct(ctx context.Context, search string) error {
	if search == "" {
		return errors.New("usage: /dm <search>")
	}
	found, err := a.rest.SearchUsers(ctx, search, 1)
	if err != nil {
		return err
	}
	if len(found) == 0 {
		return fmt.Errorf("nobody matches %q", search)
	}

	c, err := a.rest.AccessChat(ctx, found[0].ID)
	if err != nil {
		return err
	}
	if err := a.bridge.State(ctx, func(st *state.Store) { st.UpsertChat(c) }); err != nil {
		return err
	}
	return a.open(ctx, c.ID)
}

func (a *app) group(ctx context.Context, arg string) error {
	name, members, ok := strings.Cut(arg, " ")
	if !ok || name == "" {
		return errors.New("usage: /group <name> <search>,<search>,...")
	}

	var ids []string
	for _, search := range strings.Split(members, ",") {
		search = strings.TrimSpace(search)
		if search == "" {
			continue
		}
		found, err := a.rest.SearchUsers(ctx, search, 1)
		if err != nil {
			return err
		}
		if len(found) == 0 {
			return fmt.Errorf("nobody matches %q", search)
		}
		ids = append(ids, found[0].ID)
	}

	g, err := a.rest.CreateGroup(ctx, name, ids)
	if err != nil {
		return err
	}
	if err := a.bridge.State(ctx, func(st *state.Store) { st.UpsertChat(g) }); err != nil {
		return err
	}
	return a.open(ctx, g.ID)
}

func (a *app) online(ctx context.Context) error {
	ids, err := a.rest.OnlineUsers(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%d online: %s\n", len(ids), strings.Join(ids, ", "))
	return nil
}

func (a *app) send(ctx context.Context, text string) error {
	var chatID string
	if err := a.bridge.State(ctx, func(st *state.Store) { chatID = st.SelectedChat() }); err != nil {
		return err
	}
	if chatID == "" {
		return errors.New("no conversation open, use /open or /dm")
	}

	m, err := a.rest.SendMessage(ctx, chatID, text, "")
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.shown[m.ID] = struct{}{}
	a.mu.Unlock()

	return a.bridge.PublishMessage(ctx, m)
}

func (a *app) printMessage(m chat.Message) {
	fmt.Fprintf(a.out, "[%s] %s: %s\n", m.CreatedAt.Local().Format(time.Kitchen), m.Sender.Name, messageText(m))
}

func messageText(m chat.Message) string {
	if m.ImageURL != "" {
		return strings.TrimSpace(m.Content + " " + m.ImageURL)
	}
	return m.Content
}

// observe runs on the bridge loop.
func (a *app) observe(event realtime.EventName, st *state.Store) {
	switch event {
	case realtime.EventMessageReceived:
		msgs := st.Messages()
		if len(msgs) > 0 {
			a.printOnce(msgs[len(msgs)-1], "")
		}

	case realtime.EventNotification:
		notes := st.Notifications()
		if len(notes) > 0 {
			n := notes[len(notes)-1]
			a.printOnce(n.Message, fmt.Sprintf("(%s, %d unread) ", a.title(n.Chat, nil), st.Unread(n.Chat.ID)))
		}

	case realtime.EventTyping:
		if chatID := st.TypingChat(); chatID != "" && chatID == st.SelectedChat() {
			fmt.Fprintln(a.out, "... typing")
		}

	case bridge.EventDisconnected:
		fmt.Fprintln(a.out, "! disconnected")
	}
}

func (a *app) printOnce(m chat.Message, prefix string) {
	a.mu.Lock()
	_, seen := a.shown[m.ID]
	a.shown[m.ID] = struct{}{}
	a.mu.Unlock()

	if !seen && m.Sender.ID != a.me.ID {
		fmt.Fprint(a.out, prefix)
		a.printMessage(m)
	}
}

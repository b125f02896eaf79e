// Command supportchat-cli is a terminal customer client for the support chat.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"support-chat-service/internal/models"
	"support-chat-service/internal/reconcile"
	"support-chat-service/internal/ws"
)

func main() {
	server := flag.String("server", "http://localhost:8083", "support chat base URL")
	token := flag.String("token", os.Getenv("SUPPORT_CHAT_TOKEN"), "customer access token")
	confirmTimeout := flag.Duration("confirm-timeout", 10*time.Second, "mark unconfirmed sends failed after this long")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).With().Timestamp().Logger()
	if *token == "" {
		log.Fatal().Msg("a token is required (-token or SUPPORT_CHAT_TOKEN)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *server, *token, *confirmTimeout, log); err != nil {
		log.Fatal().Err(err).Msg("support chat client stopped")
	}
}

func run(ctx context.Context, server, token string, confirmTimeout time.Duration, log zerolog.Logger) error {
	timeline := reconcile.NewTimeline()

	history, err := fetchHistory(ctx, server, token)
	if err != nil {
		return err
	}
	timeline.Load(history)

	conn, err := dial(ctx, server, token)
	if err != nil {
		return err
	}
	defer conn.Close()

	changed := make(chan struct{}, 1)
	notify := func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	}
	notify()

	readErr := make(chan error, 1)
	go func() { readErr <- readFrames(conn, timeline, notify, log) }()

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			return err
		case <-changed:
			render(timeline.Entries())
		case <-ticker.C:
			if timeline.Expire(confirmTimeout) > 0 {
				notify()
			}
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			body := strings.TrimSpace(line)
			if body == "" {
				continue
			}
			entry := timeline.AddProvisional(body, models.RoleCustomer)
			frame, err := models.EncodeFrame(models.EventSendMessage, ws.SendMessage{Message: body, ClientID: entry.ClientID})
			if err != nil {
				return err
			}
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				timeline.Reject(entry.ClientID, err.Error())
			}
			notify()
		}
	}
}

func readFrames(conn *websocket.Conn, timeline *reconcile.Timeline, notify func(), log zerolog.Logger) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("connection closed: %w", err)
		}
		var frame models.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			log.Warn().Err(err).Msg("skipping malformed frame")
			continue
		}

		switch frame.Event {
		case models.EventNewMessage:
			var msg models.Message
			if json.Unmarshal(frame.Data, &msg) == nil {
				timeline.Confirm(msg)
			}
		case models.EventMessageDeleted:
			var ev models.ConversationMessageEvent
			if json.Unmarshal(frame.Data, &ev) == nil {
				timeline.Remove(ev.Message.ID)
			}
		case models.EventMessageRestored:
			var ev models.ConversationMessageEvent
			if json.Unmarshal(frame.Data, &ev) == nil {
				timeline.Restore(ev.Message)
			}
		case models.EventError:
			var ev models.ErrorEvent
			if json.Unmarshal(frame.Data, &ev) == nil {
				if !timeline.Reject(ev.ClientID, ev.Message) {
					log.Warn().Str("error", ev.Message).Msg("server error")
				}
			}
		default:
			continue
		}
		notify()
	}
}

func fetchHistory(ctx context.Context, server, token string) ([]models.Message, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(server, "/")+"/chat/messages", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("load history: %s", resp.Status)
	}

	var body struct {
		Messages []models.Message `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return body.Messages, nil
}

func dial(ctx context.Context, server, token string) (*websocket.Conn, error) {
	u, err := url.Parse(strings.TrimRight(server, "/") + "/ws")
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %s", u.Host, resp.Status)
		}
		return nil, fmt.Errorf("dial %s: %w", u.Host, err)
	}
	return conn, nil
}

func render(entries []reconcile.Entry) {
	fmt.Print("\033[H\033[2J")
	for _, e := range entries {
		who := "you"
		if e.SenderRole == models.RoleAdmin {
			who = "support"
		}
		mark := ""
		switch e.State {
		case reconcile.StatePending:
			mark = " (sending)"
		case reconcile.StateFailed:
			mark = " (failed: " + e.Error + ")"
		}
		fmt.Printf("[%s] %-7s %s%s\n", e.CreatedAt.Local().Format("15:04"), who, e.Body, mark)
	}
	fmt.Print("> ")
}

// Package onebot connects to a OneBot v11 implementation over a forward
// websocket, turns message events into plugin events and sends replies.
package onebot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/throw-if-null/easel/internal/config"
	"github.com/throw-if-null/easel/internal/plugin"
	"github.com/throw-if-null/easel/internal/reply"
)

var (
	ErrNotConnected = errors.New("onebot websocket not connected")
	ErrAPI          = errors.New("onebot api call failed")
)

// Handler consumes chat events. Each event is handled in its own goroutine.
type Handler interface {
	Handle(ctx context.Context, ev plugin.Event) bool
}

type apiRequest struct {
	Action string `json:"action"`
	Params any    `json:"params"`
	Echo   string `json:"echo"`
}

type Client struct {
	url         string
	token       string
	reconnect   time.Duration
	callTimeout time.Duration
	log         logrus.FieldLogger

	mu   sync.Mutex
	conn *websocket.Conn

	writeMu sync.Mutex

	waitMu  sync.Mutex
	waiters map[string]chan gjson.Result

	handlers sync.WaitGroup
}

type Option func(*Client)

func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Client) { c.log = l }
}

// WithCallTimeout bounds how long an API call waits for its echo.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) { c.callTimeout = d }
}

func New(cfg config.BotConfig, opts ...Option) *Client {
	c := &Client{
		url:         cfg.WSURL,
		token:       cfg.AccessToken,
		reconnect:   time.Duration(cfg.ReconnectIntervalMS) * time.Millisecond,
		callTimeout: 10 * time.Second,
		log:         logrus.StandardLogger(),
		waiters:     map[string]chan gjson.Result{},
	}
	if c.reconnect <= 0 {
		c.reconnect = 5 * time.Second
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Run keeps a connection open until ctx is done, reconnecting after each
// drop, and feeds message events to h. It waits for in-flight handlers
// before returning.
func (c *Client) Run(ctx context.Context, h Handler) error {
	if c.url == "" {
		return fmt.Errorf("%w: bot.ws_url is empty", config.ErrInvalid)
	}
	defer c.handlers.Wait()
	for {
		err := c.session(ctx, h)
		if ctx.Err() != nil {
			return nil
		}
		c.log.WithError(err).WithField("retry_in", c.reconnect).Warn("onebot connection lost")
		t := time.NewTimer(c.reconnect)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

func (c *Client) session(ctx context.Context, h Handler) error {
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second
	conn, _, err := dialer.DialContext(ctx, c.url, header)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.log.WithField("ws_url", c.url).Info("onebot connected")

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()
	defer func() {
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if !gjson.ValidBytes(data) {
			c.log.WithField("length", len(data)).Warn("onebot sent invalid json")
			continue
		}
		raw := gjson.ParseBytes(data)
		if echo := raw.Get("echo").String(); echo != "" {
			c.dispatch(echo, raw)
			continue
		}
		switch raw.Get("post_type").String() {
		case "message":
			ev := parseMessage(raw)
			c.handlers.Add(1)
			go func() {
				defer c.handlers.Done()
				h.Handle(ctx, ev)
			}()
		case "meta_event":
			c.log.WithField("type", raw.Get("meta_event_type").String()).Debug("onebot meta event")
		}
	}
}

func (c *Client) dispatch(echo string, resp gjson.Result) {
	c.waitMu.Lock()
	w := c.waiters[echo]
	c.waitMu.Unlock()
	if w == nil {
		return
	}
	select {
	case w <- resp:
	default:
	}
}

// parseMessage reads a message event. Array and string message formats
// are both accepted; images and the quoted id come from array segments.
func parseMessage(raw gjson.Result) plugin.Event {
	ev := plugin.Event{
		MessageID: raw.Get("message_id").String(),
		UserID:    raw.Get("user_id").Int(),
		GroupID:   raw.Get("group_id").Int(),
		SelfID:    raw.Get("self_id").Int(),
	}
	if raw.Get("message_type").String() != "group" {
		ev.GroupID = 0
	}
	ev.SenderName = raw.Get("sender.card").String()
	if ev.SenderName == "" {
		ev.SenderName = raw.Get("sender.nickname").String()
	}

	msg := raw.Get("message")
	if !msg.IsArray() {
		ev.Text = strings.TrimSpace(raw.Get("raw_message").String())
		if ev.Text == "" {
			ev.Text = strings.TrimSpace(msg.String())
		}
		return ev
	}
	var sb strings.Builder
	ev.Images = imageURLs(msg)
	msg.ForEach(func(_, seg gjson.Result) bool {
		switch seg.Get("type").String() {
		case "text":
			sb.WriteString(seg.Get("data.text").String())
		case "reply":
			ev.QuotedID = seg.Get("data.id").String()
		}
		return true
	})
	ev.Text = strings.TrimSpace(sb.String())
	return ev
}

func imageURLs(msg gjson.Result) []string {
	var out []string
	msg.ForEach(func(_, seg gjson.Result) bool {
		if seg.Get("type").String() != "image" {
			return true
		}
		u := seg.Get("data.url").String()
		if u == "" {
			u = seg.Get("data.file").String()
		}
		if u != "" {
			out = append(out, u)
		}
		return true
	})
	return out
}

// Call invokes a OneBot API action and returns its data field.
func (c *Client) Call(ctx context.Context, action string, params any) (gjson.Result, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return gjson.Result{}, ErrNotConnected
	}

	echo := uuid.NewString()
	w := make(chan gjson.Result, 1)
	c.waitMu.Lock()
	c.waiters[echo] = w
	c.waitMu.Unlock()
	defer func() {
		c.waitMu.Lock()
		delete(c.waiters, echo)
		c.waitMu.Unlock()
	}()

	payload, err := json.Marshal(apiRequest{Action: action, Params: params, Echo: echo})
	if err != nil {
		return gjson.Result{}, fmt.Errorf("encode %s: %w", action, err)
	}
	c.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, payload)
	c.writeMu.Unlock()
	if err != nil {
		return gjson.Result{}, fmt.Errorf("write %s: %w", action, err)
	}

	t := time.NewTimer(c.callTimeout)
	defer t.Stop()
	select {
	case resp := <-w:
		if resp.Get("status").String() == "failed" || resp.Get("retcode").Int() != 0 {
			return resp, fmt.Errorf("%w: %s retcode=%d %s", ErrAPI, action, resp.Get("retcode").Int(), resp.Get("wording").String())
		}
		return resp.Get("data"), nil
	case <-t.C:
		return gjson.Result{}, fmt.Errorf("%w: %s timed out", ErrAPI, action)
	case <-ctx.Done():
		return gjson.Result{}, ctx.Err()
	}
}

func target(ev plugin.Event) (kind string, params map[string]any) {
	if ev.GroupID != 0 {
		return "group", map[string]any{"group_id": ev.GroupID}
	}
	return "private", map[string]any{"user_id": ev.UserID}
}

func (c *Client) Send(ctx context.Context, ev plugin.Event, msg reply.Message) error {
	kind, params := target(ev)
	params["message"] = msg
	_, err := c.Call(ctx, "send_"+kind+"_msg", params)
	return err
}

type node struct {
	Type string   `json:"type"`
	Data nodeData `json:"data"`
}

type nodeData struct {
	Name    string        `json:"name"`
	UIN     string        `json:"uin"`
	Content reply.Message `json:"content"`
}

func (c *Client) SendForward(ctx context.Context, ev plugin.Event, f reply.Forward) error {
	kind, params := target(ev)
	nodes := make([]node, 0, len(f.Nodes))
	for _, n := range f.Nodes {
		nodes = append(nodes, node{Type: "node", Data: nodeData{Name: n.Name, UIN: strconv.FormatInt(n.UIN, 10), Content: n.Content}})
	}
	params["messages"] = nodes
	if f.Summary != "" {
		params["summary"] = f.Summary
		params["prompt"] = f.Summary
	}
	_, err := c.Call(ctx, "send_"+kind+"_forward_msg", params)
	return err
}

// QuotedImages fetches messageID with get_msg and returns its image urls.
func (c *Client) QuotedImages(ctx context.Context, messageID string) ([]string, error) {
	var id any = messageID
	if n, err := strconv.ParseInt(messageID, 10, 64); err == nil {
		id = n
	}
	data, err := c.Call(ctx, "get_msg", map[string]any{"message_id": id})
	if err != nil {
		return nil, err
	}
	return imageURLs(data.Get("message")), nil
}

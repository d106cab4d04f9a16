package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/five82/clanhub/internal/model"
)

// ConnState reports the health of the shared realtime connection.
type ConnState int

const (
	Disconnected ConnState = iota
	Connected
	// Reconnected follows a Disconnected; events in between were lost.
	Reconnected
)

func (s ConnState) String() string {
	switch s {
	case Connected:
		return "connected"
	case Reconnected:
		return "reconnected"
	default:
		return "disconnected"
	}
}

// Change is a decoded change event for one table.
type Change struct {
	Table model.Kind
	Event model.Event
}

// Subscription asks for every change on a table, optionally narrowed by a
// server-side equality filter such as "user_id=eq.42".
type Subscription struct {
	Table  model.Kind
	Filter string
}

// Options configure a Client.
type Options struct {
	// URL is the project or realtime base URL; see EndpointURL.
	URL    string
	APIKey string

	// Token returns the access token sent with each join. Nil sends none.
	Token func() string

	Heartbeat     time.Duration
	ReconnectBase time.Duration
	Dialer        *websocket.Dialer
	Logger        *log.Logger
}

const (
	defaultHeartbeat = 25 * time.Second
	writeWait        = 10 * time.Second
	channelBuffer    = 256
)

// Client multiplexes every table's change feed over one websocket.
type Client struct {
	endpoint  string
	token     func() string
	heartbeat time.Duration
	base      time.Duration
	dialer    *websocket.Dialer
	logger    *log.Logger

	changes chan Change
	states  chan ConnState

	done      chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	subs    []Subscription
	conn    *websocket.Conn
	rejoins map[model.Kind]*rejoin

	writeMu sync.Mutex
}

// rejoin tracks a channel the server closed while the socket stayed up.
// timer is set while a join is scheduled; otherwise the join is awaiting its reply.
type rejoin struct {
	attempts int
	timer    *time.Timer
}

// New builds a Client. Nothing is dialed until Run.
func New(opts Options) (*Client, error) {
	endpoint, err := EndpointURL(opts.URL, opts.APIKey)
	if err != nil {
		return nil, err
	}
	heartbeat := opts.Heartbeat
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	token := opts.Token
	if token == nil {
		token = func() string { return "" }
	}
	return &Client{
		endpoint:  endpoint,
		token:     token,
		heartbeat: heartbeat,
		base:      opts.ReconnectBase,
		dialer:    dialer,
		logger:    logger,
		changes:   make(chan Change, channelBuffer),
		states:    make(chan ConnState, channelBuffer),
		done:      make(chan struct{}),
		rejoins:   make(map[model.Kind]*rejoin),
	}, nil
}

// EndpointURL derives the websocket endpoint from a project or realtime URL.
// http(s) schemes are mapped to ws(s); a bare host gets wss.
func EndpointURL(raw, apiKey string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("realtime url is required")
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "wss://" + trimmed
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("parse realtime url %q: %w", raw, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("parse realtime url %q: unsupported scheme %q", raw, u.Scheme)
	}
	path := strings.TrimRight(u.Path, "/")
	if path == "" {
		path = "/realtime/v1"
	}
	if !strings.HasSuffix(path, "/websocket") {
		path += "/websocket"
	}
	u.Path = path
	q := url.Values{}
	if key := strings.TrimSpace(apiKey); key != "" {
		q.Set("apikey", key)
	}
	q.Set("vsn", "1.0.0")
	u.RawQuery = q.Encode()
	u.Fragment = ""
	return u.String(), nil
}

// Changes delivers decoded events in arrival order. It is closed when Run returns.
func (c *Client) Changes() <-chan Change {
	return c.changes
}

// States delivers connection transitions. It is closed when Run returns.
func (c *Client) States() <-chan ConnState {
	return c.states
}

// Subscribe adds a table feed. When already connected the join is sent
// immediately; otherwise it is sent on the next connect.
func (c *Client) Subscribe(sub Subscription) {
	c.mu.Lock()
	replaced := false
	for i, existing := range c.subs {
		if existing.Table == sub.Table {
			c.subs[i] = sub
			replaced = true
		}
	}
	if !replaced {
		c.subs = append(c.subs, sub)
	}
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		if err := c.join(conn, sub); err != nil {
			c.logger.Printf("realtime join %s failed: %v", sub.Table, err)
		}
	}
}

// PushToken sends the current access token to every joined channel so the
// server keeps authorizing them after a session refresh.
func (c *Client) PushToken() {
	token := c.token()
	if token == "" {
		return
	}
	c.mu.Lock()
	subs := append([]Subscription(nil), c.subs...)
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}

	payload, err := json.Marshal(tokenPayload{AccessToken: token})
	if err != nil {
		return
	}
	for _, sub := range subs {
		if err := c.write(conn, frame{Topic: topicFor(sub.Table), Event: eventAccessToken, Payload: payload, Ref: uuid.NewString()}); err != nil {
			c.logger.Printf("realtime token push %s failed: %v", sub.Table, err)
			return
		}
	}
}

// Run connects and keeps the connection alive, reconnecting with backoff,
// until ctx is cancelled or Close is called. It must be called once.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.changes)
	defer close(c.states)

	failures := 0
	connectedBefore := false
	for {
		if c.stopped(ctx) {
			return nil
		}
		conn, _, err := c.dialer.DialContext(ctx, c.endpoint, nil)
		if err != nil {
			wait := calculateBackoff(failures, c.base)
			failures++
			c.logger.Printf("realtime connect failed (attempt %d): %v; retrying in %s", failures, err, wait)
			if !c.sleep(ctx, wait) {
				return nil
			}
			continue
		}
		failures = 0

		if !c.attach(conn) {
			_ = conn.Close()
			return nil
		}
		if err := c.joinAll(conn); err != nil {
			c.logger.Printf("realtime join failed: %v", err)
			c.detach(conn)
			if !c.sleep(ctx, calculateBackoff(0, c.base)) {
				return nil
			}
			continue
		}

		state := Connected
		if connectedBefore {
			state = Reconnected
		}
		connectedBefore = true
		if !c.emitState(ctx, state) {
			c.detach(conn)
			return nil
		}

		err = c.serve(ctx, conn)
		c.detach(conn)
		if c.stopped(ctx) {
			return nil
		}
		c.logger.Printf("realtime connection lost: %v", err)
		if !c.emitState(ctx, Disconnected) {
			return nil
		}
		if !c.sleep(ctx, calculateBackoff(0, c.base)) {
			return nil
		}
	}
}

// Close terminates every feed at once. Run returns shortly after.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn != nil {
			c.writeMu.Lock()
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			c.writeMu.Unlock()
			_ = conn.Close()
		}
	})
	return nil
}

func (c *Client) serve(ctx context.Context, conn *websocket.Conn) error {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	hbDone := make(chan struct{})
	defer close(hbDone)
	go c.heartbeatLoop(conn, hbDone)

	readTimeout := 2 * c.heartbeat
	for {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if !c.handle(ctx, conn, data) {
			return errors.New("client stopped")
		}
	}
}

func (c *Client) heartbeatLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(c.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-c.done:
			return
		case <-ticker.C:
			err := c.write(conn, frame{Topic: heartbeatTopic, Event: eventHeartbeat, Payload: json.RawMessage(`{}`), Ref: uuid.NewString()})
			if err != nil {
				c.logger.Printf("realtime heartbeat failed: %v", err)
				_ = conn.Close()
				return
			}
		}
	}
}

// handle processes one inbound message. It returns false once the client is
// stopping and the message could not be delivered.
func (c *Client) handle(ctx context.Context, conn *websocket.Conn, data []byte) bool {
	var f frame
	if err := decodeJSON(data, &f); err != nil {
		c.logger.Printf("realtime: dropping undecodable frame: %v", err)
		return true
	}

	switch f.Event {
	case eventPostgresChanges:
		table, ev, err := DecodeChange(f.Payload)
		if table == "" {
			table = tableFromTopic(f.Topic)
		}
		if err != nil {
			if table == "" {
				c.logger.Printf("realtime: dropping change on %q: %v", f.Topic, err)
				return true
			}
			// forces a reload of the affected collection
			c.logger.Printf("realtime: malformed change on %s: %v", table, err)
			ev = model.Unknown{Type: "malformed"}
		}
		return c.emitChange(ctx, Change{Table: table, Event: ev})

	case eventReply:
		if f.Topic == heartbeatTopic {
			return true
		}
		var reply replyPayload
		if err := decodeJSON(f.Payload, &reply); err != nil {
			return true
		}
		if reply.Status != "" && reply.Status != "ok" {
			c.logger.Printf("realtime: %s replied %s: %s", f.Topic, reply.Status, string(reply.Response))
			return true
		}
		if table := tableFromTopic(f.Topic); c.rejoined(table) {
			// changes between the close and the rejoin were not delivered
			return c.emitChange(ctx, Change{Table: table, Event: model.Unknown{Type: "rejoined"}})
		}

	case eventError, eventClose:
		c.channelLost(conn, f.Topic, f.Event)

	case eventSystem:
		var sys systemPayload
		if err := decodeJSON(f.Payload, &sys); err == nil && sys.Status == "error" {
			c.logger.Printf("realtime: %s system error: %s", f.Topic, sys.Message)
			c.channelLost(conn, f.Topic, f.Event)
		}
	}
	return true
}

// channelLost schedules a rejoin of a table channel the server dropped.
// Repeated losses back off like socket reconnects do.
func (c *Client) channelLost(conn *websocket.Conn, topic, event string) {
	table := tableFromTopic(topic)
	if table == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != conn {
		return
	}
	if _, ok := c.subscription(table); !ok {
		return
	}
	r := c.rejoins[table]
	if r == nil {
		r = &rejoin{}
		c.rejoins[table] = r
	}
	if r.timer != nil {
		return
	}
	wait := calculateBackoff(r.attempts, c.base)
	r.attempts++
	c.logger.Printf("realtime: channel %s %s; rejoining in %s", topic, event, wait)
	r.timer = time.AfterFunc(wait, func() { c.rejoin(conn, table) })
}

func (c *Client) rejoin(conn *websocket.Conn, table model.Kind) {
	c.mu.Lock()
	r := c.rejoins[table]
	if r == nil || c.conn != conn {
		c.mu.Unlock()
		return
	}
	r.timer = nil
	sub, ok := c.subscription(table)
	c.mu.Unlock()
	if !ok {
		return
	}
	if err := c.join(conn, sub); err != nil {
		c.logger.Printf("realtime rejoin %s failed: %v", table, err)
	}
}

// rejoined reports whether an ok reply completes a pending rejoin.
func (c *Client) rejoined(table model.Kind) bool {
	if table == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.rejoins[table]
	if !ok || r.timer != nil {
		return false
	}
	delete(c.rejoins, table)
	return true
}

// subscription must be called with mu held.
func (c *Client) subscription(table model.Kind) (Subscription, bool) {
	for _, sub := range c.subs {
		if sub.Table == table {
			return sub, true
		}
	}
	return Subscription{}, false
}

func (c *Client) joinAll(conn *websocket.Conn) error {
	c.mu.Lock()
	subs := append([]Subscription(nil), c.subs...)
	c.mu.Unlock()

	var errs []error
	for _, sub := range subs {
		if err := c.join(conn, sub); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sub.Table, err))
		}
	}
	return errors.Join(errs...)
}

func (c *Client) join(conn *websocket.Conn, sub Subscription) error {
	payload, err := json.Marshal(joinPayload{
		Config: joinConfig{PostgresChanges: []postgresChange{{
			Event:  "*",
			Schema: "public",
			Table:  string(sub.Table),
			Filter: strings.TrimSpace(sub.Filter),
		}}},
		AccessToken: c.token(),
	})
	if err != nil {
		return fmt.Errorf("encode join: %w", err)
	}
	return c.write(conn, frame{Topic: topicFor(sub.Table), Event: eventJoin, Payload: payload, Ref: uuid.NewString()})
}

func (c *Client) write(conn *websocket.Conn, f frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteJSON(f)
}

func (c *Client) attach(conn *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.done:
		return false
	default:
	}
	c.conn = conn
	return true
}

func (c *Client) detach(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
		// a fresh socket joins every table again
		for table, r := range c.rejoins {
			if r.timer != nil {
				r.timer.Stop()
			}
			delete(c.rejoins, table)
		}
	}
	c.mu.Unlock()
	_ = conn.Close()
}

func (c *Client) emitChange(ctx context.Context, ch Change) bool {
	select {
	case c.changes <- ch:
		return true
	case <-ctx.Done():
		return false
	case <-c.done:
		return false
	}
}

func (c *Client) emitState(ctx context.Context, s ConnState) bool {
	select {
	case c.states <- s:
		return true
	case <-ctx.Done():
		return false
	case <-c.done:
		return false
	}
}

func (c *Client) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	case <-c.done:
		return false
	}
}

func (c *Client) stopped(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

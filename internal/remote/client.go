package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	roomPath = "/ocs/v2.php/apps/spreed/api/v4/room"
	chatPath = "/ocs/v2.php/apps/spreed/api/v1/chat/"

	historyLimit = 100
)

// ClientOptions configures the HTTP implementation of Service.
type ClientOptions struct {
	BaseURL           string
	User              string
	Password          string
	RequestTimeout    time.Duration
	RequestsPerSecond float64
	// LongPoll asks the server to hold fetches open until new messages arrive.
	LongPoll time.Duration
}

// Client talks to the Nextcloud Talk OCS API.
type Client struct {
	base     *url.URL
	user     string
	http     *http.Client
	limiter  *rate.Limiter
	longPoll time.Duration
	logger   *zap.Logger

	mu       sync.RWMutex
	password string
}

// NewClient creates a Service backed by the Nextcloud Talk HTTP API.
func NewClient(opts ClientOptions, logger *zap.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("server url %q must be absolute", opts.BaseURL)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	return &Client{
		base:     base,
		user:     opts.User,
		password: opts.Password,
		http:     &http.Client{Timeout: opts.RequestTimeout},
		limiter:  rate.NewLimiter(limit, 4),
		longPoll: opts.LongPoll,
		logger:   logger,
	}, nil
}

// SetPassword swaps the app password used for subsequent requests.
func (c *Client) SetPassword(password string) {
	c.mu.Lock()
	c.password = password
	c.mu.Unlock()
}

// LoginURL returns the web page where the user can issue a new app password.
func (c *Client) LoginURL() string {
	return c.base.String() + "/index.php/settings/user/security"
}

type ocsEnvelope struct {
	OCS struct {
		Meta struct {
			Status     string `json:"status"`
			StatusCode int    `json:"statuscode"`
			Message    string `json:"message"`
		} `json:"meta"`
		Data json.RawMessage `json:"data"`
	} `json:"ocs"`
}

type ocsRoom struct {
	Token           string `json:"token"`
	DisplayName     string `json:"displayName"`
	UnreadMessages  int    `json:"unreadMessages"`
	LastActivity    int64  `json:"lastActivity"`
	LastReadMessage int64  `json:"lastReadMessage"`
	LastMessage     struct {
		ID int64 `json:"id"`
	} `json:"lastMessage"`
}

type ocsMessage struct {
	ID               int64           `json:"id"`
	Token            string          `json:"token"`
	ActorID          string          `json:"actorId"`
	ActorDisplayName string          `json:"actorDisplayName"`
	Timestamp        int64           `json:"timestamp"`
	Message          string          `json:"message"`
	MessageType      string          `json:"messageType"`
	SystemMessage    string          `json:"systemMessage"`
	ReferenceID      string          `json:"referenceId"`
	Reactions        json.RawMessage `json:"reactions"`
}

func (m ocsMessage) toMessage(room string) Message {
	if m.Token != "" {
		room = m.Token
	}
	kind := m.MessageType
	if kind == "" {
		kind = KindComment
	}
	return Message{
		ID:            strconv.FormatInt(m.ID, 10),
		ReferenceID:   m.ReferenceID,
		Room:          room,
		ActorID:       m.ActorID,
		ActorName:     m.ActorDisplayName,
		Body:          m.Message,
		Kind:          kind,
		SystemMessage: m.SystemMessage,
		Reactions:     decodeReactions(m.Reactions),
		Timestamp:     time.Unix(m.Timestamp, 0),
	}
}

// decodeReactions accepts both {} and [] since the server serializes an empty
// map as a JSON array.
func decodeReactions(raw json.RawMessage) map[string]int {
	if len(raw) == 0 || raw[0] != '{' {
		return nil
	}
	var out map[string]int
	if err := json.Unmarshal(raw, &out); err != nil || len(out) == 0 {
		return nil
	}
	return out
}

// ListRooms implements Service.
func (c *Client) ListRooms(ctx context.Context) ([]RoomSummary, error) {
	var rooms []ocsRoom
	if _, _, err := c.do(ctx, http.MethodGet, roomPath, nil, nil, &rooms); err != nil {
		return nil, err
	}
	out := make([]RoomSummary, 0, len(rooms))
	for _, r := range rooms {
		s := RoomSummary{
			Token:        r.Token,
			DisplayName:  r.DisplayName,
			UnreadCount:  r.UnreadMessages,
			LastActivity: time.Unix(r.LastActivity, 0),
		}
		if r.LastReadMessage > 0 {
			s.LastReadID = strconv.FormatInt(r.LastReadMessage, 10)
		}
		if r.LastMessage.ID > 0 {
			s.LastMessageID = strconv.FormatInt(r.LastMessage.ID, 10)
		}
		out = append(out, s)
	}
	return out, nil
}

// FetchMessages implements Service. An empty cursor loads the most recent
// history; otherwise messages newer than the cursor are returned.
func (c *Client) FetchMessages(ctx context.Context, room, cursor string) (MessageBatch, error) {
	q := url.Values{}
	q.Set("setReadMarker", "0")
	q.Set("limit", strconv.Itoa(historyLimit))
	if cursor == "" {
		q.Set("lookIntoFuture", "0")
	} else {
		q.Set("lookIntoFuture", "1")
		q.Set("lastKnownMessageId", cursor)
		q.Set("timeout", strconv.Itoa(int(c.longPoll/time.Second)))
	}

	var raw []ocsMessage
	status, header, err := c.do(ctx, http.MethodGet, chatPath+url.PathEscape(room), q, nil, &raw)
	if err != nil {
		return MessageBatch{}, err
	}
	if status == http.StatusNotModified {
		return MessageBatch{Cursor: cursor, UpToDate: true}, nil
	}

	batch := MessageBatch{Cursor: cursor}
	var newest int64
	for _, m := range raw {
		batch.Messages = append(batch.Messages, m.toMessage(room))
		if m.ID > newest {
			newest = m.ID
		}
	}
	sort.SliceStable(batch.Messages, func(i, j int) bool {
		return batch.Messages[i].Timestamp.Before(batch.Messages[j].Timestamp)
	})
	switch {
	case newest > 0:
		batch.Cursor = strconv.FormatInt(newest, 10)
	case header.Get("X-Chat-Last-Given") != "":
		batch.Cursor = header.Get("X-Chat-Last-Given")
	}
	if len(batch.Messages) == 0 {
		batch.UpToDate = true
	}
	return batch, nil
}

// SendMessage implements Service. The server echoes referenceID on the
// stored message, which lets pending messages be correlated.
func (c *Client) SendMessage(ctx context.Context, room, body, referenceID string) (SendReceipt, error) {
	payload := map[string]string{"message": body}
	if referenceID != "" {
		payload["referenceId"] = referenceID
	}
	var sent ocsMessage
	if _, _, err := c.do(ctx, http.MethodPost, chatPath+url.PathEscape(room), nil, payload, &sent); err != nil {
		return SendReceipt{}, err
	}
	if sent.ID == 0 {
		return SendReceipt{}, &Error{Kind: Transient, Err: errors.New("send response carried no message id")}
	}
	msg := sent.toMessage(room)
	return SendReceipt{ID: msg.ID, Message: &msg}, nil
}

// SetReadMarker implements Service.
func (c *Client) SetReadMarker(ctx context.Context, room, messageID string) error {
	id, err := strconv.ParseInt(messageID, 10, 64)
	if err != nil {
		return &Error{Kind: NotFound, Err: fmt.Errorf("invalid message id %q", messageID)}
	}
	_, _, err = c.do(ctx, http.MethodPost, chatPath+url.PathEscape(room)+"/read", nil,
		map[string]int64{"lastReadMessage": id}, nil)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) (int, http.Header, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, nil, transient(err)
	}

	u := *c.base
	u.Path += path
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("OCS-APIRequest", "true")
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.mu.RLock()
	req.SetBasicAuth(c.user, c.password)
	c.mu.RUnlock()

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, transient(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := classifyStatus(resp); err != nil {
		c.logger.Debug("remote call failed",
			zap.String("method", method), zap.String("path", path), zap.Int("status", resp.StatusCode))
		return resp.StatusCode, resp.Header, err
	}
	if resp.StatusCode == http.StatusNotModified || out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, resp.Header, nil
	}

	var env ocsEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return resp.StatusCode, resp.Header, transient(fmt.Errorf("decode response: %w", err))
	}
	if len(env.OCS.Data) > 0 {
		if err := json.Unmarshal(env.OCS.Data, out); err != nil {
			return resp.StatusCode, resp.Header, transient(fmt.Errorf("decode data: %w", err))
		}
	}
	return resp.StatusCode, resp.Header, nil
}

func classifyStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode < 400:
		return nil
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return &Error{Kind: AuthFailure, Status: resp.StatusCode}
	case resp.StatusCode == http.StatusNotFound:
		return &Error{Kind: NotFound, Status: resp.StatusCode}
	case resp.StatusCode == http.StatusTooManyRequests:
		return &Error{Kind: RateLimited, Status: resp.StatusCode, RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	default:
		return &Error{Kind: Transient, Status: resp.StatusCode}
	}
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mattjoyce/commcore/internal/events"
	"github.com/mattjoyce/commcore/internal/journal"
)

// Client is a typed client for a running server.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

// NewClient returns a client with a short request timeout. Event streams use
// a separate client without one.
func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: 5 * time.Second},
	}
}

// Error is a non-2xx response.
type Error struct {
	Status  int
	Message string
	Slot    *int
}

func (e *Error) Error() string {
	if e.Slot != nil {
		return fmt.Sprintf("%d: %s (slot %d)", e.Status, e.Message, *e.Slot)
	}
	return fmt.Sprintf("%d: %s", e.Status, e.Message)
}

func (c *Client) Health(ctx context.Context) (HealthzResponse, error) {
	var out HealthzResponse
	err := c.do(ctx, http.MethodGet, "/healthz", nil, &out)
	return out, err
}

func (c *Client) Submit(ctx context.Context, req SubmitRequest) (SubmitResponse, error) {
	var out SubmitResponse
	err := c.do(ctx, http.MethodPost, "/instructions", req, &out)
	return out, err
}

func (c *Client) NotifyDone(ctx context.Context, slot int, code uint32) error {
	return c.do(ctx, http.MethodPost, "/slots/"+strconv.Itoa(slot)+"/done", DoneRequest{Code: code}, nil)
}

func (c *Client) Slots(ctx context.Context) (SlotsResponse, error) {
	var out SlotsResponse
	err := c.do(ctx, http.MethodGet, "/slots", nil, &out)
	return out, err
}

func (c *Client) Journal(ctx context.Context, limit int) ([]journal.Entry, error) {
	var out JournalResponse
	path := "/journal"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out.Entries, err
}

// Events streams events to fn until ctx ends or the connection drops.
func (c *Client) Events(ctx context.Context, lastID int64, fn func(events.Event)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/events", nil)
	if err != nil {
		return err
	}
	c.authorize(req)
	if lastID > 0 {
		req.Header.Set("Last-Event-ID", strconv.FormatInt(lastID, 10))
	}

	resp, err := (&http.Client{}).Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	return ReadSSE(resp.Body, fn)
}

// ReadSSE parses an event stream written by the server.
func ReadSSE(r io.Reader, fn func(events.Event)) error {
	scanner := bufio.NewScanner(r)
	var cur events.Event
	var data string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data != "" {
				cur.Data = json.RawMessage(data)
				cur.At = time.Now()
				fn(cur)
			}
			cur, data = events.Event{}, ""
		case strings.HasPrefix(line, "id: "):
			if id, err := strconv.ParseInt(line[4:], 10, 64); err == nil {
				cur.ID = id
			}
		case strings.HasPrefix(line, "event: "):
			cur.Type = line[7:]
		case strings.HasPrefix(line, "data: "):
			data = line[6:]
		}
	}
	return scanner.Err()
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
}

func decodeError(resp *http.Response) error {
	var er ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil || er.Error == "" {
		er.Error = http.StatusText(resp.StatusCode)
	}
	return &Error{Status: resp.StatusCode, Message: er.Error, Slot: er.Slot}
}

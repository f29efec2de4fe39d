package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mattjoyce/fwup/internal/events"
	"github.com/mattjoyce/fwup/internal/firewall"
	"github.com/mattjoyce/fwup/internal/ipset"
)

// StatusError is returned by Client calls answered with a non-2xx code.
type StatusError struct {
	Code    int
	Message string
	Body    []byte
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api returned %d", e.Code)
	}
	return fmt.Sprintf("api returned %d: %s", e.Code, e.Message)
}

// Client talks to a running fwup daemon. It is used by the CLI and the
// watch TUI.
type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

// NewClient returns a client with a short request timeout. Event streams use
// a separate client without one.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		HTTP:    &http.Client{Timeout: 5 * time.Second},
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, r)
	if err != nil {
		return nil, err
	}
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		var e ErrorResponse
		_ = json.Unmarshal(body, &e)
		return &StatusError{Code: resp.StatusCode, Message: e.Error, Body: body}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func setPath(name string, rest ...string) string {
	parts := append([]string{"/sets", url.PathEscape(name)}, rest...)
	return strings.Join(parts, "/")
}

func (c *Client) Healthz(ctx context.Context) (HealthzResponse, error) {
	var out HealthzResponse
	err := c.do(ctx, http.MethodGet, "/healthz", nil, &out)
	return out, err
}

func (c *Client) Status(ctx context.Context) (StatusResponse, error) {
	var out StatusResponse
	err := c.do(ctx, http.MethodGet, "/status", nil, &out)
	return out, err
}

func (c *Client) ListSets(ctx context.Context) ([]ipset.Set, error) {
	var out []ipset.Set
	err := c.do(ctx, http.MethodGet, "/sets", nil, &out)
	return out, err
}

func (c *Client) GetSet(ctx context.Context, name string) (firewall.SetView, error) {
	var out firewall.SetView
	err := c.do(ctx, http.MethodGet, setPath(name), nil, &out)
	return out, err
}

// PutSet creates the set and reports whether it was new.
func (c *Client) PutSet(ctx context.Context, set ipset.Set) (bool, error) {
	var out PutSetResponse
	body := PutSetRequest{Type: string(set.Type), Family: string(set.Family), MaxElem: set.MaxElem}
	err := c.do(ctx, http.MethodPut, setPath(set.Name), body, &out)
	return out.Created, err
}

func (c *Client) DeleteSet(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, setPath(name), nil, nil)
}

func (c *Client) AddMembers(ctx context.Context, name string, members []string) ([]string, error) {
	var out AddMembersResponse
	err := c.do(ctx, http.MethodPost, setPath(name, "members"), AddMembersRequest{Members: members}, &out)
	return out.Added, err
}

// RemoveMember deletes one member. A member that was not present is not an
// error; removed is false.
func (c *Client) RemoveMember(ctx context.Context, name, member string) (bool, error) {
	var out RemoveMemberResponse
	err := c.do(ctx, http.MethodDelete, setPath(name, "members", url.PathEscape(member)), nil, &out)
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound && se.Message == "" {
		// 404 with a RemoveMemberResponse body: the set exists, the member did not.
		if json.Unmarshal(se.Body, &out) == nil && out.Member != "" {
			return false, nil
		}
	}
	return out.Removed, err
}

func (c *Client) Flush(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/flush", nil, nil)
}

func (c *Client) Resync(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/resync", nil, nil)
}

// Subscribe streams events until ctx is done or the connection drops. fn is
// called from the calling goroutine for each event. lastID resumes after a
// previously seen event.
func (c *Client) Subscribe(ctx context.Context, lastID int64, types []string, fn func(events.Event)) error {
	path := "/events"
	if len(types) > 0 {
		path += "?types=" + url.QueryEscape(strings.Join(types, ","))
	}
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	if lastID > 0 {
		req.Header.Set("Last-Event-ID", strconv.FormatInt(lastID, 10))
	}

	stream := &http.Client{Transport: c.HTTP.Transport}
	resp, err := stream.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &StatusError{Code: resp.StatusCode}
	}
	return readSSE(resp.Body, fn)
}

// readSSE parses a text/event-stream body. Comment lines are skipped.
func readSSE(r io.Reader, fn func(events.Event)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)

	var current events.Event
	var data []string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if len(data) > 0 {
				current.Data = json.RawMessage(strings.Join(data, "\n"))
				if current.At.IsZero() {
					current.At = time.Now()
				}
				fn(current)
			}
			current = events.Event{}
			data = data[:0]
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "id: "):
			if id, err := strconv.ParseInt(line[4:], 10, 64); err == nil {
				current.ID = id
			}
		case strings.HasPrefix(line, "event: "):
			current.Type = line[7:]
		case strings.HasPrefix(line, "data: "):
			data = append(data, line[6:])
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return io.ErrUnexpectedEOF
}

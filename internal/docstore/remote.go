package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"backend-skitrip/internal/logging"

	"github.com/gorilla/websocket"
)

var _ Store = (*Remote)(nil)

// TokenSource supplies the bearer token of the signed-in identity.
type TokenSource interface {
	Token() string
}

// TokenFunc adapts a function to TokenSource.
type TokenFunc func() string

func (f TokenFunc) Token() string { return f() }

// Remote talks to a document server over HTTP and websocket subscriptions.
// It enforces no timeout of its own; callers pass contexts and an http.Client
// configured with their retry/timeout policy.
type Remote struct {
	base   *url.URL
	tokens TokenSource
	http   *http.Client
	dialer *websocket.Dialer
	logger *slog.Logger

	// redial backoff after a dropped subscription
	retryMin, retryMax time.Duration
}

func NewRemote(baseURL string, tokens TokenSource, httpClient *http.Client, logger *slog.Logger) (*Remote, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse store url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("store url must be http or https: %q", baseURL)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Remote{
		base:     u,
		tokens:   tokens,
		http:     httpClient,
		dialer:   websocket.DefaultDialer,
		logger:   logging.OrDefault(logger),
		retryMin: 500 * time.Millisecond,
		retryMax: 30 * time.Second,
	}, nil
}

func (r *Remote) Get(ctx context.Context, path string) (Snapshot, error) {
	if _, err := Segments(path); err != nil {
		return Snapshot{}, err
	}
	resp, err := r.do(ctx, http.MethodGet, "/docs/"+path, nil, nil)
	if err != nil {
		return Snapshot{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Snapshot{Path: path}, nil
	}
	if err := statusError(resp); err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return snap, nil
}

func (r *Remote) Set(ctx context.Context, path string, fields map[string]any, merge bool) error {
	if _, err := Segments(path); err != nil {
		return err
	}
	body, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	q := url.Values{}
	if merge {
		q.Set("merge", "true")
	}
	resp, err := r.do(ctx, http.MethodPut, "/docs/"+path, q, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return statusError(resp)
}

func (r *Remote) Delete(ctx context.Context, path string) error {
	if _, err := Segments(path); err != nil {
		return err
	}
	resp, err := r.do(ctx, http.MethodDelete, "/docs/"+path, nil, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return statusError(resp)
}

func (r *Remote) Subscribe(path string, onChange func(Snapshot), onError func(error)) Subscription {
	return r.stream(path, false, func(msg Message) {
		if msg.Doc != nil {
			onChange(*msg.Doc)
		}
	}, onError)
}

func (r *Remote) SubscribeCollection(path string, onChange func([]Snapshot), onError func(error)) Subscription {
	return r.stream(path, true, func(msg Message) {
		onChange(msg.Docs)
	}, onError)
}

// stream keeps one websocket per subscription. A dropped connection is
// reported through onError and redialed with exponential backoff; the server
// pushes the current value on every connect. A rejected dial (auth,
// permission, bad path) ends the subscription.
func (r *Remote) stream(path string, collection bool, deliver func(Message), onError func(error)) Subscription {
	ctx, cancel := context.WithCancel(context.Background())
	var (
		mu      sync.Mutex
		current *websocket.Conn
	)
	sub := newSubscription(func() {
		cancel()
		mu.Lock()
		if current != nil {
			current.Close()
		}
		mu.Unlock()
	})

	fail := func(err error) {
		if !sub.active() {
			return
		}
		r.logger.Warn("subscription failed", "path", path, "error", err)
		if onError != nil {
			onError(err)
		}
	}

	go func() {
		delay := r.retryMin
		for sub.active() {
			conn, resp, err := r.dialer.DialContext(ctx, r.streamURL(path, collection), r.authHeader())
			if err != nil {
				if resp != nil {
					if serr := statusError(resp); serr != nil {
						err = serr
					}
					resp.Body.Close()
				}
				fail(err)
				if rejected(err) {
					return
				}
			} else {
				mu.Lock()
				if !sub.active() {
					mu.Unlock()
					conn.Close()
					return
				}
				current = conn
				mu.Unlock()
				delay = r.retryMin

				err = r.read(conn, sub, deliver, fail)
				conn.Close()
				if !sub.active() {
					return
				}
				fail(fmt.Errorf("subscription connection lost: %w", err))
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay = min(delay*2, r.retryMax)
		}
	}()
	return sub
}

// read delivers frames until the connection fails or sub is cancelled.
func (r *Remote) read(conn *websocket.Conn, sub *subscription, deliver func(Message), fail func(error)) error {
	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}
		if !sub.active() {
			return nil
		}
		if msg.Type == "error" {
			fail(errors.New(msg.Error))
			continue
		}
		deliver(msg)
	}
}

func rejected(err error) bool {
	return errors.Is(err, ErrUnauthenticated) ||
		errors.Is(err, ErrPermissionDenied) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrNotFound)
}

func (r *Remote) streamURL(path string, collection bool) string {
	u := *r.base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/stream/ws"
	q := url.Values{"path": {path}}
	if collection {
		q.Set("collection", "true")
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (r *Remote) do(ctx context.Context, method, path string, query url.Values, body []byte) (*http.Response, error) {
	u := *r.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery = query.Encode()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, err
	}
	req.Header = r.authHeader()
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}

func (r *Remote) authHeader() http.Header {
	h := http.Header{}
	if r.tokens != nil {
		if tok := r.tokens.Token(); tok != "" {
			h.Set("Authorization", "Bearer "+tok)
		}
	}
	return h
}

func statusError(resp *http.Response) error {
	if resp.StatusCode < 300 {
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	detail := strings.TrimSpace(string(msg))
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", ErrUnauthenticated, detail)
	case http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrPermissionDenied, detail)
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", ErrInvalidInput, detail)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, detail)
	}
	return fmt.Errorf("document store returned %d: %s", resp.StatusCode, detail)
}

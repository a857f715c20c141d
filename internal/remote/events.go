package remote

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/tidwall/gjson"
)

const (
	// reconnectMin is the first delay after a dropped event stream.
	reconnectMin = time.Second

	// reconnectMax caps the reconnect backoff.
	reconnectMax = time.Minute

	// reconnectBackoffMultiplier is the exponential growth factor
	// applied to the reconnect backoff after each consecutive failure.
	reconnectBackoffMultiplier = 2

	// jitterDivisor controls the range of random jitter added to
	// reconnect backoff: jitter is uniform in [0, backoff/jitterDivisor).
	jitterDivisor = 2

	// eventReadLimit bounds a single event frame.
	eventReadLimit = 64 * 1024
)

// ChangeEvent reports that something under Path changed on the server.
type ChangeEvent struct {
	Path  string
	Space string
}

// EventHandler is called for every change event, on the listener's
// goroutine.
type EventHandler func(ctx context.Context, ev ChangeEvent)

// EventListener follows the server's change event stream for one account
// and reconnects when it drops.
type EventListener struct {
	baseURL string
	account string
	token   string
	handler EventHandler
	logger  *slog.Logger
	minWait time.Duration
}

// NewEventListener creates a listener for account on the server at baseURL.
func NewEventListener(baseURL, account, token string, handler EventHandler, logger *slog.Logger) *EventListener {
	return &EventListener{
		baseURL: strings.TrimRight(baseURL, "/"),
		account: account,
		token:   token,
		handler: handler,
		logger:  logger,
		minWait: reconnectMin,
	}
}

func (l *EventListener) streamURL() (string, error) {
	u, err := url.Parse(l.baseURL + apiPrefix + url.PathEscape(l.account) + "/events")
	if err != nil {
		return "", fmt.Errorf("parsing event stream url: %w", err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}

	return u.String(), nil
}

// Listen runs until ctx is cancelled, reconnecting with exponential
// backoff and jitter.
func (l *EventListener) Listen(ctx context.Context) error {
	target, err := l.streamURL()
	if err != nil {
		return err
	}

	backoff := l.minWait

	for {
		connected, err := l.session(ctx, target)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if connected {
			backoff = l.minWait
		}

		l.logger.Warn("event stream lost, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("backoff", backoff),
		)

		jitter := time.Duration(rand.Int64N(int64(backoff)/jitterDivisor + 1)) //nolint:gosec // G404: math/rand is fine for reconnect jitter

		timer := time.NewTimer(backoff + jitter)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		backoff = min(backoff*reconnectBackoffMultiplier, reconnectMax)
	}
}

// session dials once and reads events until the connection fails. The
// bool reports whether the dial succeeded.
func (l *EventListener) session(ctx context.Context, target string) (bool, error) {
	conn, _, err := websocket.Dial(ctx, target, &websocket.DialOptions{ //nolint:bodyclose // websocket.Dial closes the response body internally
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + l.token},
		},
	})
	if err != nil {
		return false, fmt.Errorf("dialing event stream: %w", err)
	}
	defer conn.CloseNow()

	conn.SetReadLimit(eventReadLimit)
	l.logger.Info("event stream connected", slog.String("account", l.account))

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return true, fmt.Errorf("reading event: %w", err)
		}

		if typ != websocket.MessageText {
			continue
		}

		ev, ok := parseEvent(data)
		if !ok {
			l.logger.Debug("ignoring event", slog.String("op", gjson.GetBytes(data, "op").Str))
			continue
		}

		l.handler(ctx, ev)
	}
}

func parseEvent(data []byte) (ChangeEvent, bool) {
	if !gjson.ValidBytes(data) {
		return ChangeEvent{}, false
	}

	if gjson.GetBytes(data, "op").Str != "changed" {
		return ChangeEvent{}, false
	}

	p := gjson.GetBytes(data, "path")
	if !p.Exists() {
		return ChangeEvent{}, false
	}

	return ChangeEvent{
		Path:  cleanPath(p.Str),
		Space: gjson.GetBytes(data, "space").Str,
	}, true
}

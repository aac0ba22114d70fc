package watch

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"

	"github.com/mattjoyce/shopworker/internal/api"
	"github.com/mattjoyce/shopworker/internal/events"
)

const healthTimeout = 2 * time.Second

type eventMsg events.Event

type healthMsg api.HealthzResponse

type tickMsg time.Time

type errMsg struct{ err error }

func (e errMsg) Error() string { return e.err.Error() }

// streamClosedMsg reports that the websocket stream ended.
type streamClosedMsg struct{ err error }

type reconnectMsg struct{}

// streamURL turns an API base URL into the websocket event endpoint.
// lastID > 0 asks the server to replay buffered events after that id.
func streamURL(base string, lastID int64) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", fmt.Errorf("parse api url: %w", err)
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws", "":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported api url scheme %q", u.Scheme)
	}
	u.Path += "/events/ws"
	if lastID > 0 {
		q := u.Query()
		q.Set("last_id", strconv.FormatInt(lastID, 10))
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// streamEvents dials /events/ws and forwards every event into ch until the
// connection drops.
func streamEvents(base string, lastID int64, ch chan<- events.Event) tea.Cmd {
	return func() tea.Msg {
		target, err := streamURL(base, lastID)
		if err != nil {
			return errMsg{err}
		}

		conn, _, err := websocket.DefaultDialer.Dial(target, nil)
		if err != nil {
			return streamClosedMsg{err: err}
		}
		defer conn.Close()

		for {
			var e events.Event
			if err := conn.ReadJSON(&e); err != nil {
				return streamClosedMsg{err: err}
			}
			ch <- e
		}
	}
}

// receiveNextEvent waits for the next event from the channel.
func receiveNextEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-ch)
	}
}

// fetchHealth queries /healthz. A draining pool answers 503 with a normal
// body, so the status code alone is not an error.
func fetchHealth(base string) tea.Msg {
	client := &http.Client{Timeout: healthTimeout}
	resp, err := client.Get(strings.TrimRight(base, "/") + "/healthz")
	if err != nil {
		return errMsg{err}
	}
	defer resp.Body.Close()

	var h api.HealthzResponse
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return errMsg{fmt.Errorf("decode healthz (%s): %w", resp.Status, err)}
	}
	return healthMsg(h)
}

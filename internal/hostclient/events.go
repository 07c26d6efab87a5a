package hostclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// Events implements Client by opening a long-lived SSE connection to the
// host's event endpoint and decoding each "data:" frame as an Event. The
// read loop (event/data line accumulation, blank-line dispatch) is grounded
// on the teacher-adjacent codenerd SSE transport's readLoop.
func (c *HTTPClient) Events(ctx context.Context) (<-chan Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/events", nil)
	if err != nil {
		return nil, fmt.Errorf("hostclient: building events request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("hostclient: connecting to event stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("hostclient: event stream returned HTTP %d", resp.StatusCode)
	}

	out := make(chan Event, 16)
	go c.readEvents(ctx, resp.Body, out)
	return out, nil
}

// readEvents scans SSE frames off body until ctx is cancelled or the stream
// closes, decoding each settled "data:" block as an Event.
func (c *HTTPClient) readEvents(ctx context.Context, body io.ReadCloser, out chan<- Event) {
	defer close(out)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var eventData bytes.Buffer

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := scanner.Text()

		if line == "" {
			data := strings.TrimSpace(eventData.String())
			eventData.Reset()
			if data == "" {
				continue
			}
			c.dispatchEventFrame(ctx, data, out)
			continue
		}

		if strings.HasPrefix(line, "data:") {
			eventData.WriteString(strings.TrimPrefix(line, "data:"))
			eventData.WriteByte('\n')
		}
		// "event:", "id:", "retry:", and comment (":") lines carry no
		// information the core needs; the event type is embedded in the
		// JSON payload itself.
	}

	if err := scanner.Err(); err != nil && c.Logger != nil {
		c.Logger.Warn("hostclient: event stream read error", slog.String("error", err.Error()))
	}
}

func (c *HTTPClient) dispatchEventFrame(ctx context.Context, data string, out chan<- Event) {
	var evt Event
	if err := json.Unmarshal([]byte(data), &evt); err != nil {
		if c.Logger != nil {
			c.Logger.Warn("hostclient: dropping malformed event frame", slog.String("error", err.Error()))
		}
		return
	}

	select {
	case out <- evt:
	case <-ctx.Done():
	}
}

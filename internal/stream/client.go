package stream

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/star/keplertrack/internal/metrics"
)

const writeTimeout = 30 * time.Second

// client manages a single SSE connection's write operations.
type client struct {
	w      http.ResponseWriter
	rc     *http.ResponseController
	logger *slog.Logger
}

// sendJSON marshals v as JSON and sends it as an SSE "data:" message.
func (c *client) sendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("json marshal: %w", err)
	}
	n, err := c.write(fmt.Sprintf("data: %s\n\n", data))
	if err != nil {
		return err
	}
	metrics.IncStreamMessages()
	metrics.AddStreamBytes(n)
	return nil
}

// sendRetry tells the client how long to wait before reconnecting.
func (c *client) sendRetry(ms int) error {
	n, err := c.write(fmt.Sprintf("retry: %d\n\n", ms))
	if err != nil {
		return err
	}
	metrics.AddStreamBytes(n)
	return nil
}

// sendKeepalive sends an SSE comment line to keep the connection alive.
func (c *client) sendKeepalive() error {
	n, err := c.write(":\n\n")
	if err != nil {
		return err
	}
	metrics.AddStreamBytes(n)
	return nil
}

// write extends the write deadline, writes msg and flushes it.
func (c *client) write(msg string) (int, error) {
	if err := c.rc.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		c.logger.Debug("could not set write deadline", "error", err)
	}
	n, err := fmt.Fprint(c.w, msg)
	if err != nil {
		return n, fmt.Errorf("write: %w", err)
	}
	if err := c.rc.Flush(); err != nil {
		return n, fmt.Errorf("flush: %w", err)
	}
	return n, nil
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

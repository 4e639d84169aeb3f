package log

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// ConsoleHandler writes every record at or above Threshold to an io.Writer,
// one line per record, timestamped. It is the default handler registered by
// cmd/nsblastd when no file log path is configured.
type ConsoleHandler struct {
	Threshold Severity
	Writer    io.Writer

	mu sync.Mutex
}

// NewConsoleHandler returns a handler writing to os.Stderr at SeverityInfo.
func NewConsoleHandler() *ConsoleHandler {
	return &ConsoleHandler{Threshold: SeverityInfo, Writer: os.Stderr}
}

func (h *ConsoleHandler) Handle(severity Severity, msg Message) {
	if severity > h.Threshold {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	fmt.Fprintf(h.Writer, "%s [%s] %s\n", time.Now().Format(time.RFC3339), severity, msg.String())
}

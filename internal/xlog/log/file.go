package log

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// FileHandler appends every record at or above Threshold to a log file.
// Errors writing the file are swallowed on purpose: a logging
// sink must never be the reason a DNS query fails.
type FileHandler struct {
	Threshold Severity

	mu   sync.Mutex
	file *os.File
}

// NewFileHandler opens (creating if necessary) path for appending.
func NewFileHandler(path string, threshold Severity) (*FileHandler, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileHandler{Threshold: threshold, file: f}, nil
}

func (h *FileHandler) Handle(severity Severity, msg Message) {
	if severity > h.Threshold {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	fmt.Fprintf(h.file, "%s [%s] %s\n", time.Now().Format(time.RFC3339), severity, msg.String())
}

func (h *FileHandler) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.file.Close()
}

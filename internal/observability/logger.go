package observability

import (
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"
)

// Logger emits one JSON object per line. Ingestion handlers log on every
// request, so the payload stays flat and the writer is guarded by a single
// mutex rather than a log.Logger.
type Logger struct {
	mu  sync.Mutex
	out io.Writer
}

func NewLogger() *Logger {
	return &Logger{out: os.Stdout}
}

func (l *Logger) Info(message string, fields map[string]any) {
	l.emit("info", message, fields)
}

func (l *Logger) Warn(message string, fields map[string]any) {
	l.emit("warn", message, fields)
}

func (l *Logger) Error(message string, fields map[string]any) {
	l.emit("error", message, fields)
}

func (l *Logger) emit(level, message string, fields map[string]any) {
	entry := make(map[string]any, len(fields)+3)
	for k, v := range fields {
		entry[k] = v
	}
	entry["timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)
	entry["level"] = level
	entry["message"] = message

	line, err := json.Marshal(entry)
	if err != nil {
		line = []byte(`{"level":"error","message":"log entry not encodable"}`)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.out.Write(append(line, '\n'))
}

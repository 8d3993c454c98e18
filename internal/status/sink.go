// Package status carries batch-driver progress to an external collaborator.
// The only contract is that a sink receives JSON-serializable records; the
// transport behind it (stdout, a websocket, a queue) is not the cascade's
// concern.
package status

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Update is one progress record. Phase is human-oriented ("Pass 1/3",
// "Cymru batch 2/5"); counters are cumulative within a driver run.
type Update struct {
	Phase        string    `json:"phase"`
	IPsProcessed int       `json:"ips_processed"`
	IPsTotal     int       `json:"ips_total"`
	Errors       int       `json:"errors"`
	Timestamp    time.Time `json:"timestamp"`
	Detail       string    `json:"detail,omitempty"`
}

// Sink receives progress updates. Emit must not block the driver for long
// and must tolerate being called from multiple goroutines.
type Sink interface {
	Emit(u Update)
}

// Nop discards updates.
type Nop struct{}

func (Nop) Emit(Update) {}

// WriterSink streams one JSON object per line to w.
type WriterSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{enc: json.NewEncoder(w)}
}

func (s *WriterSink) Emit(u Update) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Encode errors are swallowed: a broken status pipe must never abort a
	// backfill that is otherwise making progress.
	_ = s.enc.Encode(u)
}

// LoggerSink mirrors updates into the process log, useful when a driver
// runs headless and nothing consumes the JSON stream.
type LoggerSink struct {
	Logger *zap.Logger
}

func (s LoggerSink) Emit(u Update) {
	s.Logger.Info("driver progress",
		zap.String("phase", u.Phase),
		zap.Int("ips_processed", u.IPsProcessed),
		zap.Int("ips_total", u.IPsTotal),
		zap.Int("errors", u.Errors))
}

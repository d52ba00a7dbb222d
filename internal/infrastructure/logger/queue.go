package logger

import (
	"sync"
	"time"

	"go.uber.org/zap/zapcore"
)

const defaultQueueSize = 1000

// Entry is one log line as shown to the presentation layer.
type Entry struct {
	Seq     uint64                 `json:"seq"`
	Time    time.Time              `json:"time"`
	Level   string                 `json:"level"`
	Message string                 `json:"message"`
	Fields  map[string]interface{} `json:"fields,omitempty"`
}

// LogQueue keeps the most recent entries. Readers poll with the last
// sequence number they saw.
type LogQueue struct {
	mu      sync.Mutex
	entries []Entry
	size    int
	seq     uint64
}

func NewLogQueue(size int) *LogQueue {
	if size <= 0 {
		size = defaultQueueSize
	}
	return &LogQueue{size: size}
}

func (q *LogQueue) push(e Entry) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.seq++
	e.Seq = q.seq
	q.entries = append(q.entries, e)
	if len(q.entries) > q.size {
		q.entries = append(q.entries[:0:0], q.entries[len(q.entries)-q.size:]...)
	}
}

// Since returns retained entries with a sequence number greater than seq, oldest first.
func (q *LogQueue) Since(seq uint64) []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Entry, 0)
	for _, e := range q.entries {
		if e.Seq > seq {
			out = append(out, e)
		}
	}
	return out
}

// Core returns a zapcore.Core writing into the queue.
func (q *LogQueue) Core(level zapcore.LevelEnabler) zapcore.Core {
	return &queueCore{LevelEnabler: level, queue: q}
}

type queueCore struct {
	zapcore.LevelEnabler
	queue  *LogQueue
	fields []zapcore.Field
}

func (c *queueCore) With(fields []zapcore.Field) zapcore.Core {
	clone := *c
	clone.fields = append(append([]zapcore.Field(nil), c.fields...), fields...)
	return &clone
}

func (c *queueCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *queueCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range c.fields {
		f.AddTo(enc)
	}
	for _, f := range fields {
		f.AddTo(enc)
	}

	c.queue.push(Entry{
		Time:    ent.Time,
		Level:   ent.Level.String(),
		Message: ent.Message,
		Fields:  enc.Fields,
	})
	return nil
}

func (c *queueCore) Sync() error { return nil }

package engine

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap/zapcore"
)

const defaultLogLines = 1000

type ring struct {
	mu       sync.Mutex
	lines    []string
	capacity int
	head     int
	count    int
	ch       chan string
}

// RingCore is a zapcore.Core that keeps the last N formatted entries in
// memory and announces each one on Chan. The monitor reads from it.
type RingCore struct {
	ring     *ring
	minLevel zapcore.Level
	fields   []zapcore.Field
}

var _ zapcore.Core = (*RingCore)(nil)

func NewRingCore(capacity int, level zapcore.Level) *RingCore {
	if capacity <= 0 {
		capacity = defaultLogLines
	}
	return &RingCore{
		ring: &ring{
			lines:    make([]string, capacity),
			capacity: capacity,
			ch:       make(chan string, 100),
		},
		minLevel: level,
	}
}

func (c *RingCore) Enabled(level zapcore.Level) bool {
	return level >= c.minLevel
}

func (c *RingCore) With(fields []zapcore.Field) zapcore.Core {
	base := make([]zapcore.Field, len(c.fields), len(c.fields)+len(fields))
	copy(base, c.fields)
	return &RingCore{ring: c.ring, minLevel: c.minLevel, fields: append(base, fields...)}
}

func (c *RingCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *RingCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range c.fields {
		f.AddTo(enc)
	}
	for _, f := range fields {
		f.AddTo(enc)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %-5s ", ent.Time.Format("15:04:05"), strings.ToUpper(ent.Level.String()))
	if ent.LoggerName != "" {
		sb.WriteString(ent.LoggerName)
		sb.WriteString(": ")
	}
	sb.WriteString(ent.Message)

	keys := make([]string, 0, len(enc.Fields))
	for k := range enc.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, " %s=%v", k, enc.Fields[k])
	}

	c.ring.write(sb.String())
	return nil
}

func (c *RingCore) Sync() error { return nil }

// ReadAll returns the buffered lines, oldest first, newline terminated.
func (c *RingCore) ReadAll() string { return c.ring.readAll() }

// Chan delivers each line as it is written. Lines are dropped when nobody
// keeps up.
func (c *RingCore) Chan() <-chan string { return c.ring.ch }

func (r *ring) write(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lines[r.head] = line
	r.head = (r.head + 1) % r.capacity
	if r.count < r.capacity {
		r.count++
	}

	select {
	case r.ch <- line:
	default:
	}
}

func (r *ring) readAll() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == 0 {
		return ""
	}
	start := 0
	if r.count >= r.capacity {
		start = r.head
	}

	var sb strings.Builder
	for i := 0; i < r.count; i++ {
		sb.WriteString(r.lines[(start+i)%r.capacity])
		sb.WriteByte('\n')
	}
	return sb.String()
}

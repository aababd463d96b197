package memory

import (
	"fmt"
	"strings"
	"sync"

	"github.com/hupe1980/researchmesh/core"
)

// DefaultCapacity is the number of messages kept verbatim when no capacity is configured.
const DefaultCapacity = 50

// Summarizer folds evicted messages into a rolling summary.
type Summarizer interface {
	Summarize(previous string, evicted []core.Message) string
}

// SummarizerFunc adapts a function to Summarizer.
type SummarizerFunc func(previous string, evicted []core.Message) string

// Summarize implements Summarizer.
func (f SummarizerFunc) Summarize(previous string, evicted []core.Message) string {
	return f(previous, evicted)
}

// Options configure a Memory.
type Options struct {
	// Capacity bounds the number of verbatim messages.
	Capacity int
	// Summarizer receives evicted messages. Nil means plain eviction.
	Summarizer Summarizer
}

// Memory is a bounded, ordered, append-only log of Messages owned by one
// agent. On overflow the oldest messages are either folded into a summary
// (when a Summarizer is configured) or evicted.
//
// Concurrency: protected by RWMutex so status readers never race the owning
// agent.
type Memory struct {
	mu       sync.RWMutex
	opts     Options
	messages []core.Message
	summary  string
	evicted  int
}

// New creates an empty Memory.
func New(optFns ...func(o *Options)) *Memory {
	opts := Options{
		Capacity:   DefaultCapacity,
		Summarizer: NewExtractiveSummarizer(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	return &Memory{opts: opts, messages: make([]core.Message, 0, opts.Capacity)}
}

// Add appends msg, compacting the log when capacity is exceeded.
func (m *Memory) Add(msg core.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	if len(m.messages) <= m.opts.Capacity {
		return
	}
	m.compact()
}

// compact must be called with the write lock held.
func (m *Memory) compact() {
	n := len(m.messages) - m.opts.Capacity
	if m.opts.Summarizer != nil && m.opts.Capacity > 1 {
		// Fold the oldest half so summarization happens once per half window.
		n = len(m.messages) - m.opts.Capacity/2
	}
	evicted := make([]core.Message, n)
	copy(evicted, m.messages[:n])

	rest := make([]core.Message, len(m.messages)-n, m.opts.Capacity)
	copy(rest, m.messages[n:])
	m.messages = rest
	m.evicted += n

	if m.opts.Summarizer != nil {
		m.summary = m.opts.Summarizer.Summarize(m.summary, evicted)
	}
}

// Messages returns the prompt view: the summary (as a leading system message,
// if any) followed by the verbatim window. The slice is a copy.
func (m *Memory) Messages() []core.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]core.Message, 0, len(m.messages)+1)
	if m.summary != "" {
		out = append(out, core.NewTextMessage("memory", core.RoleSystem, "Summary of earlier conversation:\n"+m.summary))
	}
	return append(out, m.messages...)
}

// Window returns a copy of the verbatim messages only.
func (m *Memory) Window() []core.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]core.Message(nil), m.messages...)
}

// Last returns the most recent message.
func (m *Memory) Last() (core.Message, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.messages) == 0 {
		return core.Message{}, false
	}
	return m.messages[len(m.messages)-1], true
}

// Summary returns the rolling summary of evicted messages.
func (m *Memory) Summary() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.summary
}

// Len returns the number of verbatim messages.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.messages)
}

// Evicted returns how many messages left the verbatim window so far.
func (m *Memory) Evicted() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.evicted
}

// Capacity returns the configured bound.
func (m *Memory) Capacity() int { return m.opts.Capacity }

// Clear drops all messages and the summary.
func (m *Memory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = m.messages[:0]
	m.summary = ""
	m.evicted = 0
}

// ExtractiveSummarizer keeps one bounded line per evicted message and caps
// the total summary length, dropping the oldest lines first.
type ExtractiveSummarizer struct {
	SnippetLen int
	MaxLen     int
}

// NewExtractiveSummarizer returns a summarizer with default bounds.
func NewExtractiveSummarizer() *ExtractiveSummarizer {
	return &ExtractiveSummarizer{SnippetLen: 160, MaxLen: 2000}
}

// Summarize implements Summarizer.
func (s *ExtractiveSummarizer) Summarize(previous string, evicted []core.Message) string {
	lines := make([]string, 0, len(evicted)+1)
	if previous != "" {
		lines = append(lines, strings.Split(previous, "\n")...)
	}
	for _, msg := range evicted {
		lines = append(lines, fmt.Sprintf("- %s (%s): %s", msg.Role, msg.Sender, snippet(describe(msg), s.SnippetLen)))
	}
	for len(lines) > 1 && totalLen(lines) > s.MaxLen {
		lines = lines[1:]
	}
	return strings.Join(lines, "\n")
}

func describe(msg core.Message) string {
	if text := msg.Text(); text != "" {
		return text
	}
	var parts []string
	for _, c := range msg.ToolCalls() {
		parts = append(parts, fmt.Sprintf("called %s", c.Name))
	}
	for _, r := range msg.ToolResults() {
		if r.Success {
			parts = append(parts, fmt.Sprintf("%s returned %v", r.Name, r.Data))
		} else {
			parts = append(parts, fmt.Sprintf("%s failed: %s", r.Name, r.Error))
		}
	}
	return strings.Join(parts, "; ")
}

func snippet(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func totalLen(lines []string) int {
	n := 0
	for _, l := range lines {
		n += len(l) + 1
	}
	return n
}

package narration

import (
	"sync"
	"time"
)

const (
	DefaultWindow          = 3
	DefaultMaxContextChars = 1200
)

type Segment struct {
	FrameID string    `json:"frame_id"`
	Text    string    `json:"text"`
	At      time.Time `json:"at"`
}

type Config struct {
	// Window is the number of most recent segments embedded in the prompt.
	Window int
	// MaxContextChars bounds the embedded segments; the oldest are dropped first.
	MaxContextChars int
	Template        Template
}

// Context is the running narration of one session. History is append-only;
// only the prompt is windowed.
type Context struct {
	mu       sync.RWMutex
	history  []Segment
	window   int
	maxChars int
	template Template
}

func NewContext(cfg Config) *Context {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.MaxContextChars <= 0 {
		cfg.MaxContextChars = DefaultMaxContextChars
	}
	if cfg.Template.Instruction == "" {
		cfg.Template.Instruction = defaultInstruction
	}
	if cfg.Template.Continuation == "" {
		cfg.Template.Continuation = defaultContinuation
	}
	return &Context{
		window:   cfg.Window,
		maxChars: cfg.MaxContextChars,
		template: cfg.Template,
	}
}

func (c *Context) Append(seg Segment) {
	if seg.At.IsZero() {
		seg.At = time.Now()
	}
	c.mu.Lock()
	c.history = append(c.history, seg)
	c.mu.Unlock()
}

func (c *Context) Reset() {
	c.mu.Lock()
	c.history = nil
	c.mu.Unlock()
}

func (c *Context) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.history)
}

func (c *Context) History() []Segment {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Segment, len(c.history))
	copy(out, c.history)
	return out
}

func (c *Context) BuildPrompt() string {
	return c.template.Render(c.recent())
}

// recent returns the prompt window: at most c.window of the newest
// segments, oldest dropped until the text fits c.maxChars. The newest
// segment is always kept.
func (c *Context) recent() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	start := len(c.history) - c.window
	if start < 0 {
		start = 0
	}

	texts := make([]string, 0, len(c.history)-start)
	total := 0
	for i := len(c.history) - 1; i >= start; i-- {
		text := c.history[i].Text
		if len(texts) > 0 && total+len(text) > c.maxChars {
			break
		}
		total += len(text)
		texts = append(texts, text)
	}

	for i, j := 0, len(texts)-1; i < j; i, j = i+1, j-1 {
		texts[i], texts[j] = texts[j], texts[i]
	}
	return texts
}

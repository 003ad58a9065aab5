package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ChatSink delivers a rendered log line to an operator chat.
// The telegram channel implements it; logx never imports a transport.
type ChatSink interface {
	SendLog(ctx context.Context, chatID int64, text string) error
}

const (
	chatQueueSize  = 256
	chatMaxLen     = 3500
	chatMaxValue   = 600
	chatSendBudget = 10 * time.Second
)

type chatLine struct {
	chatID int64
	text   string
}

// chatForwarder is a zerolog.LevelWriter that renders events for a chat and
// hands them to a single sender goroutine. Writes never block logging; lines
// over the rate limit or a full queue are dropped.
type chatForwarder struct {
	mu       sync.Mutex
	sink     ChatSink
	chatID   int64
	minLevel zerolog.Level
	limiter  *rate.Limiter

	queue   chan chatLine
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func newChatForwarder(sink ChatSink) *chatForwarder {
	return &chatForwarder{
		sink:     sink,
		minLevel: zerolog.ErrorLevel,
		limiter:  rate.NewLimiter(1, 1),
		queue:    make(chan chatLine, chatQueueSize),
	}
}

func (c *chatForwarder) setSink(sink ChatSink) {
	c.mu.Lock()
	c.sink = sink
	c.mu.Unlock()
}

func (c *chatForwarder) setTarget(chatID int64) {
	c.mu.Lock()
	c.chatID = chatID
	c.mu.Unlock()
}

func (c *chatForwarder) configure(cfg TelegramConfig) {
	rps := cfg.RatePerSec
	if rps < 1 {
		rps = 1
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.minLevel = ParseLevel(cfg.MinLevel, zerolog.ErrorLevel)
	c.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	if cfg.Enabled && !c.started {
		ctx, cancel := context.WithCancel(context.Background())
		c.started, c.cancel, c.done = true, cancel, make(chan struct{})
		go c.run(ctx, c.done)
	}
}

func (c *chatForwarder) stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.started, c.cancel, c.done = false, nil, nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

func (c *chatForwarder) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case ln := <-c.queue:
			c.mu.Lock()
			sink := c.sink
			c.mu.Unlock()
			if sink == nil {
				continue
			}
			sctx, cancel := context.WithTimeout(ctx, chatSendBudget)
			_ = sink.SendLog(sctx, ln.chatID, ln.text)
			cancel()
		}
	}
}

func (c *chatForwarder) Write(p []byte) (int, error) {
	return c.WriteLevel(zerolog.InfoLevel, p)
}

func (c *chatForwarder) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	c.mu.Lock()
	chatID, sink, lim, minLevel, started := c.chatID, c.sink, c.limiter, c.minLevel, c.started
	c.mu.Unlock()

	if !started || chatID == 0 || sink == nil || level < minLevel || !lim.Allow() {
		return len(p), nil
	}
	text := renderChatLine(p)
	if text == "" {
		return len(p), nil
	}
	select {
	case c.queue <- chatLine{chatID: chatID, text: text}:
	default:
	}
	return len(p), nil
}

// renderChatLine turns a zerolog JSON event into
// "[LEVEL] message" followed by one "key=value" line per field, keys sorted.
func renderChatLine(p []byte) string {
	raw := strings.TrimSpace(string(p))
	var ev map[string]any
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		return clip(raw, chatMaxLen)
	}

	var b strings.Builder
	if lvl, _ := ev[zerolog.LevelFieldName].(string); lvl != "" {
		b.WriteString("[" + strings.ToUpper(lvl) + "] ")
	}
	msg, _ := ev[zerolog.MessageFieldName].(string)
	b.WriteString(msg)

	keys := make([]string, 0, len(ev))
	for k := range ev {
		switch k {
		case zerolog.LevelFieldName, zerolog.MessageFieldName, zerolog.TimestampFieldName, zerolog.CallerFieldName:
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n%s=%s", k, clip(fmt.Sprint(ev[k]), chatMaxValue))
	}
	return clip(b.String(), chatMaxLen)
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

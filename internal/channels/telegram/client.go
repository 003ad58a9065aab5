// Package telegram is the Telegram channel: it delivers notifications to
// subscribed chats and forwards inbound text messages to the bot dispatcher.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"serverwatch/internal/notifier"
	rtsup "serverwatch/internal/runtime/supervisor"
	logx "serverwatch/pkg/logx"

	"github.com/codeGROOVE-dev/retry"
	tele "gopkg.in/telebot.v4"
)

type Config struct {
	Enabled     bool
	Token       string
	APIURL      string // optional Bot API server, mainly for tests
	PollTimeout time.Duration
}

// Update is an inbound text message.
type Update struct {
	ChatID    int64
	FromID    int64
	Username  string
	FirstName string
	Text      string
	IsGroup   bool
}

// Command is a bot menu entry.
type Command struct {
	Command     string
	Description string
}

// Client implements notifier.Sender and logx.ChatSink.
type Client struct {
	cfg Config
	log logx.Logger

	mu     sync.RWMutex
	bot    *tele.Bot
	status notifier.Status

	out            atomic.Value // chan<- Update
	droppedUpdates atomic.Uint64

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor
}

func New(cfg Config, log logx.Logger) *Client {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Client{
		cfg:    cfg,
		log:    log.With(logx.String("comp", "telegram")),
		status: notifier.StatusUninitialized,
	}
	var nilOut chan<- Update
	c.out.Store(nilOut)
	return c
}

func (c *Client) Name() string { return notifier.ChannelTelegram }

func (c *Client) Status() notifier.Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

func (c *Client) setStatus(s notifier.Status) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

func (c *Client) currentBot() *tele.Bot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bot
}

// connect creates the bot (getMe) and registers the inbound handlers.
func (c *Client) connect(ctx context.Context) error {
	if strings.TrimSpace(c.cfg.Token) == "" {
		return errors.New("telegram token is empty")
	}
	st := tele.Settings{
		Token:  c.cfg.Token,
		URL:    c.cfg.APIURL,
		Poller: &tele.LongPoller{Timeout: c.cfg.PollTimeout},
		OnError: func(err error, _ tele.Context) {
			c.log.Warn("telebot error", logx.Err(err))
		},
	}

	var b *tele.Bot
	err := retry.Do(
		func() error {
			var err error
			b, err = tele.NewBot(st)
			return err
		},
		retry.Attempts(5),
		retry.Delay(2*time.Second),
		retry.MaxDelay(30*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			c.log.Warn("telegram connect failed, retrying", logx.Uint64("attempt", uint64(n)), logx.Err(err))
		}),
	)
	if err != nil {
		return fmt.Errorf("telegram connect: %w", err)
	}

	b.Handle(tele.OnText, func(tc tele.Context) error {
		m := tc.Message()
		if m == nil || m.Chat == nil {
			return nil
		}
		up := Update{ChatID: m.Chat.ID, Text: m.Text, IsGroup: m.Chat.Type != tele.ChatPrivate}
		if m.Sender != nil {
			up.FromID = m.Sender.ID
			up.Username = m.Sender.Username
			up.FirstName = m.Sender.FirstName
		}
		c.forward(up)
		return nil
	})

	c.mu.Lock()
	c.bot = b
	c.status = notifier.StatusReady
	c.mu.Unlock()
	c.log.Info("telegram ready", logx.String("bot", b.Me.Username))
	return nil
}

func (c *Client) forward(up Update) {
	out, _ := c.out.Load().(chan<- Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		c.droppedUpdates.Add(1)
	}
}

// Start connects in the background and then long-polls for updates, which are
// forwarded to out. The channel stays "connecting" until getMe succeeds.
func (c *Client) Start(ctx context.Context, out chan<- Update) error {
	if !c.cfg.Enabled {
		return nil
	}
	c.runMu.Lock()
	if c.running {
		c.runMu.Unlock()
		return nil
	}
	c.running = true
	c.out.Store(out)
	c.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(c.log),
		// channel failures must not take down the app
		rtsup.WithCancelOnError(false),
	)
	sup := c.sup
	c.runMu.Unlock()

	c.setStatus(notifier.StatusConnecting)

	sup.Go0("telegram.run", func(ctx context.Context) {
		if err := c.connect(ctx); err != nil {
			if ctx.Err() == nil {
				c.setStatus(notifier.StatusFailed)
				c.log.Error("telegram unavailable", logx.Err(err))
			}
			return
		}

		sup.Go0("telebot.stop_on_cancel", func(ctx context.Context) {
			<-ctx.Done()
			if b := c.currentBot(); b != nil {
				b.Stop()
			}
		})

		// Start blocks until Stop; restart it if it returns early.
		sup.GoRestart("telebot.poll", func(ctx context.Context) error {
			if b := c.currentBot(); b != nil {
				b.Start()
			}
			return nil
		},
			rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
			rtsup.WithStopOnCleanExit(false),
		)
	})

	sup.Go0("telegram.drop_report", func(ctx context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := c.droppedUpdates.Swap(0); n > 0 {
					c.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", cap(out)))
				}
			}
		}
	})
	return nil
}

// Stop stops polling. It never blocks shutdown longer than a short grace window.
func (c *Client) Stop(ctx context.Context) error {
	c.runMu.Lock()
	sup := c.sup
	c.sup = nil
	wasRunning := c.running
	c.running = false
	var nilOut chan<- Update
	c.out.Store(nilOut)
	c.runMu.Unlock()

	if !wasRunning || sup == nil {
		return nil
	}
	sup.Cancel()

	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		c.log.Warn("telegram stop incomplete", logx.Err(err))
	}
	c.setStatus(notifier.StatusUninitialized)
	c.log.Info("telegram stopped")
	return nil
}

// Send delivers msg.Text to the chat whose ID is recipient.
func (c *Client) Send(ctx context.Context, recipient string, msg notifier.Message) (notifier.Receipt, error) {
	chatID, err := strconv.ParseInt(strings.TrimSpace(recipient), 10, 64)
	if err != nil {
		return notifier.Receipt{}, fmt.Errorf("invalid chat id %q", recipient)
	}
	id, err := c.sendText(ctx, chatID, msg.Text)
	if err != nil {
		return notifier.Receipt{}, err
	}
	return notifier.Receipt{ID: strconv.Itoa(id), At: time.Now()}, nil
}

// Reply sends a plain text answer to an inbound message.
func (c *Client) Reply(ctx context.Context, chatID int64, text string) error {
	_, err := c.sendText(ctx, chatID, text)
	return err
}

// SendLog implements logx.ChatSink.
func (c *Client) SendLog(ctx context.Context, chatID int64, text string) error {
	_, err := c.sendText(ctx, chatID, text)
	return err
}

// SetCommands publishes the bot command menu.
func (c *Client) SetCommands(cmds []Command) error {
	b := c.currentBot()
	if b == nil {
		return notifier.ErrChannelUnavailable
	}
	out := make([]tele.Command, 0, len(cmds))
	for _, cmd := range cmds {
		out = append(out, tele.Command{Text: cmd.Command, Description: cmd.Description})
	}
	return b.SetCommands(out)
}

// sendText splits long text and returns the first message ID.
func (c *Client) sendText(ctx context.Context, chatID int64, text string) (int, error) {
	b := c.currentBot()
	if b == nil || c.Status() != notifier.StatusReady {
		return 0, notifier.ErrChannelUnavailable
	}
	chat := &tele.Chat{ID: chatID}
	first := 0
	for i, chunk := range splitText(text, textLimit) {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		m, err := b.Send(chat, chunk, &tele.SendOptions{DisableWebPagePreview: true})
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = m.ID
		}
	}
	return first, nil
}

const textLimit = 4000

// splitText splits long messages into chunks Telegram accepts, preferring
// newline boundaries.
func splitText(s string, limit int) []string {
	if limit <= 0 {
		limit = textLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := start + limit
		if end > len(rs) {
			end = len(rs)
		}
		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				// avoid tiny chunks
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}
		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

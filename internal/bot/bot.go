// Package bot handles inbound chat commands: subscription management and
// read-only status queries, plus owner-only admin actions.
package bot

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"serverwatch/internal/channels/telegram"
	"serverwatch/internal/model"
	"serverwatch/internal/notifier"
	"serverwatch/internal/storage"
	logx "serverwatch/pkg/logx"
)

// Store is the slice of storage.Store the bot needs.
type Store interface {
	UpsertSubscription(ctx context.Context, sub model.Subscription) error
	SetSubscriptionWants(ctx context.Context, channel, recipient string, wants bool) error
	ListTargets(ctx context.Context, activeOnly bool) ([]model.Target, error)
	ListIncidents(ctx context.Context, f storage.IncidentFilter) ([]model.Incident, error)
}

type Replier interface {
	Reply(ctx context.Context, chatID int64, text string) error
}

type Checker interface {
	CheckTarget(ctx context.Context, id string) error
}

type Resolver interface {
	Resolve(ctx context.Context, id string) (model.Incident, error)
}

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type HandlerFunc func(ctx context.Context, req *Request) (string, error)

type Command struct {
	Name        string
	Description string
	Usage       string
	Access      Access
	Handle      HandlerFunc
}

type Request struct {
	Update  telegram.Update
	Command string
	Args    []string
}

type Config struct {
	OwnerIDs       []int64
	CommandTimeout time.Duration
}

type Dispatcher struct {
	cfg      Config
	store    Store
	reply    Replier
	checker  Checker
	resolver Resolver
	log      logx.Logger

	commands map[string]Command

	ownersMu sync.RWMutex
	owners   []int64
}

func New(cfg Config, store Store, reply Replier, checker Checker, resolver Resolver, log logx.Logger) *Dispatcher {
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 30 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Dispatcher{
		cfg:      cfg,
		store:    store,
		reply:    reply,
		checker:  checker,
		resolver: resolver,
		log:      log.With(logx.String("comp", "bot")),
		commands: map[string]Command{},
		owners:   append([]int64(nil), cfg.OwnerIDs...),
	}
	d.registerBuiltins()
	return d
}

// Commands returns the public command menu, sorted by name.
func (d *Dispatcher) Commands() []telegram.Command {
	out := make([]telegram.Command, 0, len(d.commands))
	for _, c := range d.commands {
		if c.Access != AccessEveryone {
			continue
		}
		out = append(out, telegram.Command{Command: c.Name, Description: c.Description})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Command < out[j].Command })
	return out
}

// Run consumes updates until ctx is done or the channel closes.
func (d *Dispatcher) Run(ctx context.Context, updates <-chan telegram.Update) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			d.Handle(ctx, up)
		}
	}
}

// Handle processes a single update. Non-command text is ignored; every sender
// is remembered as a known chat.
func (d *Dispatcher) Handle(ctx context.Context, up telegram.Update) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.CommandTimeout)
	defer cancel()

	if err := d.touch(ctx, up); err != nil {
		d.log.Warn("subscription touch failed", logx.Int64("chat_id", up.ChatID), logx.Err(err))
	}

	name, args, ok := parseCommand(up.Text)
	if !ok {
		return
	}
	cmd, found := d.commands[name]
	if !found {
		d.send(ctx, up.ChatID, "Unknown command. Try /help.")
		return
	}
	if cmd.Access == AccessOwnerOnly && !d.isOwner(up.FromID) {
		d.log.Warn("owner-only command denied", logx.String("cmd", name), logx.Int64("from", up.FromID))
		d.send(ctx, up.ChatID, "This command is restricted.")
		return
	}

	start := time.Now()
	text, err := d.run(ctx, cmd, &Request{Update: up, Command: name, Args: args})
	if err != nil {
		d.log.Warn("command failed", logx.String("cmd", name), logx.Int64("chat_id", up.ChatID), logx.Err(err))
		text = "Error: " + err.Error()
	} else {
		d.log.Debug("command handled", logx.String("cmd", name), logx.Duration("took", time.Since(start)))
	}
	if text != "" {
		d.send(ctx, up.ChatID, text)
	}
}

func (d *Dispatcher) run(ctx context.Context, cmd Command, req *Request) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("command panicked", logx.String("cmd", cmd.Name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			err = errors.New("internal error")
		}
	}()
	return cmd.Handle(ctx, req)
}

func (d *Dispatcher) send(ctx context.Context, chatID int64, text string) {
	if err := d.reply.Reply(ctx, chatID, text); err != nil {
		d.log.Warn("reply failed", logx.Int64("chat_id", chatID), logx.Err(err))
	}
}

// touch records the chat as known without changing its opt-in state. New chats
// start subscribed only when they send /start or /subscribe.
func (d *Dispatcher) touch(ctx context.Context, up telegram.Update) error {
	return d.store.UpsertSubscription(ctx, model.Subscription{
		Channel:     notifier.ChannelTelegram,
		Recipient:   strconv.FormatInt(up.ChatID, 10),
		DisplayName: displayName(up),
		LastSeen:    time.Now(),
	})
}

// SetOwners replaces the users allowed to run owner-only commands.
func (d *Dispatcher) SetOwners(ids []int64) {
	d.ownersMu.Lock()
	d.owners = append([]int64(nil), ids...)
	d.ownersMu.Unlock()
}

func (d *Dispatcher) isOwner(id int64) bool {
	d.ownersMu.RLock()
	defer d.ownersMu.RUnlock()
	for _, o := range d.owners {
		if o == id {
			return true
		}
	}
	return false
}

func displayName(up telegram.Update) string {
	if up.Username != "" {
		return "@" + up.Username
	}
	return up.FirstName
}

// parseCommand splits "/cmd@bot arg1 arg2" into ("cmd", [arg1 arg2]).
func parseCommand(text string) (string, []string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}
	fields := strings.Fields(text[1:])
	if len(fields) == 0 {
		return "", nil, false
	}
	name := strings.ToLower(fields[0])
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	if name == "" {
		return "", nil, false
	}
	return name, fields[1:], true
}

func usage(cmd Command) error {
	return fmt.Errorf("usage: %s", cmd.Usage)
}

package bot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"serverwatch/internal/model"
	"serverwatch/internal/notifier"
	"serverwatch/internal/storage"
	logx "serverwatch/pkg/logx"
)

func (d *Dispatcher) registerBuiltins() {
	for _, c := range []Command{
		{Name: "start", Description: "Subscribe to alerts", Handle: d.cmdSubscribe},
		{Name: "subscribe", Description: "Subscribe to alerts", Handle: d.cmdSubscribe},
		{Name: "unsubscribe", Description: "Stop receiving alerts", Handle: d.cmdUnsubscribe},
		{Name: "status", Description: "Show monitored servers", Handle: d.cmdStatus},
		{Name: "incidents", Description: "Show active incidents", Handle: d.cmdIncidents},
		{Name: "help", Description: "List commands", Handle: d.cmdHelp},
		{Name: "check", Description: "Force a check", Usage: "/check <target id or name>", Access: AccessOwnerOnly, Handle: d.cmdCheck},
		{Name: "resolve", Description: "Resolve an incident", Usage: "/resolve <incident id>", Access: AccessOwnerOnly, Handle: d.cmdResolve},
	} {
		d.commands[c.Name] = c
	}
}

func (d *Dispatcher) cmdSubscribe(ctx context.Context, req *Request) (string, error) {
	id := strconv.FormatInt(req.Update.ChatID, 10)
	if err := d.store.SetSubscriptionWants(ctx, notifier.ChannelTelegram, id, true); err != nil {
		return "", err
	}
	d.log.Info("chat subscribed", logx.String("chat_id", id))
	return "Subscribed. You will receive server alerts here. Send /unsubscribe to stop.", nil
}

func (d *Dispatcher) cmdUnsubscribe(ctx context.Context, req *Request) (string, error) {
	id := strconv.FormatInt(req.Update.ChatID, 10)
	if err := d.store.SetSubscriptionWants(ctx, notifier.ChannelTelegram, id, false); err != nil {
		return "", err
	}
	d.log.Info("chat unsubscribed", logx.String("chat_id", id))
	return "Unsubscribed. Send /subscribe to receive alerts again.", nil
}

func (d *Dispatcher) cmdStatus(ctx context.Context, req *Request) (string, error) {
	targets, err := d.store.ListTargets(ctx, false)
	if err != nil {
		return "", err
	}
	if len(targets) == 0 {
		return "No servers are being monitored.", nil
	}
	var b strings.Builder
	b.WriteString("Servers:\n")
	for _, t := range targets {
		b.WriteString(statusLine(t))
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func statusLine(t model.Target) string {
	if !t.Active {
		return fmt.Sprintf("⏸ %s (paused)", t.Name)
	}
	r := t.LastStatus
	if r == nil {
		return fmt.Sprintf("⏳ %s (not checked yet)", t.Name)
	}
	if !r.Healthy {
		return fmt.Sprintf("🔴 %s offline, uptime %.1f%%", t.Name, t.Stats.UptimePercent())
	}
	line := fmt.Sprintf("🟢 %s %dms", t.Name, r.Latency.Milliseconds())
	if r.Occupancy.Max > 0 {
		line += fmt.Sprintf(", %d/%d players", r.Occupancy.Current, r.Occupancy.Max)
	}
	return line + fmt.Sprintf(", uptime %.1f%%", t.Stats.UptimePercent())
}

func (d *Dispatcher) cmdIncidents(ctx context.Context, req *Request) (string, error) {
	list, err := d.store.ListIncidents(ctx, storage.IncidentFilter{Status: string(model.IncidentActive), Limit: 20})
	if err != nil {
		return "", err
	}
	if len(list) == 0 {
		return "No active incidents.", nil
	}
	var b strings.Builder
	b.WriteString("Active incidents:\n")
	for _, inc := range list {
		fmt.Fprintf(&b, "[%s] %s since %s (id %s)\n",
			strings.ToUpper(string(inc.Severity)), inc.Title, inc.CreatedAt.UTC().Format("Jan 2 15:04 MST"), shortID(inc.ID))
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (d *Dispatcher) cmdHelp(ctx context.Context, req *Request) (string, error) {
	names := make([]string, 0, len(d.commands))
	for n := range d.commands {
		names = append(names, n)
	}
	sort.Strings(names)

	owner := d.isOwner(req.Update.FromID)
	var b strings.Builder
	b.WriteString("Commands:\n")
	for _, n := range names {
		c := d.commands[n]
		if c.Access == AccessOwnerOnly && !owner {
			continue
		}
		fmt.Fprintf(&b, "/%s - %s\n", c.Name, c.Description)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (d *Dispatcher) cmdCheck(ctx context.Context, req *Request) (string, error) {
	if len(req.Args) == 0 {
		return "", usage(d.commands["check"])
	}
	t, err := d.findTarget(ctx, strings.Join(req.Args, " "))
	if err != nil {
		return "", err
	}
	if err := d.checker.CheckTarget(ctx, t.ID); err != nil {
		return "", err
	}
	return fmt.Sprintf("Checked %s. Send /status for the result.", t.Name), nil
}

func (d *Dispatcher) cmdResolve(ctx context.Context, req *Request) (string, error) {
	if len(req.Args) != 1 {
		return "", usage(d.commands["resolve"])
	}
	id := req.Args[0]
	if len(id) < 36 {
		full, err := d.expandIncidentID(ctx, id)
		if err != nil {
			return "", err
		}
		id = full
	}
	inc, err := d.resolver.Resolve(ctx, id)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Resolved: %s", inc.Title), nil
}

func (d *Dispatcher) findTarget(ctx context.Context, ref string) (model.Target, error) {
	targets, err := d.store.ListTargets(ctx, false)
	if err != nil {
		return model.Target{}, err
	}
	for _, t := range targets {
		if t.ID == ref || strings.EqualFold(t.Name, ref) {
			return t, nil
		}
	}
	return model.Target{}, fmt.Errorf("no server matches %q", ref)
}

// expandIncidentID resolves the short ID shown by /incidents.
func (d *Dispatcher) expandIncidentID(ctx context.Context, prefix string) (string, error) {
	list, err := d.store.ListIncidents(ctx, storage.IncidentFilter{Status: string(model.IncidentActive), Limit: 1000})
	if err != nil {
		return "", err
	}
	var match string
	for _, inc := range list {
		if strings.HasPrefix(inc.ID, prefix) {
			if match != "" {
				return "", errors.New("ambiguous incident id")
			}
			match = inc.ID
		}
	}
	if match == "" {
		return "", storage.ErrNotFound
	}
	return match, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

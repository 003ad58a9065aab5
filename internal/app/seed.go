package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"serverwatch/internal/model"
	logx "serverwatch/pkg/logx"

	"github.com/google/uuid"
)

var timeNow = time.Now

// seedTargets creates the configured targets on first boot. Once the store
// holds any target the seed list is ignored, so removals made through the API
// stick across restarts.
func (a *App) seedTargets(ctx context.Context) error {
	if len(a.seeds) == 0 {
		return nil
	}
	existing, err := a.store.ListTargets(ctx, false)
	if err != nil {
		return fmt.Errorf("list targets: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}

	defPoll := a.settings.Get().DefaultPoll
	now := timeNow()
	for _, s := range a.seeds {
		variant, ok := model.ParseVariant(s.Variant)
		if !ok {
			return fmt.Errorf("seed %q: unknown variant %q", s.Name, s.Variant)
		}
		poll := s.PollInterval
		if poll <= 0 {
			poll = defPoll
		}
		t := model.Target{
			ID:           uuid.New().String(),
			Name:         strings.TrimSpace(s.Name),
			Address:      strings.TrimSpace(s.Address),
			Variant:      variant,
			PollInterval: poll,
			Active:       true,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := a.store.CreateTarget(ctx, t); err != nil {
			return fmt.Errorf("seed %q: %w", s.Name, err)
		}
		a.log.Info("target seeded", logx.String("target", t.ID), logx.String("name", t.Name), logx.String("address", t.Address))
	}
	return nil
}

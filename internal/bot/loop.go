// Package bot runs the main moderation loop: it keeps the per-community
// rule sets loaded, polls the item queues, and processes the bot account's
// inbox for wiki-update commands and moderator invitations.
package bot

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"automod/internal/config"
	"automod/internal/engine"
	"automod/internal/rules"
	"automod/internal/site"
	"automod/internal/store"
)

const (
	loginRetryDelay = 10 * time.Second
	cycleDelay      = 30 * time.Second
	errorBackoff    = time.Minute
)

// Bot owns the moderation loop.
type Bot struct {
	cfg    *config.Config
	client site.Client
	st     *store.Store
	std    *rules.Standards
	disp   *engine.Dispatcher
	log    *zap.Logger

	comms     map[string]*engine.CommunityRules // keyed by lowercased name
	moderated map[string]bool                   // communities the bot moderates

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration)
}

// New wires a bot from its parts. st backs the standards cache, the action
// log and the queue watermarks.
func New(cfg *config.Config, client site.Client, st *store.Store, log *zap.Logger) *Bot {
	std := rules.NewStandards(st)
	ranks := engine.NewRankCache(client, 0)
	matcher := engine.NewMatcher(client, ranks, log)
	executor := engine.NewExecutor(client, st, cfg.Site.Disclaimer, cfg.Site.BaseURL, log)
	disp := engine.NewDispatcher(client, matcher, executor, ranks, st, st,
		cfg.Site.Username, log)

	return &Bot{
		cfg:       cfg,
		client:    client,
		st:        st,
		std:       std,
		disp:      disp,
		log:       log,
		comms:     make(map[string]*engine.CommunityRules),
		moderated: make(map[string]bool),
		now:       time.Now,
		sleep:     sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Run logs in and cycles until ctx is canceled. Transient failures are
// logged and retried; the loop only exits with the context.
func (b *Bot) Run(ctx context.Context) error {
	if err := b.startup(ctx); err != nil {
		return err
	}

	reportsPeriod := time.Duration(b.cfg.Poll.ReportsCheckPeriodMins) * time.Minute
	lastReportsCheck := b.now()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := b.cycle(ctx, &lastReportsCheck, reportsPeriod); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if site.IsForbidden(err) {
				b.log.Warn("permissions error, reloading moderated communities",
					zap.Error(err))
				if err := b.reloadModerated(ctx); err != nil {
					return err
				}
			} else {
				b.log.Error("cycle failed", zap.Error(err))
				b.sleep(ctx, errorBackoff)
			}
			continue
		}

		b.sleep(ctx, cycleDelay)
	}
}

// startup logs in (retrying until it works), discovers the moderated
// communities and loads every enabled rule set.
func (b *Bot) startup(ctx context.Context) error {
	for {
		err := b.client.Login(ctx)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b.log.Error("login failed, retrying", zap.Error(err))
		b.sleep(ctx, loginRetryDelay)
	}
	b.log.Info("logged in", zap.String("user", b.cfg.Site.Username))

	if err := b.reloadModerated(ctx); err != nil {
		return err
	}
	if _, err := b.std.Refresh(); err != nil {
		return err
	}
	return b.refreshCommunities(true)
}

func (b *Bot) cycle(ctx context.Context, lastReportsCheck *time.Time, reportsPeriod time.Duration) error {
	log := b.log.With(zap.String("cycle", uuid.NewString()))
	log.Debug("starting cycle")

	// Standard condition edits invalidate every compiled rule set.
	changed, err := b.std.Refresh()
	if err != nil {
		return err
	}
	if err := b.refreshCommunities(changed); err != nil {
		return err
	}

	lookback := time.Duration(b.cfg.Poll.ReportBacklogHours) * time.Hour
	if b.now().Sub(*lastReportsCheck) > reportsPeriod {
		*lastReportsCheck = b.now()
		if err := b.disp.RunQueue(ctx, site.QueueReport, b.comms, lookback); err != nil {
			return err
		}
	}

	for _, queue := range site.Queues {
		if queue == site.QueueReport {
			continue
		}
		if err := b.disp.RunQueue(ctx, queue, b.comms, lookback); err != nil {
			return err
		}
	}

	updated, err := b.processInbox(ctx)
	if err != nil {
		return err
	}
	for _, name := range updated {
		if !b.moderated[name] {
			if err := b.reloadModerated(ctx); err != nil {
				return err
			}
			break
		}
	}

	log.Debug("cycle complete")
	return nil
}

// reloadModerated re-fetches the list of communities the bot moderates.
func (b *Bot) reloadModerated(ctx context.Context) error {
	names, err := b.client.ModeratedCommunities(ctx)
	if err != nil {
		return err
	}
	moderated := make(map[string]bool, len(names))
	for _, name := range names {
		moderated[strings.ToLower(name)] = true
	}
	b.moderated = moderated
	return nil
}

// refreshCommunities syncs the in-memory rule sets with the enabled rows,
// dropping communities the bot no longer moderates. When rebuild is set
// every rule set is recompiled; otherwise only new communities are built.
func (b *Bot) refreshCommunities(rebuild bool) error {
	rows, err := b.st.EnabledCommunities()
	if err != nil {
		return err
	}

	seen := make(map[string]bool, len(rows))
	for _, row := range rows {
		name := strings.ToLower(row.Name)
		if !b.moderated[name] {
			continue
		}
		seen[name] = true
		if _, ok := b.comms[name]; ok && !rebuild {
			continue
		}
		if err := b.loadCommunity(row); err != nil {
			// A broken stored rule set keeps its previous compiled form if
			// one exists.
			b.log.Error("failed to load rules", zap.String("community", name),
				zap.Error(err))
		}
	}

	for name := range b.comms {
		if !seen[name] {
			delete(b.comms, name)
		}
	}
	return nil
}

// loadCommunity compiles one community's stored rule document and installs
// it, carrying over the persisted queue watermarks.
func (b *Bot) loadCommunity(row *store.Community) error {
	conds, err := rules.LoadRuleSet(row.ConditionsYAML, b.std)
	if err != nil {
		return err
	}
	name := strings.ToLower(row.Name)
	lastSeen := map[site.Queue]time.Time{
		site.QueueSubmission: row.LastSubmission,
		site.QueueSpam:       row.LastSpam,
		site.QueueComment:    row.LastComment,
	}
	b.comms[name] = engine.NewCommunityRules(name, row.ExcludeBannedModqueue, lastSeen, conds)
	return nil
}

package engine

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"automod/internal/rules"
	"automod/internal/site"
)

// maxGroupLen caps the combined length of a community group's names so the
// joined listing URL stays within server limits.
const maxGroupLen = 3300

// LoggedAction is one row of an item's action history.
type LoggedAction struct {
	ConditionYAML string
	Action        string
}

// ActionHistory reads the rows previously written for an item.
type ActionHistory interface {
	ActionsForItem(fullname string) ([]LoggedAction, error)
}

// Watermarks persists per-queue last-seen timestamps.
type Watermarks interface {
	SetLastSeen(community string, queue site.Queue, t time.Time) error
}

// CommunityRules is one community's compiled ruleset, pre-filtered per queue,
// plus the state the dispatcher needs while walking listings.
type CommunityRules struct {
	Name                  string
	ExcludeBannedModqueue bool
	LastSeen              map[site.Queue]time.Time
	Queues                map[site.Queue][]*rules.Condition
}

// NewCommunityRules pre-filters conds for every queue.
func NewCommunityRules(name string, excludeBanned bool, lastSeen map[site.Queue]time.Time, conds []*rules.Condition) *CommunityRules {
	queues := make(map[site.Queue][]*rules.Condition, len(site.Queues))
	for _, q := range site.Queues {
		queues[q] = FilterForQueue(conds, q)
	}
	if lastSeen == nil {
		lastSeen = make(map[site.Queue]time.Time)
	}
	return &CommunityRules{
		Name:                  name,
		ExcludeBannedModqueue: excludeBanned,
		LastSeen:              lastSeen,
		Queues:                queues,
	}
}

// FilterForQueue returns the conditions worth evaluating in a queue. Reported
// items only surface in the report and spam listings, so conditions gated on
// a reports threshold are dropped from the new-item listings, and vice versa.
func FilterForQueue(conds []*rules.Condition, queue site.Queue) []*rules.Condition {
	var out []*rules.Condition
	for _, c := range conds {
		switch queue {
		case site.QueueSpam:
			if c.ReportsThreshold < 1 && !(c.Action == "report" && c.Report != "") {
				out = append(out, c)
			}
		case site.QueueReport:
			if c.Action != "report" && c.Report == "" &&
				(c.Action != "approve" || c.ReportsThreshold > 0) {
				out = append(out, c)
			}
		case site.QueueSubmission:
			if (c.Type == "submission" || c.Type == "both") &&
				c.ReportsThreshold < 1 &&
				(c.Action != "approve" || c.Report != "") {
				out = append(out, c)
			}
		case site.QueueComment:
			if (c.Type == "comment" || c.Type == "both") &&
				c.ReportsThreshold < 1 &&
				(c.Action != "approve" || c.Report != "") {
				out = append(out, c)
			}
		}
	}
	return out
}

// BuildGroups splits community names into batches whose joined length stays
// under limit, so one listing request can cover many communities.
func BuildGroups(names []string, limit int) [][]string {
	var groups [][]string
	var current []string
	length := 0
	for _, name := range names {
		if length > limit {
			groups = append(groups, current)
			current = nil
			length = 0
		}
		current = append(current, name)
		length += len(name) + 1
	}
	groups = append(groups, current)
	return groups
}

// Dispatcher walks queue listings and runs the matcher and executor over
// each item.
type Dispatcher struct {
	client   site.Client
	matcher  *Matcher
	executor *Executor
	ranks    *RankCache
	history  ActionHistory
	marks    Watermarks
	log      *zap.Logger
	botUser  string
	now      func() time.Time
}

// NewDispatcher wires a dispatcher. botUser is the bot's own account name,
// used to skip its own comments and to allow re-removal of items it approved
// itself.
func NewDispatcher(client site.Client, matcher *Matcher, executor *Executor, ranks *RankCache,
	history ActionHistory, marks Watermarks, botUser string, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		client:   client,
		matcher:  matcher,
		executor: executor,
		ranks:    ranks,
		history:  history,
		marks:    marks,
		log:      log,
		botUser:  botUser,
		now:      time.Now,
	}
}

// RunQueue checks one queue across all communities that have conditions for
// it. reportLookback bounds how far back the report queue is walked; the
// other queues stop at the newest previously seen item.
func (d *Dispatcher) RunQueue(ctx context.Context, queue site.Queue, comms map[string]*CommunityRules, reportLookback time.Duration) error {
	var names []string
	for name, comm := range comms {
		if len(comm.Queues[queue]) > 0 {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil
	}
	sort.Strings(names)

	for _, group := range BuildGroups(names, maxGroupLen) {
		var stop time.Time
		if queue == site.QueueReport {
			stop = d.now().Add(-reportLookback)
		} else {
			for _, name := range group {
				if last := comms[name].LastSeen[queue]; last.After(stop) {
					stop = last
				}
			}
		}

		items, err := d.client.ListQueue(ctx, group, queue)
		if err != nil {
			return err
		}
		if err := d.checkItems(ctx, queue, items, stop, comms); err != nil {
			return err
		}
	}
	return nil
}

// checkItems walks a newest-first listing until the stop time, evaluating
// each item's conditions. Watermarks advance to the first (newest) item seen
// per community, persisted only after the whole listing is processed.
func (d *Dispatcher) checkItems(ctx context.Context, queue site.Queue, items []*site.Item, stop time.Time, comms map[string]*CommunityRules) error {
	lastUpdates := make(map[string]time.Time)
	count := 0
	start := d.now()

	for _, item := range items {
		// Reported-but-not-removed items also surface in the spam listing.
		if queue == site.QueueSpam && item.BannedBy == "" {
			continue
		}

		if item.Kind == site.KindComment && strings.EqualFold(item.Author, d.botUser) {
			continue
		}

		// Mod-approved submissions can reappear above the watermark, so the
		// submission walk only stops on an unapproved old item.
		if item.Created.Before(stop) &&
			(queue != site.QueueSubmission || item.ApprovedBy == "") {
			break
		}

		comm := comms[strings.ToLower(item.Community)]
		if comm == nil {
			continue
		}

		if queue != site.QueueReport &&
			(queue != site.QueueSubmission || item.ApprovedBy == "") {
			if _, ok := lastUpdates[comm.Name]; !ok {
				lastUpdates[comm.Name] = item.Created
			}
		}

		conds := comm.Queues[queue]
		checkShadowbanned := queue == site.QueueSpam && !comm.ExcludeBannedModqueue
		for _, c := range conds {
			c.CheckShadowbanned = checkShadowbanned
		}

		count++
		d.log.Debug("checking item",
			zap.String("queue", string(queue)),
			zap.String("item", item.Fullname),
			zap.Duration("age", d.now().Sub(item.Created)))

		if err := d.checkConditions(ctx, item, conds); err != nil {
			if site.IsForbidden(err) {
				d.log.Error("permissions error",
					zap.String("community", comm.Name), zap.Error(err))
			}
			return err
		}
	}

	for name, t := range lastUpdates {
		if err := d.marks.SetLastSeen(name, queue, t); err != nil {
			return err
		}
		comms[name].LastSeen[queue] = t
	}

	d.log.Info("checked queue",
		zap.String("queue", string(queue)),
		zap.Int("items", count),
		zap.Duration("elapsed", d.now().Sub(start)))
	return nil
}

// checkConditions evaluates an item against its community's conditions:
// first the removal conditions, stopping at the first match, then everything
// else.
func (d *Dispatcher) checkConditions(ctx context.Context, item *site.Item, conds []*rules.Condition) error {
	var kindMatched []*rules.Condition
	for _, c := range conds {
		if item.Kind == site.KindSubmission && c.Type != "submission" && c.Type != "both" {
			continue
		}
		if item.Kind == site.KindComment && c.Type != "comment" && c.Type != "both" {
			continue
		}
		kindMatched = append(kindMatched, c)
	}

	entries, err := d.history.ActionsForItem(item.Fullname)
	if err != nil {
		return err
	}
	performedActions := make(map[string]bool, len(entries))
	performedYAML := make(map[string]bool, len(entries))
	for _, e := range entries {
		performedActions[e.Action] = true
		performedYAML[e.ConditionYAML] = true
	}

	sorted := make([]*rules.Condition, len(kindMatched))
	copy(sorted, kindMatched)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].RequestsRequired() < sorted[j].RequestsRequired()
	})
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority > sorted[j].Priority
	})

	var removal, other []*rules.Condition
	for _, c := range sorted {
		if c.Action == "remove" || c.Action == "spam" {
			removal = append(removal, c)
		}
		if (c.Action != "remove" && c.Action != "spam") || c.Report != "" {
			other = append(other, c)
		}
	}

	matched, err := d.evaluate(ctx, item, removal, performedActions, performedYAML, true)
	if err != nil {
		return err
	}
	if matched {
		return nil
	}
	_, err = d.evaluate(ctx, item, other, performedActions, performedYAML, false)
	return err
}

func (d *Dispatcher) evaluate(ctx context.Context, item *site.Item, conds []*rules.Condition,
	performedActions, performedYAML map[string]bool, stopAfterMatch bool) (bool, error) {
	anyMatched := false
	for _, c := range conds {
		removing := c.Action == "remove" || c.Action == "spam" ||
			c.Action == "report" || c.Report != ""

		if c.ModeratorsExempt && removing && item.Author != "" {
			isMod, err := d.ranks.IsModerator(ctx, item.Author, item.Community)
			if err != nil {
				return anyMatched, err
			}
			if isMod {
				continue
			}
		}

		// Never re-remove what another moderator approved.
		if (c.Action == "remove" || c.Action == "spam") &&
			item.ApprovedBy != "" && !strings.EqualFold(item.ApprovedBy, d.botUser) {
			continue
		}

		if performedActions[c.Action] || (c.Report != "" && performedActions["report"]) {
			continue
		}
		if c.SendsMessage() && performedYAML[c.YAMLSource] {
			continue
		}

		if c.HasLinkFlair() && item.Kind == site.KindSubmission &&
			(item.LinkFlairText != "" || item.LinkFlairCSS != "") {
			continue
		}
		if c.HasUserFlair() && !c.OverwriteUserFlair &&
			(item.AuthorFlairText != "" || item.AuthorFlairCSS != "") {
			continue
		}

		res, err := d.matcher.Check(ctx, c, item)
		if err == nil && res.Matched {
			err = d.executor.Execute(ctx, c, item, res)
		}
		if err != nil {
			var se *site.StatusError
			if errors.As(err, &se) {
				return anyMatched, err
			}
			d.log.Error("condition check failed",
				zap.String("item", item.Fullname), zap.Error(err))
			continue
		}
		if !res.Matched {
			continue
		}

		if c.Action != "" || c.SendsMessage() {
			performedActions[c.Action] = true
		}
		if c.Report != "" {
			performedActions["report"] = true
		}
		performedYAML[c.YAMLSource] = true

		anyMatched = true
		if stopAfterMatch {
			break
		}
	}
	return anyMatched, nil
}

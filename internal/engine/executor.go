package engine

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"automod/internal/rules"
	"automod/internal/site"
)

// ActionLog is the append-only log the executor writes after each external
// effect. It is consulted (via the dispatcher) for idempotence.
type ActionLog interface {
	AppendAction(itemFullname, conditionYAML, action string) error
}

// Executor performs a matched condition's actions in a fixed order, writing
// log rows after the external effects so re-entry after a crash replays
// at-least-once with the log as the idempotence guard.
type Executor struct {
	client     site.Client
	actions    ActionLog
	log        *zap.Logger
	disclaimer string
	baseURL    string
}

// NewExecutor returns an executor. disclaimer is appended to comments and
// private messages; baseURL roots generated permalinks.
func NewExecutor(client site.Client, actions ActionLog, disclaimer, baseURL string, log *zap.Logger) *Executor {
	return &Executor{client: client, actions: actions, log: log, disclaimer: disclaimer, baseURL: baseURL}
}

// Execute applies the condition's actions to the item. Invoked only after
// the matcher returned true. The spam-queue shadowban guard may suppress
// execution entirely: approving a shadowbanned user's item would unhide it,
// unless the rule matched on the username itself.
func (e *Executor) Execute(ctx context.Context, c *rules.Condition, item *site.Item, res MatchResult) error {
	if c.Action == "approve" && c.Report == "" && c.CheckShadowbanned &&
		!res.UsernameMatch && item.Author != "" {
		banned, err := e.userShadowbanned(ctx, item.Author)
		if err != nil {
			return err
		}
		if banned {
			e.log.Debug("suppressing approve of shadowbanned user's item",
				zap.String("item", item.Fullname), zap.String("user", item.Author))
			return nil
		}
	}

	var logActions []string
	if c.Action != "" || c.SendsMessage() {
		logActions = append(logActions, c.Action)
	} else if c.Report != "" {
		logActions = append(logActions, "report")
	}

	switch c.Action {
	case "remove":
		if err := e.client.Remove(ctx, item.Fullname, false); err != nil {
			return err
		}
	case "spam":
		if err := e.client.Remove(ctx, item.Fullname, true); err != nil {
			return err
		}
	case "approve":
		if err := e.client.Approve(ctx, item.Fullname); err != nil {
			return err
		}
	}

	if c.Action == "report" || c.Report != "" {
		reason := ""
		if c.ReportReason != "" {
			reason = truncate(ExpandPlaceholders(c.ReportReason, item, res.Groups, e.baseURL), maxSubjectLen)
		} else if c.Report != "" {
			reason = truncate(ExpandPlaceholders(c.Report, item, res.Groups, e.baseURL), maxSubjectLen)
		}
		if err := e.client.Report(ctx, item.Fullname, reason); err != nil {
			return err
		}
	}

	if item.Kind == site.KindSubmission {
		for _, opt := range c.SetOptions {
			if opt == "nsfw" && item.Over18 {
				continue
			}
			if err := e.client.SetThreadOption(ctx, item.Fullname, opt); err != nil {
				return err
			}
		}
	}

	// Existing flair is never overwritten: any link flair wins, and user
	// flair only yields to overwrite_user_flair.
	if item.Kind == site.KindSubmission && c.HasLinkFlair() &&
		item.LinkFlairText == "" && item.LinkFlairCSS == "" {
		text := ExpandPlaceholders(c.LinkFlairText, item, res.Groups, e.baseURL)
		css := strings.ToLower(ExpandPlaceholders(c.LinkFlairClass, item, res.Groups, e.baseURL))
		if err := e.client.SetLinkFlair(ctx, item.Fullname, text, css); err != nil {
			return err
		}
		logActions = append(logActions, "link_flair")
	}
	if c.HasUserFlair() && item.Author != "" &&
		(c.OverwriteUserFlair || (item.AuthorFlairText == "" && item.AuthorFlairCSS == "")) {
		text := ExpandPlaceholders(c.UserFlairText, item, res.Groups, e.baseURL)
		css := strings.ToLower(ExpandPlaceholders(c.UserFlairClass, item, res.Groups, e.baseURL))
		if err := e.client.SetUserFlair(ctx, item.Community, item.Author, text, css); err != nil {
			return err
		}
		logActions = append(logActions, "user_flair")
	}

	if c.Comment != "" {
		comment := buildMessage(c.Comment, item, res.Groups, e.baseURL, e.disclaimer, true, false)
		fullname, err := e.client.Comment(ctx, item.Fullname, comment)
		if err != nil {
			return err
		}
		if err := e.client.Distinguish(ctx, fullname); err != nil {
			return err
		}
	}

	if c.Modmail != "" {
		body := buildMessage(c.Modmail, item, res.Groups, e.baseURL, "", false, true)
		subject := truncate(ExpandPlaceholders(c.ModmailSubject, item, res.Groups, e.baseURL), maxSubjectLen)
		if err := e.client.SendMessage(ctx, "/r/"+item.Community, subject, body); err != nil {
			return err
		}
	}

	if c.Message != "" && item.Author != "" {
		body := buildMessage(c.Message, item, res.Groups, e.baseURL, e.disclaimer, true, true)
		subject := truncate(ExpandPlaceholders(c.MessageSubject, item, res.Groups, e.baseURL), maxSubjectLen)
		if err := e.client.SendMessage(ctx, item.Author, subject, body); err != nil {
			return err
		}
	}

	logged := make(map[string]bool, len(logActions))
	for _, action := range logActions {
		if logged[action] {
			continue
		}
		logged[action] = true
		if err := e.actions.AppendAction(item.Fullname, c.YAMLSource, action); err != nil {
			return err
		}
	}

	e.log.Info("matched item",
		zap.String("item", item.Fullname),
		zap.String("community", item.Community),
		zap.Strings("actions", logActions))
	return nil
}

// userShadowbanned probes the user's public activity listing; a 404 means
// shadowbanned.
func (e *Executor) userShadowbanned(ctx context.Context, name string) (bool, error) {
	err := e.client.UserOverview(ctx, name)
	if err == nil {
		return false, nil
	}
	if site.IsNotFound(err) {
		return true, nil
	}
	return false, err
}

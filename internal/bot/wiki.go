package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"go.uber.org/zap"

	"automod/internal/rules"
	"automod/internal/store"
)

// UpdateFromWiki reloads a community's rule set from its wiki page. Any
// failure is reported to the requester by private message and leaves the
// stored rule set untouched. Returns true on success.
func (b *Bot) UpdateFromWiki(ctx context.Context, community, requester string) bool {
	name := strings.ToLower(community)

	page, err := b.client.WikiPage(ctx, name, b.cfg.Wiki.Page)
	if err != nil {
		b.sendErrorMessage(ctx, requester, name, fmt.Sprintf(
			"The wiki page could not be accessed. Please ensure the page "+
				"%s/r/%s/wiki/%s exists and that %s has the \"wiki\" mod "+
				"permission to be able to access it.",
			b.cfg.Site.BaseURL, name, b.cfg.Wiki.Page, b.cfg.Site.Username))
		return false
	}
	content := html.UnescapeString(page)

	_, err = rules.LoadRuleSet(content, b.std)
	if err != nil {
		b.sendErrorMessage(ctx, requester, name, loadErrorText(err))
		return false
	}

	row, err := b.st.Community(name)
	if err != nil {
		b.log.Error("failed to read community row", zap.String("community", name),
			zap.Error(err))
		return false
	}
	if row == nil {
		// New communities start with a day of backlog so the first cycle
		// has something to walk.
		dayAgo := b.now().Add(-24 * time.Hour)
		row = &store.Community{
			Name:           name,
			Enabled:        true,
			LastSubmission: dayAgo,
			LastSpam:       dayAgo,
			LastComment:    dayAgo,
		}
	}
	row.ConditionsYAML = content
	if err := b.st.UpsertCommunity(row); err != nil {
		b.log.Error("failed to persist community", zap.String("community", name),
			zap.Error(err))
		return false
	}

	if err := b.loadCommunity(row); err != nil {
		b.sendErrorMessage(ctx, requester, name, loadErrorText(err))
		return false
	}

	if err := b.client.SendMessage(ctx, requester,
		fmt.Sprintf("%s conditions updated", b.cfg.Site.Username),
		fmt.Sprintf("%s's conditions were successfully updated for /r/%s",
			b.cfg.Site.Username, name)); err != nil {
		b.log.Warn("failed to send confirmation", zap.Error(err))
	}
	return true
}

// UpdateStandardsFromWiki reloads the shared standard conditions from the
// configured standards community's wiki page. Returns true on success.
func (b *Bot) UpdateStandardsFromWiki(ctx context.Context, community, requester string) bool {
	name := strings.ToLower(community)

	if !strings.EqualFold(name, b.cfg.Wiki.StandardsCommunity) {
		b.sendErrorMessage(ctx, requester, name, fmt.Sprintf(
			"/u/%s is not configured to read standard conditions from /r/%s. "+
				"Please contact /u/%s for assistance.",
			b.cfg.Site.Username, name, b.cfg.Site.Owner))
		return false
	}

	page, err := b.client.WikiPage(ctx, name, b.cfg.Wiki.StandardsPage)
	if err != nil {
		b.sendErrorMessage(ctx, requester, name, fmt.Sprintf(
			"The wiki page could not be accessed. Please ensure the page "+
				"%s/r/%s/wiki/%s exists and that %s has the \"wiki\" mod "+
				"permission to be able to access it.",
			b.cfg.Site.BaseURL, name, b.cfg.Wiki.StandardsPage, b.cfg.Site.Username))
		return false
	}

	stds, err := rules.LoadStandardsDocument(html.UnescapeString(page), b.std)
	if err != nil {
		b.sendErrorMessage(ctx, requester, name, loadErrorText(err))
		return false
	}

	for stdName, stdYAML := range stds {
		if err := b.st.UpsertStandardCondition(stdName, stdYAML); err != nil {
			b.log.Error("failed to persist standard condition",
				zap.String("standard", stdName), zap.Error(err))
			return false
		}
	}
	b.std.MarkStale()

	if err := b.client.SendMessage(ctx, requester,
		fmt.Sprintf("%s standards updated", b.cfg.Site.Username),
		fmt.Sprintf("%s's standards were successfully updated from /r/%s",
			b.cfg.Site.Username, name)); err != nil {
		b.log.Warn("failed to send confirmation", zap.Error(err))
	}
	return true
}

// loadErrorText formats a rule-loading failure for the requester, naming the
// offending section when known.
func loadErrorText(err error) string {
	var se *rules.SectionError
	if errors.As(err, &se) {
		return se.Error()
	}
	return fmt.Sprintf("Error when reading conditions from wiki - "+
		"Syntax invalid:\n\n    %s", err)
}

// sendErrorMessage tells the requester why a wiki update failed.
func (b *Bot) sendErrorMessage(ctx context.Context, user, community, text string) {
	subject := fmt.Sprintf("Error updating from wiki in /r/%s", community)
	body := fmt.Sprintf(
		"### Error updating from [wiki configuration in /r/%s](%s/r/%s/wiki/%s):"+
			"\n\n---\n\n%s\n\n---\n\n[View configuration documentation](%s/wiki/configuration)",
		community, b.cfg.Site.BaseURL, community, b.cfg.Wiki.Page, text,
		b.cfg.Site.BaseURL)
	if err := b.client.SendMessage(ctx, user, subject, body); err != nil {
		b.log.Warn("failed to send error message", zap.String("user", user),
			zap.Error(err))
	}
}

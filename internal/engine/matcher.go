// Package engine evaluates compiled conditions against items and performs
// the resulting moderation actions: the item matcher, the action executor
// and the queue dispatcher, plus the per-community rank cache they share.
package engine

import (
	"context"
	"html"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"automod/internal/rules"
	"automod/internal/site"
)

var (
	leadingNonWord  = regexp.MustCompile(`^\W+`)
	trailingNonWord = regexp.MustCompile(`\W+$`)
)

// MatchResult is the outcome of evaluating one condition against one item.
type MatchResult struct {
	Matched bool
	// UsernameMatch is set when the winning pattern match came from the
	// `user` target; it overrides the spam-queue shadowban guard.
	UsernameMatch bool
	// Groups holds the submatches of the winning match (Groups[0] is the
	// whole match) for {{match-N}} placeholder expansion.
	Groups []string
}

// Matcher decides whether a condition applies to an item. Side effects are
// left to the Executor.
type Matcher struct {
	client site.Client
	ranks  *RankCache
	log    *zap.Logger
}

// NewMatcher returns a matcher using client for user lookups and ranks for
// rank clauses.
func NewMatcher(client site.Client, ranks *RankCache, log *zap.Logger) *Matcher {
	return &Matcher{client: client, ranks: ranks, log: log}
}

// Check evaluates one compiled condition against one item, short-circuiting
// on the first refused precondition. A 404 while fetching the item's author
// means the account is deleted or shadowbanned: the condition does not
// apply, and no error is returned.
func (m *Matcher) Check(ctx context.Context, c *rules.Condition, item *site.Item) (MatchResult, error) {
	if c.ReportsThreshold > 0 && item.NumReports < c.ReportsThreshold {
		return MatchResult{}, nil
	}

	if c.IsReply != nil && *c.IsReply != item.IsReply() {
		return MatchResult{}, nil
	}

	if c.AuthorIsSubmitter != nil && item.Kind == site.KindComment {
		authorIsSubmitter := item.Author != "" &&
			item.LinkAuthor != "[deleted]" &&
			item.Author == item.LinkAuthor
		if *c.AuthorIsSubmitter != authorIsSubmitter {
			return MatchResult{}, nil
		}
	}

	body := item.SelfText
	if item.Kind == site.KindComment {
		body = item.Body
	}
	if c.IgnoreBlockquotes {
		body = stripBlockquotes(body)
	}

	if c.BodyMinLength != nil || c.BodyMaxLength != nil {
		text := trailingNonWord.ReplaceAllString(leadingNonWord.ReplaceAllString(body, ""), "")
		if c.BodyMinLength != nil && len([]rune(text)) < *c.BodyMinLength {
			return MatchResult{}, nil
		}
		if c.BodyMaxLength != nil && len([]rune(text)) > *c.BodyMaxLength {
			return MatchResult{}, nil
		}
	}

	var winning []string
	usernameMatch := false
	for _, key := range c.MatchKeys {
		re := c.MatchPatterns[key]
		found := false
		var groups []string
		fromUser := false
		// Within a +-combined key, the first target whose string matches
		// wins.
		for _, target := range rules.KeyTargets(key) {
			s, isUser := targetString(item, target, body)
			if sub := re.FindStringSubmatch(html.UnescapeString(s)); sub != nil {
				found, groups, fromUser = true, sub, isUser
				break
			}
		}
		if found != c.MatchSuccess[key] {
			return MatchResult{}, nil
		}
		if found && winning == nil {
			winning = groups
			usernameMatch = fromUser
		}
	}

	ok, err := m.checkUserConditions(ctx, c, item)
	if err != nil || !ok {
		return MatchResult{}, err
	}

	return MatchResult{Matched: true, UsernameMatch: usernameMatch, Groups: winning}, nil
}

// stripBlockquotes HTML-unescapes the body and drops quoted and empty lines.
func stripBlockquotes(body string) string {
	var kept []string
	for _, line := range strings.Split(html.UnescapeString(body), "\n") {
		if len(line) > 0 && !strings.HasPrefix(line, ">") {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

// targetString maps a match target to the item string it matches against.
// Absent attributes yield the empty string. The second return is true when
// the string is the author's username, for shadowban-guard marking.
func targetString(item *site.Item, target, body string) (string, bool) {
	switch target {
	case "user":
		return item.Author, item.Author != ""
	case "link_id":
		// Drop the three-character kind prefix.
		if len(item.LinkID) > 3 {
			return item.LinkID[3:], false
		}
		return "", false
	case "parent_comment_id":
		if strings.HasPrefix(item.ParentID, "t1_") {
			return item.ParentID[3:], false
		}
		return "", false
	case "body":
		return body, false
	case "title":
		return item.Title, false
	case "domain":
		return item.Domain, false
	case "url":
		if item.IsSelf {
			return "", false
		}
		return item.URL, false
	case "media_user":
		if item.Media != nil {
			return item.Media.AuthorName, false
		}
		return "", false
	case "media_title":
		if item.Media != nil {
			return item.Media.Title, false
		}
		return "", false
	case "media_description":
		if item.Media != nil {
			return item.Media.Description, false
		}
		return "", false
	case "media_author_url":
		if item.Media != nil {
			return item.Media.AuthorURL, false
		}
		return "", false
	case "author_flair_text":
		return item.AuthorFlairText, false
	case "author_flair_css_class":
		return item.AuthorFlairCSS, false
	case "link_title":
		return item.LinkTitle, false
	case "link_url":
		return item.LinkURL, false
	default:
		return "", false
	}
}

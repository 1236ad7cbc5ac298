package engine

import (
	"regexp"
	"strconv"
	"strings"

	"automod/internal/site"
)

const (
	maxSubjectLen = 100
	maxBodyLen    = 10000
)

var matchGroupRe = regexp.MustCompile(`\{\{match-(\d+)\}\}`)

// ExpandPlaceholders substitutes the item placeholders of the template
// language into text. groups holds the winning match's submatches for
// {{match-N}}; absent groups expand to empty. Media placeholders are only
// substituted when the item carries a media card.
func ExpandPlaceholders(text string, item *site.Item, groups []string, baseURL string) string {
	s := text
	if item.Kind == site.KindComment {
		s = strings.ReplaceAll(s, "{{body}}", item.Body)
		s = strings.ReplaceAll(s, "{{kind}}", "comment")
		s = strings.ReplaceAll(s, "{{link_id}}", item.ShortLinkID())
		s = strings.ReplaceAll(s, "{{title}}", item.LinkTitle)
	} else {
		s = strings.ReplaceAll(s, "{{body}}", item.SelfText)
		s = strings.ReplaceAll(s, "{{kind}}", "submission")
		s = strings.ReplaceAll(s, "{{link_id}}", item.ID)
		s = strings.ReplaceAll(s, "{{title}}", item.Title)
	}
	s = strings.ReplaceAll(s, "{{domain}}", item.Domain)
	s = strings.ReplaceAll(s, "{{permalink}}", item.PermalinkURL(baseURL))
	s = strings.ReplaceAll(s, "{{subreddit}}", item.Community)
	s = strings.ReplaceAll(s, "{{url}}", item.URL)
	if item.Author != "" {
		s = strings.ReplaceAll(s, "{{user}}", item.Author)
	} else {
		s = strings.ReplaceAll(s, "{{user}}", "[deleted]")
	}

	if item.Media != nil {
		s = strings.ReplaceAll(s, "{{media_user}}", item.Media.AuthorName)
		s = strings.ReplaceAll(s, "{{media_title}}", item.Media.Title)
		s = strings.ReplaceAll(s, "{{media_description}}", item.Media.Description)
		s = strings.ReplaceAll(s, "{{media_author_url}}", item.Media.AuthorURL)
	}

	s = matchGroupRe.ReplaceAllStringFunc(s, func(m string) string {
		n, err := strconv.Atoi(matchGroupRe.FindStringSubmatch(m)[1])
		if err != nil || n < 0 || n >= len(groups) {
			return ""
		}
		return groups[n]
	})

	return s
}

// buildMessage assembles a comment or message body: the disclaimer is
// appended for comments and private messages, and a permalink line is
// prepended for modmail and private messages unless the template already
// places one.
func buildMessage(text string, item *site.Item, groups []string, baseURL, disclaimer string,
	withDisclaimer, withPermalink bool) string {
	msg := text
	if withDisclaimer && disclaimer != "" {
		msg = msg + "\n\n" + disclaimer
	}
	if withPermalink && !strings.Contains(msg, "{{permalink}}") {
		msg = "{{permalink}}\n\n" + msg
	}
	return truncate(ExpandPlaceholders(msg, item, groups, baseURL), maxBodyLen)
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

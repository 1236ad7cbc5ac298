// Package site defines the item/user model exposed by the upstream
// link-aggregation service, the Client interface the engine talks to,
// and a small HTTP adapter implementing it.
package site

import (
	"fmt"
	"strings"
	"time"
)

// Kind is the kind of an item.
type Kind string

const (
	KindSubmission Kind = "submission"
	KindComment    Kind = "comment"
)

// Queue identifies one of the four polled item streams.
type Queue string

const (
	QueueSubmission Queue = "submission"
	QueueComment    Queue = "comment"
	QueueSpam       Queue = "spam"
	QueueReport     Queue = "report"
)

// Queues lists every queue the dispatcher polls.
var Queues = []Queue{QueueSubmission, QueueComment, QueueSpam, QueueReport}

// Media holds the oembed card attached to a media submission.
type Media struct {
	AuthorName  string `json:"author_name"`
	Title       string `json:"title"`
	Description string `json:"description"`
	AuthorURL   string `json:"author_url"`
}

// Item is a submission or comment as exposed by the upstream service.
// Submission-only fields are zero on comments and vice versa.
type Item struct {
	Fullname  string    `json:"fullname"` // kind-prefixed id, e.g. "t3_abc123"
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Community string    `json:"community"`
	Author    string    `json:"author"` // empty when the account is deleted
	Created   time.Time `json:"created"`

	// Submission fields
	Title     string `json:"title,omitempty"`
	Domain    string `json:"domain,omitempty"`
	URL       string `json:"url,omitempty"`
	IsSelf    bool   `json:"is_self,omitempty"`
	SelfText  string `json:"selftext,omitempty"`
	Over18    bool   `json:"over_18,omitempty"`
	Permalink string `json:"permalink,omitempty"`
	Media     *Media `json:"media,omitempty"`

	// Comment fields
	Body       string `json:"body,omitempty"`
	LinkID     string `json:"link_id,omitempty"`   // fullname of the parent submission
	ParentID   string `json:"parent_id,omitempty"` // fullname of the direct parent
	LinkTitle  string `json:"link_title,omitempty"`
	LinkURL    string `json:"link_url,omitempty"`
	LinkAuthor string `json:"link_author,omitempty"`

	// Flair
	AuthorFlairText string `json:"author_flair_text,omitempty"`
	AuthorFlairCSS  string `json:"author_flair_css_class,omitempty"`
	LinkFlairText   string `json:"link_flair_text,omitempty"`
	LinkFlairCSS    string `json:"link_flair_css_class,omitempty"`

	// Moderation state
	NumReports int    `json:"num_reports,omitempty"`
	ApprovedBy string `json:"approved_by,omitempty"`
	BannedBy   string `json:"banned_by,omitempty"`
}

// IsReply reports whether the item is a reply to another comment
// (as opposed to a top-level comment or a submission).
func (it *Item) IsReply() bool {
	return it.Kind == KindComment && strings.HasPrefix(it.ParentID, "t1_")
}

// ShortLinkID returns the parent submission's id without the kind prefix.
func (it *Item) ShortLinkID() string {
	if i := strings.IndexByte(it.LinkID, '_'); i >= 0 {
		return it.LinkID[i+1:]
	}
	return it.LinkID
}

// PermalinkURL returns the item's permalink. Submissions carry one from the
// service; comment permalinks are built from the community, link id and
// comment id, with thread context appended for replies.
func (it *Item) PermalinkURL(base string) string {
	if it.Kind == KindSubmission {
		if strings.HasPrefix(it.Permalink, "http") {
			return it.Permalink
		}
		return base + it.Permalink
	}
	permalink := fmt.Sprintf("%s/r/%s/comments/%s/-/%s",
		strings.TrimRight(base, "/"), it.Community, it.ShortLinkID(), it.ID)
	if it.IsReply() {
		permalink += "?context=5"
	}
	return permalink
}

// User is an account profile as exposed by the upstream service.
type User struct {
	Name         string    `json:"name"`
	Created      time.Time `json:"created"`
	LinkKarma    int       `json:"link_karma"`
	CommentKarma int       `json:"comment_karma"`
	IsGold       bool      `json:"is_gold"`
}

// Message is a private message in the bot account's inbox.
type Message struct {
	ID         string    `json:"id"`
	Author     string    `json:"author"` // empty for system messages (invites)
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	Community  string    `json:"community,omitempty"`
	Created    time.Time `json:"created"`
	WasComment bool      `json:"was_comment"`
}

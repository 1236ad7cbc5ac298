package site

import "context"

// Client is the surface of the upstream service the engine depends on.
// Every call may block on network I/O; implementations return *StatusError
// for non-2xx responses so callers can branch on the status class.
type Client interface {
	// Login authenticates the bot account. Called once at startup and
	// retried with backoff until it succeeds.
	Login(ctx context.Context) error

	// ListQueue returns the newest items of one queue across a group of
	// communities, newest first.
	ListQueue(ctx context.Context, communities []string, queue Queue) ([]*Item, error)

	// User fetches an account profile. Returns a 404 StatusError when the
	// account is deleted or shadowbanned.
	User(ctx context.Context, name string) (*User, error)
	// UserOverview probes the user's public activity listing; a 404 means
	// the user is shadowbanned.
	UserOverview(ctx context.Context, name string) error

	// Moderation actions.
	Remove(ctx context.Context, fullname string, spam bool) error
	Approve(ctx context.Context, fullname string) error
	Report(ctx context.Context, fullname, reason string) error
	SetThreadOption(ctx context.Context, fullname, option string) error
	SetLinkFlair(ctx context.Context, fullname, text, cssClass string) error
	SetUserFlair(ctx context.Context, community, user, text, cssClass string) error

	// Comment posts a reply under the given item and returns the new
	// comment's fullname. Distinguish marks a bot comment as official.
	Comment(ctx context.Context, parentFullname, text string) (string, error)
	Distinguish(ctx context.Context, commentFullname string) error

	// SendMessage sends a private message. Community inboxes are addressed
	// as "/r/<name>".
	SendMessage(ctx context.Context, to, subject, body string) error

	// WikiPage fetches the raw markdown of a community wiki page.
	WikiPage(ctx context.Context, community, page string) (string, error)

	// Community membership lists.
	Moderators(ctx context.Context, community string) ([]string, error)
	Contributors(ctx context.Context, community string) ([]string, error)
	ModeratedCommunities(ctx context.Context) ([]string, error)

	// Inbox returns the bot account's inbox, newest first.
	Inbox(ctx context.Context) ([]*Message, error)
	// AcceptInvite accepts a pending moderator invitation.
	AcceptInvite(ctx context.Context, community string) error
}

package bot

import (
	"context"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"automod/internal/config"
	"automod/internal/site"
	"automod/internal/store"
)

// fakeClient serves canned wiki pages, inbox messages and membership lists,
// recording the messages the bot sends.
type fakeClient struct {
	loginErrs []error // popped per Login call, then success
	loginCnt  int

	wiki      map[string]string // "community/page" -> content
	wikiErr   error
	wikiCalls int

	inbox     []*site.Message
	moderated []string
	mods      map[string][]string
	modsErr   map[string]error
	invited   []string
	inviteErr error

	sent  []string // "to | subject | body"
	queue []*site.Item
}

func newBotClient() *fakeClient {
	return &fakeClient{
		wiki:    make(map[string]string),
		mods:    make(map[string][]string),
		modsErr: make(map[string]error),
	}
}

func (f *fakeClient) Login(ctx context.Context) error {
	f.loginCnt++
	if len(f.loginErrs) > 0 {
		err := f.loginErrs[0]
		f.loginErrs = f.loginErrs[1:]
		return err
	}
	return nil
}

func (f *fakeClient) ListQueue(ctx context.Context, communities []string, queue site.Queue) ([]*site.Item, error) {
	return f.queue, nil
}

func (f *fakeClient) User(ctx context.Context, name string) (*site.User, error) {
	return nil, &site.StatusError{Code: 404}
}

func (f *fakeClient) UserOverview(ctx context.Context, name string) error { return nil }

func (f *fakeClient) Remove(ctx context.Context, fullname string, spam bool) error { return nil }
func (f *fakeClient) Approve(ctx context.Context, fullname string) error           { return nil }
func (f *fakeClient) Report(ctx context.Context, fullname, reason string) error    { return nil }

func (f *fakeClient) SetThreadOption(ctx context.Context, fullname, option string) error {
	return nil
}

func (f *fakeClient) SetLinkFlair(ctx context.Context, fullname, text, cssClass string) error {
	return nil
}

func (f *fakeClient) SetUserFlair(ctx context.Context, community, user, text, cssClass string) error {
	return nil
}

func (f *fakeClient) Comment(ctx context.Context, parentFullname, text string) (string, error) {
	return "t1_new", nil
}

func (f *fakeClient) Distinguish(ctx context.Context, commentFullname string) error { return nil }

func (f *fakeClient) SendMessage(ctx context.Context, to, subject, body string) error {
	f.sent = append(f.sent, fmt.Sprintf("%s | %s | %s", to, subject, body))
	return nil
}

func (f *fakeClient) WikiPage(ctx context.Context, community, page string) (string, error) {
	f.wikiCalls++
	if f.wikiErr != nil {
		return "", f.wikiErr
	}
	content, ok := f.wiki[community+"/"+page]
	if !ok {
		return "", &site.StatusError{Code: 404}
	}
	return content, nil
}

func (f *fakeClient) Moderators(ctx context.Context, community string) ([]string, error) {
	if err := f.modsErr[community]; err != nil {
		return nil, err
	}
	return f.mods[community], nil
}

func (f *fakeClient) Contributors(ctx context.Context, community string) ([]string, error) {
	return nil, nil
}

func (f *fakeClient) ModeratedCommunities(ctx context.Context) ([]string, error) {
	return f.moderated, nil
}

func (f *fakeClient) Inbox(ctx context.Context) ([]*site.Message, error) {
	return f.inbox, nil
}

func (f *fakeClient) AcceptInvite(ctx context.Context, community string) error {
	if f.inviteErr != nil {
		return f.inviteErr
	}
	f.invited = append(f.invited, community)
	return nil
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Site.Username = "autobot"
	cfg.Site.Owner = "operator"
	cfg.Site.BaseURL = "http://base"
	return cfg
}

func newTestBot(t *testing.T, client *fakeClient) *Bot {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	b := New(testConfig(), client, st, zap.NewNop())
	b.sleep = func(ctx context.Context, d time.Duration) {}
	return b
}

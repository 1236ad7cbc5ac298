package engine

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"automod/internal/rules"
	"automod/internal/site"
)

// fakeClient records every moderation call and serves canned data.
type fakeClient struct {
	users       map[string]*site.User
	userErr     map[string]error
	overviewErr map[string]error
	mods        map[string][]string
	contribs    map[string][]string
	contribErr  map[string]error
	queue       []*site.Item
	queueErr    error
	failures    map[string]error // op name -> error returned

	calls []string

	modCalls     int
	contribCalls int
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		users:       make(map[string]*site.User),
		userErr:     make(map[string]error),
		overviewErr: make(map[string]error),
		mods:        make(map[string][]string),
		contribs:    make(map[string][]string),
		contribErr:  make(map[string]error),
		failures:    make(map[string]error),
	}
}

func (f *fakeClient) record(format string, args ...interface{}) {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

// ops returns just the operation names of the recorded calls.
func (f *fakeClient) ops() []string {
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = strings.Fields(c)[0]
	}
	return out
}

func (f *fakeClient) Login(ctx context.Context) error { return f.failures["login"] }

func (f *fakeClient) ListQueue(ctx context.Context, communities []string, queue site.Queue) ([]*site.Item, error) {
	return f.queue, f.queueErr
}

func (f *fakeClient) User(ctx context.Context, name string) (*site.User, error) {
	if err := f.userErr[name]; err != nil {
		return nil, err
	}
	if u, ok := f.users[name]; ok {
		return u, nil
	}
	return nil, &site.StatusError{Code: 404}
}

func (f *fakeClient) UserOverview(ctx context.Context, name string) error {
	return f.overviewErr[name]
}

func (f *fakeClient) Remove(ctx context.Context, fullname string, spam bool) error {
	f.record("remove %s spam=%t", fullname, spam)
	return f.failures["remove"]
}

func (f *fakeClient) Approve(ctx context.Context, fullname string) error {
	f.record("approve %s", fullname)
	return f.failures["approve"]
}

func (f *fakeClient) Report(ctx context.Context, fullname, reason string) error {
	f.record("report %s %s", fullname, reason)
	return f.failures["report"]
}

func (f *fakeClient) SetThreadOption(ctx context.Context, fullname, option string) error {
	f.record("set %s %s", fullname, option)
	return f.failures["set"]
}

func (f *fakeClient) SetLinkFlair(ctx context.Context, fullname, text, cssClass string) error {
	f.record("link_flair %s %s %s", fullname, text, cssClass)
	return f.failures["link_flair"]
}

func (f *fakeClient) SetUserFlair(ctx context.Context, community, user, text, cssClass string) error {
	f.record("user_flair %s %s %s %s", community, user, text, cssClass)
	return f.failures["user_flair"]
}

func (f *fakeClient) Comment(ctx context.Context, parentFullname, text string) (string, error) {
	f.record("comment %s %s", parentFullname, text)
	return "t1_newcomment", f.failures["comment"]
}

func (f *fakeClient) Distinguish(ctx context.Context, commentFullname string) error {
	f.record("distinguish %s", commentFullname)
	return f.failures["distinguish"]
}

func (f *fakeClient) SendMessage(ctx context.Context, to, subject, body string) error {
	f.record("message %s | %s | %s", to, subject, body)
	return f.failures["message"]
}

func (f *fakeClient) WikiPage(ctx context.Context, community, page string) (string, error) {
	return "", nil
}

func (f *fakeClient) Moderators(ctx context.Context, community string) ([]string, error) {
	f.modCalls++
	return f.mods[community], f.failures["moderators"]
}

func (f *fakeClient) Contributors(ctx context.Context, community string) ([]string, error) {
	f.contribCalls++
	if err := f.contribErr[community]; err != nil {
		return nil, err
	}
	return f.contribs[community], nil
}

func (f *fakeClient) ModeratedCommunities(ctx context.Context) ([]string, error) {
	return nil, nil
}

func (f *fakeClient) Inbox(ctx context.Context) ([]*site.Message, error) {
	return nil, nil
}

func (f *fakeClient) AcceptInvite(ctx context.Context, community string) error {
	return nil
}

// fakeLog implements ActionLog, ActionHistory and Watermarks in memory.
type fakeLog struct {
	rows      map[string][]LoggedAction
	watermark map[string]time.Time // "community/queue" -> t
	appendErr error
}

func newFakeLog() *fakeLog {
	return &fakeLog{
		rows:      make(map[string][]LoggedAction),
		watermark: make(map[string]time.Time),
	}
}

func (l *fakeLog) AppendAction(itemFullname, conditionYAML, action string) error {
	if l.appendErr != nil {
		return l.appendErr
	}
	l.rows[itemFullname] = append(l.rows[itemFullname],
		LoggedAction{ConditionYAML: conditionYAML, Action: action})
	return nil
}

func (l *fakeLog) ActionsForItem(fullname string) ([]LoggedAction, error) {
	return l.rows[fullname], nil
}

func (l *fakeLog) SetLastSeen(community string, queue site.Queue, t time.Time) error {
	l.watermark[community+"/"+string(queue)] = t
	return nil
}

type fakeSource map[string]string

func (s fakeSource) ListStandardConditions() (map[string]string, error) { return s, nil }

func loadConditions(t *testing.T, doc string, stdRows map[string]string) []*rules.Condition {
	t.Helper()
	std := rules.NewStandards(fakeSource(stdRows))
	if _, err := std.Refresh(); err != nil {
		t.Fatalf("refresh standards: %v", err)
	}
	conds, err := rules.LoadRuleSet(doc, std)
	if err != nil {
		t.Fatalf("load rules: %v", err)
	}
	return conds
}

func loadCondition(t *testing.T, doc string) *rules.Condition {
	t.Helper()
	conds := loadConditions(t, doc, nil)
	if len(conds) != 1 {
		t.Fatalf("expected one condition, got %d", len(conds))
	}
	return conds[0]
}

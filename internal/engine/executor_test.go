package engine

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"automod/internal/site"
)

func newTestExecutor(client *fakeClient, log *fakeLog) *Executor {
	return NewExecutor(client, log, "*bot disclaimer*", "http://base", zap.NewNop())
}

func TestExecuteRemoveLogsOnce(t *testing.T) {
	client := newFakeClient()
	log := newFakeLog()
	ex := newTestExecutor(client, log)
	c := loadCondition(t, "body: [spam]\naction: remove\n")

	it := comment(func(it *site.Item) { it.Body = "spam" })
	require.NoError(t, ex.Execute(context.Background(), c, it, MatchResult{Matched: true}))

	assert.Equal(t, []string{"remove t1_def spam=false"}, client.calls)
	rows := log.rows["t1_def"]
	require.Len(t, rows, 1)
	assert.Equal(t, "remove", rows[0].Action)
	assert.Equal(t, c.YAMLSource, rows[0].ConditionYAML)
}

func TestExecuteSpamFlag(t *testing.T) {
	client := newFakeClient()
	ex := newTestExecutor(client, newFakeLog())
	c := loadCondition(t, "body: [x]\naction: spam\n")

	it := comment(func(it *site.Item) { it.Body = "x" })
	require.NoError(t, ex.Execute(context.Background(), c, it, MatchResult{Matched: true}))
	assert.Equal(t, []string{"remove t1_def spam=true"}, client.calls)
}

func TestExecuteReportReasonExpansion(t *testing.T) {
	client := newFakeClient()
	log := newFakeLog()
	ex := newTestExecutor(client, log)
	c := loadCondition(t, "body: [foo, bar]\naction: report\nreport_reason: 'flagged {{match-1}}'\n")

	it := comment(func(it *site.Item) { it.Body = "contains foo today" })
	res := MatchResult{Matched: true, Groups: []string{"foo", "foo"}}
	require.NoError(t, ex.Execute(context.Background(), c, it, res))

	require.Len(t, client.calls, 1)
	assert.Equal(t, "report t1_def flagged foo", client.calls[0])
	rows := log.rows["t1_def"]
	require.Len(t, rows, 1)
	assert.Equal(t, "report", rows[0].Action)
}

func TestExecuteReportReasonTruncated(t *testing.T) {
	client := newFakeClient()
	ex := newTestExecutor(client, newFakeLog())
	c := loadCondition(t, "body: [x]\nreport: '"+strings.Repeat("r", 200)+"'\n")

	it := comment(func(it *site.Item) { it.Body = "x" })
	require.NoError(t, ex.Execute(context.Background(), c, it, MatchResult{Matched: true}))

	require.Len(t, client.calls, 1)
	reason := strings.TrimPrefix(client.calls[0], "report t1_def ")
	assert.Len(t, reason, 100)
}

func TestExecuteCommentDistinguished(t *testing.T) {
	client := newFakeClient()
	log := newFakeLog()
	ex := newTestExecutor(client, log)
	c := loadCondition(t, "body: [x]\ncomment: 'please read the rules'\n")

	it := comment(func(it *site.Item) { it.Body = "x" })
	require.NoError(t, ex.Execute(context.Background(), c, it, MatchResult{Matched: true}))

	require.Len(t, client.calls, 2)
	assert.Contains(t, client.calls[0], "comment t1_def")
	assert.Contains(t, client.calls[0], "*bot disclaimer*")
	assert.Equal(t, "distinguish t1_newcomment", client.calls[1])

	// Message-only conditions log an empty action row.
	rows := log.rows["t1_def"]
	require.Len(t, rows, 1)
	assert.Equal(t, "", rows[0].Action)
}

func TestExecuteModmailAndMessage(t *testing.T) {
	client := newFakeClient()
	ex := newTestExecutor(client, newFakeLog())
	c := loadCondition(t, "body: [x]\nmodmail: 'mod note'\nmessage: 'user note'\n")

	it := comment(func(it *site.Item) { it.Body = "x" })
	require.NoError(t, ex.Execute(context.Background(), c, it, MatchResult{Matched: true}))

	require.Len(t, client.calls, 2)
	assert.Contains(t, client.calls[0], "message /r/golang | automod notification |")
	assert.Contains(t, client.calls[0], "mod note")
	assert.NotContains(t, client.calls[0], "*bot disclaimer*", "modmail carries no disclaimer")

	assert.Contains(t, client.calls[1], "message commenter | automod notification |")
	assert.Contains(t, client.calls[1], "*bot disclaimer*")
}

func TestExecuteMessageSkippedForDeletedAuthor(t *testing.T) {
	client := newFakeClient()
	ex := newTestExecutor(client, newFakeLog())
	c := loadCondition(t, "body: [x]\nmessage: 'user note'\n")

	it := comment(func(it *site.Item) {
		it.Body = "x"
		it.Author = ""
	})
	require.NoError(t, ex.Execute(context.Background(), c, it, MatchResult{Matched: true}))
	assert.Empty(t, client.calls)
}

func TestExecuteSetOptions(t *testing.T) {
	client := newFakeClient()
	ex := newTestExecutor(client, newFakeLog())
	c := loadCondition(t, "title: [x]\nset_options: [nsfw, sticky]\n")

	it := submission(func(it *site.Item) { it.Title = "x" })
	require.NoError(t, ex.Execute(context.Background(), c, it, MatchResult{Matched: true}))
	assert.Equal(t, []string{"set t3_abc nsfw", "set t3_abc sticky"}, client.calls)

	// Already-nsfw submissions are not re-marked.
	client.calls = nil
	it = submission(func(it *site.Item) {
		it.Title = "x"
		it.Over18 = true
	})
	require.NoError(t, ex.Execute(context.Background(), c, it, MatchResult{Matched: true}))
	assert.Equal(t, []string{"set t3_abc sticky"}, client.calls)
}

func TestExecuteLinkFlair(t *testing.T) {
	client := newFakeClient()
	log := newFakeLog()
	ex := newTestExecutor(client, log)
	c := loadCondition(t, "title: [x]\nlink_flair_text: Discussion\nlink_flair_class: DISC\n")

	it := submission(func(it *site.Item) { it.Title = "x" })
	require.NoError(t, ex.Execute(context.Background(), c, it, MatchResult{Matched: true}))
	assert.Equal(t, []string{"link_flair t3_abc Discussion disc"}, client.calls)

	rows := log.rows["t3_abc"]
	require.Len(t, rows, 1)
	assert.Equal(t, "link_flair", rows[0].Action)

	// Existing flair is left alone.
	client.calls = nil
	it = submission(func(it *site.Item) {
		it.Title = "x"
		it.LinkFlairText = "already"
	})
	require.NoError(t, ex.Execute(context.Background(), c, it, MatchResult{Matched: true}))
	assert.Empty(t, client.calls)
}

func TestExecuteUserFlairOverwrite(t *testing.T) {
	client := newFakeClient()
	ex := newTestExecutor(client, newFakeLog())

	keep := loadCondition(t, "title: [x]\nuser_flair_text: Verified\n")
	it := submission(func(it *site.Item) {
		it.Title = "x"
		it.AuthorFlairText = "existing"
	})
	require.NoError(t, ex.Execute(context.Background(), keep, it, MatchResult{Matched: true}))
	assert.Empty(t, client.calls)

	force := loadCondition(t, "title: [x]\nuser_flair_text: Verified\noverwrite_user_flair: true\n")
	require.NoError(t, ex.Execute(context.Background(), force, it, MatchResult{Matched: true}))
	assert.Equal(t, []string{"user_flair golang poster Verified "}, client.calls)
}

func TestExecuteShadowbanGuard(t *testing.T) {
	client := newFakeClient()
	client.overviewErr["poster"] = &site.StatusError{Code: 404}
	log := newFakeLog()
	ex := newTestExecutor(client, log)

	c := loadCondition(t, "title: [x]\naction: approve\n")
	c.CheckShadowbanned = true

	it := submission(func(it *site.Item) { it.Title = "x" })
	require.NoError(t, ex.Execute(context.Background(), c, it, MatchResult{Matched: true}))
	assert.Empty(t, client.calls, "approving a shadowbanned user's item is suppressed")
	assert.Empty(t, log.rows)

	// A username match overrides the guard.
	require.NoError(t, ex.Execute(context.Background(), c, it,
		MatchResult{Matched: true, UsernameMatch: true}))
	assert.Equal(t, []string{"approve t3_abc"}, client.calls)
}

func TestExecuteLogRowsDeduped(t *testing.T) {
	client := newFakeClient()
	log := newFakeLog()
	ex := newTestExecutor(client, log)

	c := loadCondition(t, "body: [x]\naction: report\nreport: 'bad'\n")
	it := comment(func(it *site.Item) { it.Body = "x" })
	require.NoError(t, ex.Execute(context.Background(), c, it, MatchResult{Matched: true}))

	rows := log.rows["t1_def"]
	require.Len(t, rows, 1)
	assert.Equal(t, "report", rows[0].Action)
}

func TestExecutePropagatesClientErrors(t *testing.T) {
	client := newFakeClient()
	client.failures["remove"] = &site.StatusError{Code: 403}
	log := newFakeLog()
	ex := newTestExecutor(client, log)

	c := loadCondition(t, "body: [x]\naction: remove\n")
	it := comment(func(it *site.Item) { it.Body = "x" })
	err := ex.Execute(context.Background(), c, it, MatchResult{Matched: true})
	require.Error(t, err)
	assert.True(t, site.IsForbidden(err))
	assert.Empty(t, log.rows, "log rows are written only after the effects succeed")
}

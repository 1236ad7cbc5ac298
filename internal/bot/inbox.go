package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	lastMessageKey = "last_message"
	invitePrefix   = "invitation to moderate /r/"
	sleepDuration  = 10 * time.Second
)

type updateRequest struct {
	community string
	sender    string
}

// processInbox walks the inbox down to the last seen message, collecting
// moderator invitations, update commands and the owner's sleep command.
// Returns the communities whose rule sets were updated.
func (b *Bot) processInbox(ctx context.Context) ([]string, error) {
	stop, err := b.lastMessageTime()
	if err != nil {
		return nil, err
	}

	msgs, err := b.client.Inbox(ctx)
	if err != nil {
		return nil, err
	}

	var newLast time.Time
	// The watermark advances even when a command later fails, so a broken
	// message cannot wedge the inbox.
	defer func() {
		if !newLast.IsZero() {
			if err := b.st.SetState(lastMessageKey,
				strconv.FormatInt(newLast.Unix(), 10)); err != nil {
				b.log.Error("failed to persist inbox watermark", zap.Error(err))
			}
		}
	}()

	var (
		updates    []updateRequest
		invites    []string
		sleepAfter bool
	)
	seen := make(map[updateRequest]bool)

	for _, msg := range msgs {
		if !msg.Created.After(stop) {
			break
		}
		if msg.WasComment {
			continue
		}
		if newLast.IsZero() {
			newLast = msg.Created
		}

		switch {
		case msg.Author == "" && strings.HasPrefix(msg.Subject, invitePrefix):
			invites = append(invites, strings.ToLower(msg.Community))

		case strings.EqualFold(strings.TrimSpace(msg.Body), "update"):
			req := updateRequest{communityFromSubject(msg.Subject), msg.Author}
			if seen[req] {
				continue
			}
			allowed, err := b.senderMayUpdate(ctx, msg.Author, req.community)
			if err != nil {
				b.sendErrorMessage(ctx, msg.Author, req.community,
					fmt.Sprintf("Unable to access /r/%s", req.community))
				continue
			}
			if !allowed {
				b.sendErrorMessage(ctx, msg.Author, req.community,
					fmt.Sprintf("You do not moderate /r/%s", req.community))
				continue
			}
			seen[req] = true
			updates = append(updates, req)

		case strings.EqualFold(strings.TrimSpace(msg.Body), "update_standards"):
			community := communityFromSubject(msg.Subject)
			allowed, err := b.senderMayUpdate(ctx, msg.Author, community)
			if err != nil {
				b.sendErrorMessage(ctx, msg.Author, community,
					fmt.Sprintf("Unable to access /r/%s", community))
				continue
			}
			if !allowed {
				b.sendErrorMessage(ctx, msg.Author, community,
					fmt.Sprintf("You do not moderate /r/%s", community))
				continue
			}
			b.UpdateStandardsFromWiki(ctx, community, msg.Author)

		case strings.EqualFold(strings.TrimSpace(msg.Subject), "sleep") &&
			strings.EqualFold(msg.Author, b.cfg.Site.Owner):
			sleepAfter = true
		}
	}

	for _, community := range invites {
		if err := b.client.AcceptInvite(ctx, community); err != nil {
			b.log.Warn("failed to accept invite",
				zap.String("community", community), zap.Error(err))
			continue
		}
		b.log.Info("accepted moderator invite", zap.String("community", community))
		b.moderated[community] = true
	}

	var updated []string
	for _, req := range updates {
		if b.UpdateFromWiki(ctx, req.community, req.sender) {
			updated = append(updated, req.community)
			b.log.Info("updated rules from wiki",
				zap.String("community", req.community))
		} else {
			b.log.Info("failed wiki update",
				zap.String("community", req.community))
		}
	}

	if sleepAfter {
		b.log.Info("sleep requested, pausing")
		b.sleep(ctx, sleepDuration)
	}

	return updated, nil
}

func (b *Bot) lastMessageTime() (time.Time, error) {
	raw, err := b.st.GetState(lastMessageKey)
	if err != nil {
		return time.Time{}, err
	}
	if raw == "" {
		return time.Time{}, nil
	}
	unix, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid inbox watermark %q: %w", raw, err)
	}
	return time.Unix(unix, 0), nil
}

// senderMayUpdate reports whether sender is the operator or moderates the
// community.
func (b *Bot) senderMayUpdate(ctx context.Context, sender, community string) (bool, error) {
	if strings.EqualFold(sender, b.cfg.Site.Owner) {
		return true, nil
	}
	mods, err := b.client.Moderators(ctx, community)
	if err != nil {
		return false, err
	}
	for _, mod := range mods {
		if strings.EqualFold(mod, sender) {
			return true, nil
		}
	}
	return false, nil
}

// communityFromSubject extracts a community name from a command subject,
// tolerating forms like "/r/name" or "r/name".
func communityFromSubject(subject string) string {
	name := subject
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return strings.ToLower(strings.TrimSpace(name))
}

package neynar

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/park285/basedchess/internal/msgcat"
)

// Inviter tells player2 about a new game through a frame notification.
type Inviter struct {
	client  *Client
	catalog *msgcat.Catalog
	baseURL string
	logger  *zap.Logger
}

func NewInviter(client *Client, catalog *msgcat.Catalog, appBaseURL string, logger *zap.Logger) *Inviter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Inviter{client: client, catalog: catalog, baseURL: appBaseURL, logger: logger}
}

// Invite notifies invitee that inviter opened displayID. It returns nil
// without sending when invitee has no Farcaster account.
func (i *Inviter) Invite(ctx context.Context, inviter, invitee, displayID string) error {
	if !i.client.Enabled() {
		i.logger.Debug("invite_skipped", zap.String("game_id", displayID), zap.String("reason", "no api key"))
		return nil
	}
	users, err := i.client.UsersByAddress(ctx, inviter, invitee)
	if err != nil {
		return fmt.Errorf("lookup farcaster users: %w", err)
	}
	target := first(users, invitee)
	if target == nil {
		i.logger.Info("invite_skipped", zap.String("game_id", displayID), zap.String("reason", "invitee has no farcaster user"))
		return nil
	}

	name := shortAddress(inviter)
	if u := first(users, inviter); u != nil && u.Username != "" {
		name = "@" + u.Username
	}
	data := map[string]string{"Inviter": name, "BaseURL": i.baseURL, "DisplayID": displayID}
	var n Notification
	if n.Title, err = i.catalog.Render(msgcat.KeyInviteTitle, data); err != nil {
		return err
	}
	if n.Body, err = i.catalog.Render(msgcat.KeyInviteBody, data); err != nil {
		return err
	}
	if n.TargetURL, err = i.catalog.Render(msgcat.KeyInviteTarget, data); err != nil {
		return err
	}

	if err := i.client.PublishFrameNotification(ctx, []uint64{target.FID}, n); err != nil {
		return fmt.Errorf("publish invite: %w", err)
	}
	i.logger.Info("invite_sent", zap.String("game_id", displayID), zap.Uint64("fid", target.FID))
	return nil
}

func first(users map[string][]User, address string) *User {
	list := users[strings.ToLower(address)]
	if len(list) == 0 {
		return nil
	}
	return &list[0]
}

func shortAddress(a string) string {
	if len(a) <= 12 {
		return a
	}
	return a[:6] + "..." + a[len(a)-6:]
}

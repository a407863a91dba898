package server

import (
	"context"

	"go.uber.org/zap"
)

// roster builds the users_list entries for c: every known user except c,
// restricted to those c can see, each flagged with its online status.
func (h *Hub) roster(c *Client) []RosterEntry {
	ctx, cancel := context.WithTimeout(h.ctx, h.cfg.DirectoryTimeout)
	defer cancel()

	entries := []RosterEntry{}

	users, err := h.directory.ListUsers(ctx)
	if err != nil {
		h.metrics.PersistenceFailures.WithLabelValues("list_users").Inc()
		c.logger.Warn("roster unavailable; sending empty list", zap.String("user_id", c.userID), zap.Error(err))
		return entries
	}

	for _, u := range users {
		if u.ID == c.userID {
			continue
		}
		if !h.visibility.CanSee(c.username, u.Username) {
			continue
		}
		entries = append(entries, RosterEntry{
			ID:       u.ID,
			Username: u.Username,
			Online:   h.registry.Has(u.ID),
		})
	}
	return entries
}

func (h *Hub) sendRoster(c *Client) {
	entries := h.roster(c)
	if err := c.enqueueJSON(UsersListEvent{Type: EventUsersList, Users: entries}); err != nil {
		h.metrics.DeliveryFailures.WithLabelValues(EventUsersList).Inc()
		c.logger.Warn("failed to queue roster", zap.String("user_id", c.userID), zap.Error(err))
		return
	}
	h.metrics.PresenceEvents.WithLabelValues(EventUsersList).Inc()
}

// audience returns the registered sessions, other than subject, whose user
// is allowed to see subject.
func (h *Hub) audience(subject *Client) []*Client {
	var viewers []*Client
	for _, other := range h.registry.Snapshot() {
		if other == subject || other.userID == subject.userID {
			continue
		}
		if h.visibility.CanSee(other.username, subject.username) {
			viewers = append(viewers, other)
		}
	}
	return viewers
}

// broadcastPresence sends user_online or user_offline for subject to its
// audience.
func (h *Hub) broadcastPresence(subject *Client, kind string) {
	viewers := h.audience(subject)
	delivered := h.fanOut(kind, viewers, IdentityEvent{
		Type:     kind,
		UserID:   subject.userID,
		Username: subject.username,
	})
	h.metrics.PresenceEvents.WithLabelValues(kind).Add(float64(delivered))

	h.logger.Debug("presence broadcast",
		zap.String("event", kind),
		zap.String("user_id", subject.userID),
		zap.Int("audience", len(viewers)),
		zap.Int("delivered", delivered))
}

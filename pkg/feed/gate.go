package feed

import "guestbook/pkg/domain"

// Gate authorizes destructive feed operations. It is deliberately separate
// from the storage layer so the policy is testable on its own.
type Gate struct{}

// AuthorizeDelete allows a delete when the requester owns the message or
// holds the moderator role. Anonymous requesters are never authorized:
// an anonymous post has no author user id, and no requester identity
// compares equal to the absent id. Denials carry no ownership detail.
func (Gate) AuthorizeDelete(requester domain.Identity, msg domain.Message) error {
	if requester.HasRole(domain.RoleModerator) {
		return nil
	}
	if !requester.Anonymous() && requester.UserID == msg.AuthorUserID {
		return nil
	}
	return ErrForbidden
}

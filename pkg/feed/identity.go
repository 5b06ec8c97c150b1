package feed

import (
	"strings"

	"guestbook/pkg/domain"
)

const (
	// AnonymousName is the display name for submissions with no usable name.
	AnonymousName = "Anonymous"
	// MaxDisplayNameLen caps author display names, in characters.
	MaxDisplayNameLen = 50
)

// Author is the resolved identity attached to a message at submission time.
type Author struct {
	UserID      string
	DisplayName string
	AvatarURL   string
}

// ResolveAuthor determines the author attached to a submission. An
// authenticated identity always wins: its display name and avatar are used
// and any client-supplied name is ignored, so a logged-in visitor cannot be
// impersonated by free text. Anonymous submissions use the trimmed
// client-supplied name, falling back to AnonymousName.
func ResolveAuthor(ident *domain.Identity, clientName string) Author {
	if ident != nil && !ident.Anonymous() {
		return Author{
			UserID:      ident.UserID,
			DisplayName: displayName(ident.DisplayName),
			AvatarURL:   ident.AvatarURL,
		}
	}
	return Author{DisplayName: displayName(clientName)}
}

func displayName(raw string) string {
	name := strings.TrimSpace(raw)
	if name == "" {
		return AnonymousName
	}
	runes := []rune(name)
	if len(runes) > MaxDisplayNameLen {
		name = string(runes[:MaxDisplayNameLen])
	}
	return name
}

package auth

import (
	"chat-relay/domain"
	"chat-relay/errors"
	"net/http"
	"strings"
)

// BearerToken reads the token from the Authorization header, falling back to
// the token query parameter that browsers use for WebSocket upgrades.
func BearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

// Authenticate resolves the user of a request. A nil Tokens disables the
// check and yields an empty user id.
func (t *Tokens) Authenticate(r *http.Request) (domain.UserID, error) {
	if t == nil {
		return "", nil
	}
	token := BearerToken(r)
	if token == "" {
		return "", errors.ErrInvalidToken
	}
	claims, err := t.Validate(token)
	if err != nil {
		return "", err
	}
	return domain.UserID(claims.UserID), nil
}

package mention

import (
	"context"
	"regexp"
)

// UserLookup resolves an @token against a candidate set. Returning ok=false
// leaves the token as plain text.
type UserLookup interface {
	ResolveMention(ctx context.Context, token string, candidateUserIDs []string) (userID string, ok bool, err error)
}

var (
	mentionRe = regexp.MustCompile(`@([A-Za-z0-9_.\-]+)`)
	urlRe     = regexp.MustCompile(`https?://[^\s<>"']+`)
)

// Tokens returns the raw @tokens in content, in order, without duplicates.
func Tokens(content string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, m := range mentionRe.FindAllStringSubmatch(content, -1) {
		t := m[1]
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// Resolve maps @tokens to user ids. Participants match directly by id;
// anything else goes through the lookup (group conversations can mention
// users by name). Unresolved tokens are dropped, not errors. A lookup
// failure skips the token rather than failing the send.
func Resolve(ctx context.Context, content string, participantIDs []string, lookup UserLookup) []string {
	tokens := Tokens(content)
	if len(tokens) == 0 {
		return nil
	}
	inConv := make(map[string]struct{}, len(participantIDs))
	for _, p := range participantIDs {
		inConv[p] = struct{}{}
	}
	var out []string
	seen := make(map[string]struct{})
	for _, t := range tokens {
		var id string
		if _, ok := inConv[t]; ok {
			id = t
		} else if lookup != nil {
			resolved, ok, err := lookup.ResolveMention(ctx, t, participantIDs)
			if err != nil || !ok {
				continue
			}
			id = resolved
		} else {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// URLs returns the http(s) links in content, in order, without duplicates.
func URLs(content string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, u := range urlRe.FindAllString(content, -1) {
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

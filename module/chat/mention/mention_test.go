package mention

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type mapLookup map[string]string

func (m mapLookup) ResolveMention(_ context.Context, token string, _ []string) (string, bool, error) {
	id, ok := m[token]
	return id, ok, nil
}

type failLookup struct{}

func (failLookup) ResolveMention(context.Context, string, []string) (string, bool, error) {
	return "", false, errors.New("directory down")
}

func TestTokens(t *testing.T) {
	got := Tokens("hi @bob and @carol, также @bob again")
	require.Equal(t, []string{"bob", "carol"}, got)

	require.Empty(t, Tokens("no mentions here, mail me at x@example.com?"))
	// 邮箱里的 @example.com 会被扫出来，由解析阶段丢弃
}

func TestResolveParticipantsDirect(t *testing.T) {
	got := Resolve(context.Background(), "ping @u2", []string{"u1", "u2"}, nil)
	require.Equal(t, []string{"u2"}, got)
}

func TestResolveViaLookup(t *testing.T) {
	lookup := mapLookup{"bobby": "u2"}
	got := Resolve(context.Background(), "hey @bobby @nobody", []string{"u1", "u2"}, lookup)
	require.Equal(t, []string{"u2"}, got)
}

func TestResolveLookupFailureSkipsToken(t *testing.T) {
	got := Resolve(context.Background(), "hey @bobby", []string{"u1", "u2"}, failLookup{})
	require.Empty(t, got)
}

func TestResolveDeduplicates(t *testing.T) {
	lookup := mapLookup{"bobby": "u2"}
	// @u2 直接命中，@bobby 解析到同一人，只记一次
	got := Resolve(context.Background(), "@u2 @bobby", []string{"u1", "u2"}, lookup)
	require.Equal(t, []string{"u2"}, got)
}

func TestURLs(t *testing.T) {
	content := "see https://example.com/a and http://example.org?q=1 plus https://example.com/a"
	got := URLs(content)
	require.Equal(t, []string{"https://example.com/a", "http://example.org?q=1"}, got)

	require.Empty(t, URLs("ftp://example.com no web links"))
}

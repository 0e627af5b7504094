package profile

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestSiteFilter(t *testing.T) {
	t.Parallel()

	filter := SiteFilter([]*url.URL{
		mustParse(t, "https://www.example.com/start"),
		mustParse(t, "http://docs.example.net/"),
	})
	p := compileRule(filter, mustMatch)
	require.NoError(t, p.Err())
	require.True(t, p.Matches("http://example.com/a"))
	require.True(t, p.Matches("https://www.example.com/"))
	require.True(t, p.Matches("https://docs.example.net/x/y"))
	require.False(t, p.Matches("https://exampleXcom/"))
	require.False(t, p.Matches("https://other.org/"))

	require.Equal(t, MatchAllString, SiteFilter(nil))
}

func TestSubpathFilter(t *testing.T) {
	t.Parallel()

	filter := SubpathFilter([]*url.URL{mustParse(t, "https://example.com/docs/intro.html")})
	p := compileRule(filter, mustMatch)
	require.NoError(t, p.Err())
	require.True(t, p.Matches("https://example.com/docs/"))
	require.True(t, p.Matches("https://example.com/docs/deep/page"))
	require.False(t, p.Matches("https://example.com/blog/"))

	root := SubpathFilter([]*url.URL{mustParse(t, "https://example.com")})
	require.True(t, compileRule(root, mustMatch).Matches("https://example.com/any"))
	require.Equal(t, MatchAllString, SubpathFilter(nil))
}

package profile

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompileRuleFallbacks(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		source  string
		class   ruleClass
		input   string
		want    bool
		degrade bool
	}{
		{"empty must-match admits all", "", mustMatch, "https://example.com/", true, false},
		{"empty must-not-match excludes nothing", "", mustNotMatch, "https://example.com/", false, false},
		{"malformed must-match matches nothing", "([a-z", mustMatch, "https://example.com/", false, true},
		{"malformed must-not-match matches nothing", "([a-z", mustNotMatch, "https://example.com/", false, true},
		{"unsupported backreference degrades", `(a)\1`, mustMatch, "aa", false, true},
		{"match-all literal", ".*", mustNotMatch, "anything", true, false},
		{"anchored full match", "https://example\\.com/", mustMatch, "https://example.com/page", false, false},
		{"full match succeeds", "https://example\\.com/.*", mustMatch, "https://example.com/page", true, false},
		{"alternation stays anchored", "a|b", mustMatch, "ab", false, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p := compileRule(tc.source, tc.class)
			require.Equal(t, tc.want, p.Matches(tc.input))
			require.Equal(t, tc.degrade, p.Err() != nil)
		})
	}
}

func TestPatternNeverMatchesEmptyInput(t *testing.T) {
	t.Parallel()

	p := compileRule("", mustNotMatch)
	require.True(t, p.MatchesNothing())
	require.False(t, p.Matches(""))

	var zero Pattern
	require.False(t, zero.Matches(""))
	require.False(t, (*Pattern)(nil).Matches("x"))
}

func TestPatternString(t *testing.T) {
	t.Parallel()

	require.Equal(t, MatchAllString, compileRule("", mustMatch).String())
	require.Equal(t, MatchNeverString, compileRule("", mustNotMatch).String())
	degraded := compileRule("(", mustMatch)
	require.Equal(t, MatchNeverString, degraded.String())
	require.Equal(t, "(", degraded.Source())
	require.Equal(t, "foo.*", compileRule("foo.*", mustMatch).String())
}

func TestParseCacheStrategy(t *testing.T) {
	t.Parallel()

	for raw, want := range map[string]CacheStrategy{
		"never":      CacheNever,
		"IF-FRESH":   CacheIfFresh,
		" if-exists": CacheIfExist,
		"cache-only": CacheOnly,
		"0":          CacheNever,
		"3":          CacheOnly,
	} {
		got, err := ParseCacheStrategy(raw)
		require.NoError(t, err, raw)
		require.Equal(t, want, got, raw)
	}
	got, err := ParseCacheStrategy("sometimes")
	require.Error(t, err)
	require.Equal(t, DefaultCacheStrategy, got)
}

// Package profile implements crawl profiles: named, versioned rule-sets that
// decide which URLs a crawl job visits, how deep it goes, how many pages it
// takes per domain, and what ends up in the index.
//
// A Profile keeps its recognized settings in a typed Settings struct and any
// unrecognized keys in a side map, so a profile read back from storage
// round-trips unchanged through Map and FromMap. Rule patterns are compiled
// when they are written; reads never compile and never fail.
package profile

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/JakeFAU/crawl-profiles/internal/hash/sha256"
)

const (
	// MaxNameLength is the longest name kept; longer names are truncated.
	MaxNameLength = 256
	// UnlimitedPages is the domMaxPages sentinel for "no per-domain cap".
	UnlimitedPages = math.MaxInt32
	// unlimitedPagesValue is how UnlimitedPages is written in key/value form.
	unlimitedPagesValue = "-1"
)

// Errors returned by profile construction and mutation.
var (
	ErrEmptyName     = errors.New("profile name must not be empty")
	ErrReadOnlyField = errors.New("field is read-only")
	ErrInvalidValue  = errors.New("invalid setting value")
	ErrFrozen        = errors.New("profile is frozen")
)

// Settings is the typed form of every recognized profile setting.
type Settings struct {
	Handle   string `json:"handle"`
	Name     string `json:"name"`
	StartURL string `json:"start_url"`

	URLMustMatch         string `json:"url_must_match"`
	URLMustNotMatch      string `json:"url_must_not_match"`
	IPMustMatch          string `json:"ip_must_match"`
	IPMustNotMatch       string `json:"ip_must_not_match"`
	CountryMustMatch     string `json:"country_must_match"`
	NoDepthLimitMatch    string `json:"no_depth_limit_match"`
	IndexURLMustMatch    string `json:"index_url_must_match"`
	IndexURLMustNotMatch string `json:"index_url_must_not_match"`

	Depth          int           `json:"depth"`
	DomMaxPages    int           `json:"dom_max_pages"`
	RecrawlIfOlder time.Duration `json:"recrawl_if_older"`

	DirectDocByURL          bool `json:"direct_doc_by_url"`
	CrawlingQ               bool `json:"crawling_q"`
	IndexText               bool `json:"index_text"`
	IndexMedia              bool `json:"index_media"`
	StoreHTCache            bool `json:"store_ht_cache"`
	RemoteIndexing          bool `json:"remote_indexing"`
	ExcludeStaticStopwords  bool `json:"exclude_static_stopwords"`
	ExcludeDynamicStopwords bool `json:"exclude_dynamic_stopwords"`
	ExcludeParentStopwords  bool `json:"exclude_parent_stopwords"`
	PushToSearchIndex       bool `json:"push_to_search_index"`

	CacheStrategy CacheStrategy `json:"cache_strategy"`
	Collections   []string      `json:"collections"`
}

// defaultSettings holds the documented fallbacks for missing values.
func defaultSettings() Settings {
	return Settings{
		DomMaxPages:       UnlimitedPages,
		IndexText:         true,
		IndexMedia:        true,
		PushToSearchIndex: true,
		CacheStrategy:     DefaultCacheStrategy,
	}
}

// Params are the typed inputs for creating a profile. Empty must-match rules
// admit everything; empty must-not-match rules exclude nothing.
type Params struct {
	Name     string
	StartURL string

	URLMustMatch         string
	URLMustNotMatch      string
	IPMustMatch          string
	IPMustNotMatch       string
	CountryMustMatch     string
	NoDepthLimitMatch    string
	IndexURLMustMatch    string
	IndexURLMustNotMatch string

	Depth          int
	DomMaxPages    int
	RecrawlIfOlder time.Duration

	DirectDocByURL          bool
	CrawlingQ               bool
	IndexText               bool
	IndexMedia              bool
	StoreHTCache            bool
	RemoteIndexing          bool
	ExcludeStaticStopwords  bool
	ExcludeDynamicStopwords bool
	ExcludeParentStopwords  bool
	PushToSearchIndex       bool

	CacheStrategy CacheStrategy
	Collections   []string
}

// RuleWarning describes a rule that failed to compile and now matches nothing.
type RuleWarning struct {
	Field  string `json:"field"`
	Source string `json:"source"`
	Error  string `json:"error"`
}

type ruleSet struct {
	urlMustMatch         *Pattern
	urlMustNotMatch      *Pattern
	ipMustMatch          *Pattern
	ipMustNotMatch       *Pattern
	noDepthLimitMatch    *Pattern
	indexURLMustMatch    *Pattern
	indexURLMustNotMatch *Pattern
	countries            []string
}

func compileRules(s Settings) ruleSet {
	return ruleSet{
		urlMustMatch:         compileRule(s.URLMustMatch, mustMatch),
		urlMustNotMatch:      compileRule(s.URLMustNotMatch, mustNotMatch),
		ipMustMatch:          compileRule(s.IPMustMatch, mustMatch),
		ipMustNotMatch:       compileRule(s.IPMustNotMatch, mustNotMatch),
		noDepthLimitMatch:    compileRule(s.NoDepthLimitMatch, mustNotMatch),
		indexURLMustMatch:    compileRule(s.IndexURLMustMatch, mustMatch),
		indexURLMustNotMatch: compileRule(s.IndexURLMustNotMatch, mustNotMatch),
		countries:            splitList(s.CountryMustMatch),
	}
}

// Profile is a crawl profile. It is safe for concurrent use: rule reads see
// the most recently published value of each rule.
type Profile struct {
	mu       sync.RWMutex
	settings Settings
	rules    ruleSet
	// extras holds unrecognized keys; invalid holds recognized keys whose
	// stored value could not be parsed. Both round-trip through Map.
	extras  map[string]string
	invalid map[string]string
	frozen  bool

	domains *DomainCounters
}

func newProfile(s Settings) *Profile {
	return &Profile{
		settings: s,
		rules:    compileRules(s),
		extras:   make(map[string]string),
		invalid:  make(map[string]string),
		domains:  NewDomainCounters(),
	}
}

// New validates params and builds a profile. The handle is derived from the
// (possibly truncated) name.
func New(p Params) (*Profile, error) {
	if p.Name == "" {
		return nil, ErrEmptyName
	}
	name := truncateName(p.Name)
	cs := p.CacheStrategy
	if !cs.Valid() {
		cs = DefaultCacheStrategy
	}
	s := Settings{
		Handle:   sha256.Handle(name),
		Name:     name,
		StartURL: p.StartURL,

		URLMustMatch:         canonicalRule(KeyURLMustMatch, p.URLMustMatch),
		URLMustNotMatch:      canonicalRule(KeyURLMustNotMatch, p.URLMustNotMatch),
		IPMustMatch:          canonicalRule(KeyIPMustMatch, p.IPMustMatch),
		IPMustNotMatch:       canonicalRule(KeyIPMustNotMatch, p.IPMustNotMatch),
		CountryMustMatch:     strings.Join(splitList(p.CountryMustMatch), ","),
		NoDepthLimitMatch:    canonicalRule(KeyNoDepthLimitMatch, p.NoDepthLimitMatch),
		IndexURLMustMatch:    canonicalRule(KeyIndexURLMustMatch, p.IndexURLMustMatch),
		IndexURLMustNotMatch: canonicalRule(KeyIndexURLMustNotMatch, p.IndexURLMustNotMatch),

		Depth:          max(p.Depth, 0),
		DomMaxPages:    normalizePages(p.DomMaxPages),
		RecrawlIfOlder: max(p.RecrawlIfOlder, 0).Truncate(time.Millisecond),

		DirectDocByURL:          p.DirectDocByURL,
		CrawlingQ:               p.CrawlingQ,
		IndexText:               p.IndexText,
		IndexMedia:              p.IndexMedia,
		StoreHTCache:            p.StoreHTCache,
		RemoteIndexing:          p.RemoteIndexing,
		ExcludeStaticStopwords:  p.ExcludeStaticStopwords,
		ExcludeDynamicStopwords: p.ExcludeDynamicStopwords,
		ExcludeParentStopwords:  p.ExcludeParentStopwords,
		PushToSearchIndex:       p.PushToSearchIndex,

		CacheStrategy: cs,
		Collections:   normalizeCollections(p.Collections),
	}
	return newProfile(s), nil
}

// FromMap rebuilds a profile from its key/value form without validation.
// Missing or malformed values read as their documented defaults; unknown
// keys and malformed values are kept verbatim for Map. A missing handle is
// derived from the name.
func FromMap(m map[string]string) *Profile {
	s := defaultSettings()
	extras := make(map[string]string)
	invalid := make(map[string]string)
	for k, v := range m {
		known, err := s.apply(k, v)
		switch {
		case !known:
			extras[k] = v
		case err != nil:
			invalid[k] = v
		}
	}
	if s.Handle == "" && s.Name != "" {
		s.Handle = sha256.Handle(s.Name)
	}
	p := newProfile(s)
	p.extras = extras
	p.invalid = invalid
	return p
}

// Set changes one setting. Rule settings are recompiled immediately.
// Unrecognized keys are stored verbatim.
func (p *Profile) Set(key, value string) error {
	if IsReadOnly(key) {
		return fmt.Errorf("%s: %w", key, ErrReadOnlyField)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.frozen {
		return ErrFrozen
	}
	next := p.settings
	if isRuleKey(key) {
		value = canonicalRule(key, value)
	}
	known, err := next.apply(key, value)
	if err != nil {
		return err
	}
	if !known {
		p.extras[key] = value
		return nil
	}
	delete(p.invalid, key)
	p.settings = next
	if isRuleKey(key) || key == KeyCountryMustMatch {
		p.rules = compileRules(next)
	}
	return nil
}

// Freeze makes every later Set fail with ErrFrozen.
func (p *Profile) Freeze() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frozen = true
}

// Frozen reports whether the profile rejects changes.
func (p *Profile) Frozen() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.frozen
}

// Map returns the key/value form of the profile, including unrecognized keys.
func (p *Profile) Map() map[string]string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s := p.settings
	out := make(map[string]string, len(Fields)+len(p.extras))
	maps.Copy(out, p.extras)
	out[KeyHandle] = s.Handle
	out[KeyName] = s.Name
	out[KeyStartURL] = s.StartURL
	out[KeyURLMustMatch] = s.URLMustMatch
	out[KeyURLMustNotMatch] = s.URLMustNotMatch
	out[KeyIPMustMatch] = s.IPMustMatch
	out[KeyIPMustNotMatch] = s.IPMustNotMatch
	out[KeyCountryMustMatch] = s.CountryMustMatch
	out[KeyNoDepthLimitMatch] = s.NoDepthLimitMatch
	out[KeyIndexURLMustMatch] = s.IndexURLMustMatch
	out[KeyIndexURLMustNotMatch] = s.IndexURLMustNotMatch
	out[KeyDepth] = strconv.Itoa(s.Depth)
	out[KeyDomMaxPages] = formatPages(s.DomMaxPages)
	out[KeyRecrawlIfOlder] = strconv.FormatInt(s.RecrawlIfOlder.Milliseconds(), 10)
	for key, ptr := range s.boolFields() {
		out[key] = strconv.FormatBool(*ptr)
	}
	out[KeyCacheStrategy] = s.CacheStrategy.String()
	out[KeyCollections] = strings.Join(s.Collections, ",")
	maps.Copy(out, p.invalid)
	return out
}

// Get returns the stored value for key as it appears in Map.
func (p *Profile) Get(key string) (string, bool) {
	v, ok := p.Map()[key]
	return v, ok
}

// Settings returns a copy of the typed settings.
func (p *Profile) Settings() Settings {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s := p.settings
	s.Collections = slices.Clone(s.Collections)
	return s
}

// Handle returns the stable profile identifier.
func (p *Profile) Handle() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.settings.Handle
}

// Name returns the profile name.
func (p *Profile) Name() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.settings.Name
}

// StartURL returns the seed URL.
func (p *Profile) StartURL() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.settings.StartURL
}

func (p *Profile) ruleSnapshot() ruleSet {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.rules
}

// URLMustMatch returns the pattern URLs must match to be crawled.
func (p *Profile) URLMustMatch() *Pattern { return p.ruleSnapshot().urlMustMatch }

// URLMustNotMatch returns the pattern that excludes URLs from the crawl.
func (p *Profile) URLMustNotMatch() *Pattern { return p.ruleSnapshot().urlMustNotMatch }

// IPMustMatch returns the pattern resolved IPs must match.
func (p *Profile) IPMustMatch() *Pattern { return p.ruleSnapshot().ipMustMatch }

// IPMustNotMatch returns the pattern that excludes resolved IPs.
func (p *Profile) IPMustNotMatch() *Pattern { return p.ruleSnapshot().ipMustNotMatch }

// NoDepthLimitMatch returns the pattern that lifts the depth ceiling.
func (p *Profile) NoDepthLimitMatch() *Pattern { return p.ruleSnapshot().noDepthLimitMatch }

// IndexURLMustMatch returns the pattern URLs must match to be indexed.
func (p *Profile) IndexURLMustMatch() *Pattern { return p.ruleSnapshot().indexURLMustMatch }

// IndexURLMustNotMatch returns the pattern that keeps URLs out of the index.
func (p *Profile) IndexURLMustNotMatch() *Pattern { return p.ruleSnapshot().indexURLMustNotMatch }

// CountryMustMatch returns the ordered country code list; empty means any country.
func (p *Profile) CountryMustMatch() []string {
	return slices.Clone(p.ruleSnapshot().countries)
}

// Degraded lists rules that failed to compile.
func (p *Profile) Degraded() []RuleWarning {
	rs := p.ruleSnapshot()
	var out []RuleWarning
	for _, r := range []struct {
		key string
		pat *Pattern
	}{
		{KeyURLMustMatch, rs.urlMustMatch},
		{KeyURLMustNotMatch, rs.urlMustNotMatch},
		{KeyIPMustMatch, rs.ipMustMatch},
		{KeyIPMustNotMatch, rs.ipMustNotMatch},
		{KeyNoDepthLimitMatch, rs.noDepthLimitMatch},
		{KeyIndexURLMustMatch, rs.indexURLMustMatch},
		{KeyIndexURLMustNotMatch, rs.indexURLMustNotMatch},
	} {
		if err := r.pat.Err(); err != nil {
			out = append(out, RuleWarning{Field: r.key, Source: r.pat.Source(), Error: err.Error()})
		}
	}
	return out
}

// Depth returns the crawl tree height.
func (p *Profile) Depth() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.settings.Depth
}

// DomMaxPages returns the per-domain page cap or UnlimitedPages.
func (p *Profile) DomMaxPages() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.settings.DomMaxPages
}

// RecrawlIfOlder returns the minimum age of a document before it is loaded again.
func (p *Profile) RecrawlIfOlder() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.settings.RecrawlIfOlder
}

// RecrawlDate returns the point in time before which documents are stale.
func (p *Profile) RecrawlDate(now time.Time) time.Time {
	return now.Add(-p.RecrawlIfOlder())
}

// NeedsRecrawl reports whether a document loaded at loadedAt must be fetched
// again. A zero recrawl age always recrawls.
func (p *Profile) NeedsRecrawl(loadedAt, now time.Time) bool {
	age := p.RecrawlIfOlder()
	if age == 0 {
		return true
	}
	return loadedAt.Before(now.Add(-age))
}

func (p *Profile) boolValue(key string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s := p.settings
	return *s.boolFields()[key]
}

// DirectDocByURL reports whether unparsable linked documents are indexed as documents.
func (p *Profile) DirectDocByURL() bool { return p.boolValue(KeyDirectDocByURL) }

// CrawlingQ reports whether URLs with a query string may be crawled.
func (p *Profile) CrawlingQ() bool { return p.boolValue(KeyCrawlingQ) }

// IndexText reports whether text content is indexed.
func (p *Profile) IndexText() bool { return p.boolValue(KeyIndexText) }

// IndexMedia reports whether media content is indexed.
func (p *Profile) IndexMedia() bool { return p.boolValue(KeyIndexMedia) }

// StoreHTCache reports whether fetched content stays in the cache after indexing.
func (p *Profile) StoreHTCache() bool { return p.boolValue(KeyStoreHTCache) }

// RemoteIndexing reports whether part of the crawl may be distributed.
func (p *Profile) RemoteIndexing() bool { return p.boolValue(KeyRemoteIndexing) }

// ExcludeStaticStopwords reports whether static stop-words are ignored.
func (p *Profile) ExcludeStaticStopwords() bool { return p.boolValue(KeyExcludeStaticStopwords) }

// ExcludeDynamicStopwords reports whether dynamic stop-words are ignored.
func (p *Profile) ExcludeDynamicStopwords() bool { return p.boolValue(KeyExcludeDynamicStopwords) }

// ExcludeParentStopwords reports whether parent stop-words are ignored.
func (p *Profile) ExcludeParentStopwords() bool { return p.boolValue(KeyExcludeParentStopwords) }

// PushToSearchIndex reports whether documents are pushed to the search index.
func (p *Profile) PushToSearchIndex() bool { return p.boolValue(KeyPushToSearchIndex) }

// CacheStrategy returns the cache-use policy.
func (p *Profile) CacheStrategy() CacheStrategy {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.settings.CacheStrategy
}

// Collections returns the tags attached to documents from this crawl.
func (p *Profile) Collections() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.settings.Collections)
}

// DomainInc counts one more URL for domain.
func (p *Profile) DomainInc(domain, referrer string, depth int) DomainCounter {
	return p.domains.Inc(domain, referrer, depth)
}

// Domain returns the counter for domain.
func (p *Profile) Domain(domain string) (DomainCounter, bool) {
	return p.domains.Get(domain)
}

// DomainNames lists counted domains in first-seen order; see DomainCounters.Names.
func (p *Profile) DomainNames(detail bool, limit int) []string {
	return p.domains.Names(detail, limit)
}

// DomainCount returns the number of counted domains.
func (p *Profile) DomainCount() int {
	return p.domains.Len()
}

// ClearDomains drops every domain counter.
func (p *Profile) ClearDomains() {
	p.domains.Clear()
}

// apply parses value into the field named by key. It reports whether the
// key is recognized; on a parse error the field is left at its default.
func (s *Settings) apply(key, value string) (bool, error) {
	if ptr, ok := s.boolFields()[key]; ok {
		b, err := strconv.ParseBool(strings.TrimSpace(value))
		if err != nil {
			*ptr = defaultSettings().boolDefault(key)
			return true, invalidValue(key, value)
		}
		*ptr = b
		return true, nil
	}
	if ptr, ok := s.stringFields()[key]; ok {
		*ptr = value
		return true, nil
	}
	switch key {
	case KeyDepth:
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n < 0 {
			s.Depth = 0
			return true, invalidValue(key, value)
		}
		s.Depth = n
	case KeyDomMaxPages:
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			s.DomMaxPages = UnlimitedPages
			return true, invalidValue(key, value)
		}
		s.DomMaxPages = normalizePages(n)
	case KeyRecrawlIfOlder:
		ms, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil {
			s.RecrawlIfOlder = 0
			return true, invalidValue(key, value)
		}
		s.RecrawlIfOlder = time.Duration(max(ms, 0)) * time.Millisecond
	case KeyCacheStrategy:
		cs, err := ParseCacheStrategy(value)
		s.CacheStrategy = cs
		if err != nil {
			return true, invalidValue(key, value)
		}
	case KeyCollections:
		s.Collections = normalizeCollections(strings.Split(value, ","))
	default:
		return false, nil
	}
	return true, nil
}

func (s *Settings) boolFields() map[string]*bool {
	return map[string]*bool{
		KeyDirectDocByURL:          &s.DirectDocByURL,
		KeyCrawlingQ:               &s.CrawlingQ,
		KeyIndexText:               &s.IndexText,
		KeyIndexMedia:              &s.IndexMedia,
		KeyStoreHTCache:            &s.StoreHTCache,
		KeyRemoteIndexing:          &s.RemoteIndexing,
		KeyExcludeStaticStopwords:  &s.ExcludeStaticStopwords,
		KeyExcludeDynamicStopwords: &s.ExcludeDynamicStopwords,
		KeyExcludeParentStopwords:  &s.ExcludeParentStopwords,
		KeyPushToSearchIndex:       &s.PushToSearchIndex,
	}
}

func (s Settings) boolDefault(key string) bool {
	if ptr, ok := s.boolFields()[key]; ok {
		return *ptr
	}
	return false
}

func (s *Settings) stringFields() map[string]*string {
	return map[string]*string{
		KeyHandle:               &s.Handle,
		KeyName:                 &s.Name,
		KeyStartURL:             &s.StartURL,
		KeyURLMustMatch:         &s.URLMustMatch,
		KeyURLMustNotMatch:      &s.URLMustNotMatch,
		KeyIPMustMatch:          &s.IPMustMatch,
		KeyIPMustNotMatch:       &s.IPMustNotMatch,
		KeyCountryMustMatch:     &s.CountryMustMatch,
		KeyNoDepthLimitMatch:    &s.NoDepthLimitMatch,
		KeyIndexURLMustMatch:    &s.IndexURLMustMatch,
		KeyIndexURLMustNotMatch: &s.IndexURLMustNotMatch,
	}
}

func isRuleKey(key string) bool {
	switch key {
	case KeyURLMustMatch, KeyURLMustNotMatch, KeyIPMustMatch, KeyIPMustNotMatch,
		KeyNoDepthLimitMatch, KeyIndexURLMustMatch, KeyIndexURLMustNotMatch:
		return true
	default:
		return false
	}
}

// canonicalRule maps an empty must-match source to MatchAllString.
func canonicalRule(key, value string) string {
	if value != MatchNeverString {
		return value
	}
	switch key {
	case KeyURLMustMatch, KeyIPMustMatch, KeyIndexURLMustMatch:
		return MatchAllString
	default:
		return MatchNeverString
	}
}

func invalidValue(key, value string) error {
	return fmt.Errorf("%s=%q: %w", key, value, ErrInvalidValue)
}

func truncateName(name string) string {
	if utf8.RuneCountInString(name) <= MaxNameLength {
		return name
	}
	return string([]rune(name)[:MaxNameLength])
}

func normalizePages(n int) int {
	if n <= 0 {
		return UnlimitedPages
	}
	return n
}

func formatPages(n int) string {
	if n == UnlimitedPages {
		return unlimitedPagesValue
	}
	return strconv.Itoa(n)
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// normalizeCollections strips whitespace and drops empty or repeated tags.
func normalizeCollections(in []string) []string {
	var out []string
	for _, c := range in {
		c = strings.Join(strings.Fields(c), "")
		if c == "" || slices.Contains(out, c) {
			continue
		}
		out = append(out, c)
	}
	return out
}

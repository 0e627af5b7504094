package profile

import "time"

// Display values used by reports.
const (
	UnlimitedLabel = "unlimited"
	NoRecrawlLabel = "no re-crawl"
)

// Report is the flat, presentation-free view of a profile for listings.
type Report struct {
	Handle   string `json:"handle"`
	Name     string `json:"name"`
	StartURL string `json:"start_url"`
	Active   bool   `json:"active"`

	Depth                int      `json:"depth"`
	URLMustMatch         string   `json:"url_must_match"`
	URLMustNotMatch      string   `json:"url_must_not_match"`
	IPMustMatch          string   `json:"ip_must_match"`
	IPMustNotMatch       string   `json:"ip_must_not_match"`
	CountryMustMatch     []string `json:"country_must_match"`
	NoDepthLimitMatch    string   `json:"no_depth_limit_match"`
	IndexURLMustMatch    string   `json:"index_url_must_match"`
	IndexURLMustNotMatch string   `json:"index_url_must_not_match"`

	CrawlingIfOlder     string `json:"crawling_if_older"`
	CrawlingDomMaxPages string `json:"crawling_dom_max_pages"`
	// RecrawlBefore is set by callers that know the current time; documents
	// loaded before it are stale.
	RecrawlBefore *time.Time `json:"recrawl_before,omitempty"`

	DirectDocByURL          bool          `json:"direct_doc_by_url"`
	WithQuery               bool          `json:"with_query"`
	IndexText               bool          `json:"index_text"`
	IndexMedia              bool          `json:"index_media"`
	StoreCache              bool          `json:"store_cache"`
	RemoteIndexing          bool          `json:"remote_indexing"`
	ExcludeStaticStopwords  bool          `json:"exclude_static_stopwords"`
	ExcludeDynamicStopwords bool          `json:"exclude_dynamic_stopwords"`
	ExcludeParentStopwords  bool          `json:"exclude_parent_stopwords"`
	PushToSearchIndex       bool          `json:"push_to_search_index"`
	CacheStrategy           CacheStrategy `json:"cache_strategy"`
	Collections             []string      `json:"collections"`

	DomainCount int           `json:"domain_count"`
	Domains     []string      `json:"domains,omitempty"`
	Degraded    []RuleWarning `json:"degraded,omitempty"`
}

// Report projects the profile for a listing. The detailed domain listing,
// capped at domainListLength entries, is only filled for active profiles
// with a finite per-domain cap.
func (p *Profile) Report(active bool, domainListLength int) Report {
	s := p.Settings()
	rs := p.ruleSnapshot()
	r := Report{
		Handle:   s.Handle,
		Name:     s.Name,
		StartURL: s.StartURL,
		Active:   active,

		Depth:                s.Depth,
		URLMustMatch:         rs.urlMustMatch.String(),
		URLMustNotMatch:      rs.urlMustNotMatch.String(),
		IPMustMatch:          rs.ipMustMatch.String(),
		IPMustNotMatch:       rs.ipMustNotMatch.String(),
		CountryMustMatch:     append([]string{}, rs.countries...),
		NoDepthLimitMatch:    rs.noDepthLimitMatch.String(),
		IndexURLMustMatch:    rs.indexURLMustMatch.String(),
		IndexURLMustNotMatch: rs.indexURLMustNotMatch.String(),

		CrawlingIfOlder:     NoRecrawlLabel,
		CrawlingDomMaxPages: UnlimitedLabel,

		DirectDocByURL:          s.DirectDocByURL,
		WithQuery:               s.CrawlingQ,
		IndexText:               s.IndexText,
		IndexMedia:              s.IndexMedia,
		StoreCache:              s.StoreHTCache,
		RemoteIndexing:          s.RemoteIndexing,
		ExcludeStaticStopwords:  s.ExcludeStaticStopwords,
		ExcludeDynamicStopwords: s.ExcludeDynamicStopwords,
		ExcludeParentStopwords:  s.ExcludeParentStopwords,
		PushToSearchIndex:       s.PushToSearchIndex,
		CacheStrategy:           s.CacheStrategy,
		Collections:             s.Collections,

		DomainCount: p.DomainCount(),
		Degraded:    p.Degraded(),
	}
	if s.RecrawlIfOlder > 0 {
		r.CrawlingIfOlder = s.RecrawlIfOlder.String()
	}
	if s.DomMaxPages != UnlimitedPages {
		r.CrawlingDomMaxPages = formatPages(s.DomMaxPages)
		if active {
			r.Domains = p.DomainNames(true, domainListLength)
		}
	}
	return r
}

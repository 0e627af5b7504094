package profile

import (
	"net"
	"net/url"
	"slices"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// Candidate is a URL the crawler considers fetching.
type Candidate struct {
	URL      string `json:"url"`
	IP       string `json:"ip"`
	Country  string `json:"country"`
	Depth    int    `json:"depth"`
	Referrer string `json:"referrer"`
}

// Reason names the rule that decided an admission.
type Reason string

// Admission outcomes.
const (
	ReasonAdmitted          Reason = "admitted"
	ReasonDepthExceeded     Reason = "depth_exceeded"
	ReasonURLMustMatch      Reason = "url_must_match"
	ReasonURLMustNotMatch   Reason = "url_must_not_match"
	ReasonIPMustMatch       Reason = "ip_must_match"
	ReasonIPMustNotMatch    Reason = "ip_must_not_match"
	ReasonCountryMismatch   Reason = "country_mismatch"
	ReasonDomainCapReached  Reason = "domain_cap_reached"
	ReasonIndexMustMatch    Reason = "index_url_must_match"
	ReasonIndexMustNotMatch Reason = "index_url_must_not_match"

	// ReasonQueryNotAllowed is reported by callers that apply QueryAllowed
	// ahead of Admit.
	ReasonQueryNotAllowed Reason = "query_not_allowed"
	// ReasonFresh is reported by callers that apply NeedsRecrawl ahead of
	// Admit.
	ReasonFresh Reason = "fresh"
)

// Decision is the result of an admission check.
type Decision struct {
	Admitted bool   `json:"admitted"`
	Reason   Reason `json:"reason"`
	Domain   string `json:"domain,omitempty"`
}

func admit(domain string) Decision {
	return Decision{Admitted: true, Reason: ReasonAdmitted, Domain: domain}
}

func reject(reason Reason, domain string) Decision {
	return Decision{Reason: reason, Domain: domain}
}

// CheckCrawl evaluates the crawl rules for c in order: depth (unless the
// no-depth-limit rule matches), URL must/must-not, IP must/must-not, country
// list, then the per-domain page cap. It does not count the URL.
func (p *Profile) CheckCrawl(c Candidate) Decision {
	domain := DomainOf(c.URL)
	if d := p.checkRules(c, domain); !d.Admitted {
		return d
	}
	limit := p.DomMaxPages()
	if limit != UnlimitedPages && domain != "" {
		if dc, ok := p.domains.Get(domain); ok && dc.Count >= limit {
			return reject(ReasonDomainCapReached, domain)
		}
	}
	return admit(domain)
}

// Admit runs CheckCrawl and, when admitted, counts the URL against its
// domain. The cap check and the increment are a single atomic step.
func (p *Profile) Admit(c Candidate) Decision {
	domain := DomainOf(c.URL)
	if d := p.checkRules(c, domain); !d.Admitted {
		return d
	}
	if domain == "" {
		return admit(domain)
	}
	limit := p.DomMaxPages()
	if _, ok := p.domains.IncBelow(domain, c.Referrer, c.Depth, limit); !ok {
		return reject(ReasonDomainCapReached, domain)
	}
	return admit(domain)
}

func (p *Profile) checkRules(c Candidate, domain string) Decision {
	p.mu.RLock()
	rs := p.rules
	depth := p.settings.Depth
	p.mu.RUnlock()

	if !rs.noDepthLimitMatch.Matches(c.URL) && c.Depth > depth {
		return reject(ReasonDepthExceeded, domain)
	}
	if !rs.urlMustMatch.Matches(c.URL) {
		return reject(ReasonURLMustMatch, domain)
	}
	if rs.urlMustNotMatch.Matches(c.URL) {
		return reject(ReasonURLMustNotMatch, domain)
	}
	if !rs.ipMustMatch.Matches(c.IP) {
		return reject(ReasonIPMustMatch, domain)
	}
	if rs.ipMustNotMatch.Matches(c.IP) {
		return reject(ReasonIPMustNotMatch, domain)
	}
	if len(rs.countries) > 0 && !slices.ContainsFunc(rs.countries, func(code string) bool {
		return strings.EqualFold(code, c.Country)
	}) {
		return reject(ReasonCountryMismatch, domain)
	}
	return admit(domain)
}

// CheckIndex decides whether a fetched page may be handed to the indexer.
func (p *Profile) CheckIndex(rawURL string) Decision {
	rs := p.ruleSnapshot()
	domain := DomainOf(rawURL)
	if !rs.indexURLMustMatch.Matches(rawURL) {
		return reject(ReasonIndexMustMatch, domain)
	}
	if rs.indexURLMustNotMatch.Matches(rawURL) {
		return reject(ReasonIndexMustNotMatch, domain)
	}
	return admit(domain)
}

// QueryAllowed reports whether rawURL may be crawled given the CrawlingQ
// setting. URLs without a query string are always allowed.
func (p *Profile) QueryAllowed(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return u.RawQuery == "" || p.CrawlingQ()
}

// DomainOf returns the registrable domain (eTLD+1) of rawURL's host. IP
// hosts and hosts without a public suffix are returned as-is; unparsable
// URLs yield "".
func DomainOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" {
		return ""
	}
	if net.ParseIP(host) != nil {
		return host
	}
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return domain
}

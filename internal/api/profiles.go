package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-profiles/internal/crawler"
	"github.com/JakeFAU/crawl-profiles/internal/metrics"
	"github.com/JakeFAU/crawl-profiles/internal/profile"
	"github.com/JakeFAU/crawl-profiles/internal/registry"
)

const (
	enqueueTimeout = 5 * time.Second
	admitRoute     = "/v1/profiles/{handle}/admit"

	scopeSite    = "site"
	scopeSubpath = "subpath"
)

type createProfileRequest struct {
	Name     string `json:"name"`
	StartURL string `json:"start_url"`
	// Scope derives urlMustMatch from the start URL: "site" or "subpath".
	Scope string `json:"scope"`

	URLMustMatch         string `json:"url_must_match"`
	URLMustNotMatch      string `json:"url_must_not_match"`
	IPMustMatch          string `json:"ip_must_match"`
	IPMustNotMatch       string `json:"ip_must_not_match"`
	CountryMustMatch     string `json:"country_must_match"`
	NoDepthLimitMatch    string `json:"no_depth_limit_match"`
	IndexURLMustMatch    string `json:"index_url_must_match"`
	IndexURLMustNotMatch string `json:"index_url_must_not_match"`

	Depth            int   `json:"depth"`
	DomMaxPages      int   `json:"dom_max_pages"`
	RecrawlIfOlderMs int64 `json:"recrawl_if_older_ms"`

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

	CacheStrategy string   `json:"cache_strategy"`
	Collections   []string `json:"collections"`
}

func (req createProfileRequest) params() (profile.Params, error) {
	cs := profile.DefaultCacheStrategy
	if req.CacheStrategy != "" {
		parsed, err := profile.ParseCacheStrategy(req.CacheStrategy)
		if err != nil {
			return profile.Params{}, err
		}
		cs = parsed
	}
	mustMatch, err := req.urlMustMatch()
	if err != nil {
		return profile.Params{}, err
	}
	return profile.Params{
		Name:                    req.Name,
		StartURL:                req.StartURL,
		URLMustMatch:            mustMatch,
		URLMustNotMatch:         req.URLMustNotMatch,
		IPMustMatch:             req.IPMustMatch,
		IPMustNotMatch:          req.IPMustNotMatch,
		CountryMustMatch:        req.CountryMustMatch,
		NoDepthLimitMatch:       req.NoDepthLimitMatch,
		IndexURLMustMatch:       req.IndexURLMustMatch,
		IndexURLMustNotMatch:    req.IndexURLMustNotMatch,
		Depth:                   req.Depth,
		DomMaxPages:             req.DomMaxPages,
		RecrawlIfOlder:          time.Duration(req.RecrawlIfOlderMs) * time.Millisecond,
		DirectDocByURL:          req.DirectDocByURL,
		CrawlingQ:               req.CrawlingQ,
		IndexText:               req.IndexText,
		IndexMedia:              req.IndexMedia,
		StoreHTCache:            req.StoreHTCache,
		RemoteIndexing:          req.RemoteIndexing,
		ExcludeStaticStopwords:  req.ExcludeStaticStopwords,
		ExcludeDynamicStopwords: req.ExcludeDynamicStopwords,
		ExcludeParentStopwords:  req.ExcludeParentStopwords,
		PushToSearchIndex:       req.PushToSearchIndex,
		CacheStrategy:           cs,
		Collections:             req.Collections,
	}, nil
}

func (req createProfileRequest) urlMustMatch() (string, error) {
	if req.Scope == "" {
		return req.URLMustMatch, nil
	}
	start, err := url.Parse(req.StartURL)
	if err != nil || start.Host == "" {
		return "", fmt.Errorf("scope %q needs an absolute start_url", req.Scope)
	}
	switch req.Scope {
	case scopeSite:
		return profile.SiteFilter([]*url.URL{start}), nil
	case scopeSubpath:
		return profile.SubpathFilter([]*url.URL{start}), nil
	default:
		return "", fmt.Errorf("unknown scope %q", req.Scope)
	}
}

type updateRequest struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

type admitRequest struct {
	profile.Candidate
	// LastLoaded is when the caller last fetched URL. Documents younger than
	// the profile's recrawl age are reported fresh and not queued.
	LastLoaded *time.Time `json:"last_loaded"`
}

type indexCheckRequest struct {
	URL string `json:"url"`
}

type listResponse struct {
	Status   registry.Status  `json:"status"`
	Active   int              `json:"active"`
	Passive  int              `json:"passive"`
	Profiles []profile.Report `json:"profiles"`
}

func (s *Server) listFields(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"fields": profile.Fields})
}

func (s *Server) listProfiles(w http.ResponseWriter, r *http.Request) {
	status := registry.StatusActive
	if raw := r.URL.Query().Get("status"); raw != "" {
		parsed, err := registry.ParseStatus(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		status = parsed
	}
	terminable := r.URL.Query().Get("terminable") == "true"

	seq := s.registry.ListActive()
	if status == registry.StatusPassive {
		seq = s.registry.ListPassive()
	}
	resp := listResponse{Status: status, Profiles: []profile.Report{}}
	resp.Active, resp.Passive = s.registry.Counts()
	for p := range seq {
		if terminable && s.cfg.IsReserved(p.Name()) {
			continue
		}
		resp.Profiles = append(resp.Profiles, s.report(p, status))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) createProfile(w http.ResponseWriter, r *http.Request) {
	var req createProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	params, err := req.params()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	handle, err := s.registry.Create(params)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"handle": handle})
}

func (s *Server) getProfile(w http.ResponseWriter, r *http.Request) {
	p, status, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.report(p, status))
}

func (s *Server) report(p *profile.Profile, status registry.Status) profile.Report {
	r := p.Report(status == registry.StatusActive, s.cfg.Profiles.DomainListLength)
	if p.RecrawlIfOlder() > 0 {
		before := p.RecrawlDate(s.clock.Now()).UTC()
		r.RecrawlBefore = &before
	}
	return r
}

func (s *Server) getSettings(w http.ResponseWriter, r *http.Request) {
	p, _, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, p.Map())
}

func (s *Server) updateProfile(w http.ResponseWriter, r *http.Request) {
	handle := chi.URLParam(r, "handle")
	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Field == "" {
		writeError(w, http.StatusBadRequest, "field required")
		return
	}
	if _, ok := profile.LookupField(req.Field); !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown field %q", req.Field))
		return
	}
	if err := s.registry.Update(handle, req.Field, req.Value); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	value, _ := s.currentValue(handle, req.Field)
	writeJSON(w, http.StatusOK, map[string]string{"handle": handle, "field": req.Field, "value": value})
}

func (s *Server) currentValue(handle, field string) (string, bool) {
	p, _, err := s.registry.Lookup(handle)
	if err != nil {
		return "", false
	}
	return p.Get(field)
}

func (s *Server) terminateProfile(w http.ResponseWriter, r *http.Request) {
	p, _, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if s.cfg.IsReserved(p.Name()) {
		writeError(w, http.StatusForbidden, "built-in profile cannot be terminated")
		return
	}
	if err := s.registry.Terminate(p.Handle()); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	s.limiter.Forget(p.Handle())
	metrics.SetFrontierQueued(s.frontier.Len())
	writeJSON(w, http.StatusOK, map[string]string{"handle": p.Handle(), "status": string(registry.StatusPassive)})
}

func (s *Server) clearDomains(w http.ResponseWriter, r *http.Request) {
	p, _, ok := s.lookup(w, r)
	if !ok {
		return
	}
	p.ClearDomains()
	writeJSON(w, http.StatusOK, map[string]any{"handle": p.Handle(), "domain_count": p.DomainCount()})
}

func (s *Server) deleteProfile(w http.ResponseWriter, r *http.Request) {
	p, _, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if s.cfg.IsReserved(p.Name()) {
		writeError(w, http.StatusForbidden, "built-in profile cannot be deleted")
		return
	}
	if err := s.registry.Delete(p.Handle()); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"handle": p.Handle(), "status": "deleted"})
}

func (s *Server) admitURL(w http.ResponseWriter, r *http.Request) {
	p, status, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if status != registry.StatusActive {
		writeError(w, http.StatusConflict, registry.ErrAlreadyPassive.Error())
		return
	}
	handle := p.Handle()
	if !s.limiter.Allow(handle) {
		metrics.ObserveRateLimited(admitRoute)
		writeError(w, http.StatusTooManyRequests, "admission rate limit exceeded")
		return
	}
	var req admitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		writeError(w, http.StatusBadRequest, "url required")
		return
	}
	c := req.Candidate

	var d profile.Decision
	switch {
	case !p.QueryAllowed(c.URL):
		d = profile.Decision{Reason: profile.ReasonQueryNotAllowed, Domain: profile.DomainOf(c.URL)}
	case req.LastLoaded != nil && !p.NeedsRecrawl(*req.LastLoaded, s.clock.Now()):
		d = profile.Decision{Reason: profile.ReasonFresh, Domain: profile.DomainOf(c.URL)}
	default:
		d = p.Admit(c)
	}
	metrics.ObserveAdmission(string(d.Reason))
	if !d.Admitted {
		writeJSON(w, http.StatusOK, d)
		return
	}

	if err := s.enqueue(r.Context(), handle, c); err != nil {
		s.logger.Warn("frontier enqueue failed",
			zap.String("handle", handle),
			zap.String("url", c.URL),
			zap.Error(err),
		)
		writeError(w, http.StatusServiceUnavailable, "frontier unavailable")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// enqueue pushes an admitted URL into the frontier. A terminate that lands
// between admission and enqueue would leave the item orphaned, so the
// profile's status is re-checked afterwards.
func (s *Server) enqueue(ctx context.Context, handle string, c profile.Candidate) error {
	ctx, cancel := context.WithTimeout(ctx, enqueueTimeout)
	defer cancel()
	item := crawler.QueueItem{
		Handle:    handle,
		URL:       c.URL,
		Depth:     c.Depth,
		Referrer:  c.Referrer,
		Submitted: s.clock.Now().Unix(),
	}
	if err := s.frontier.Enqueue(ctx, item); err != nil {
		return err
	}
	if _, status, err := s.registry.Lookup(handle); err != nil || status != registry.StatusActive {
		s.frontier.RemoveByProfile(handle)
	}
	metrics.SetFrontierQueued(s.frontier.Len())
	return nil
}

func (s *Server) checkIndex(w http.ResponseWriter, r *http.Request) {
	p, _, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req indexCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		writeError(w, http.StatusBadRequest, "url required")
		return
	}
	d := p.CheckIndex(req.URL)
	metrics.ObserveIndexDecision(string(d.Reason))
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*profile.Profile, registry.Status, bool) {
	p, status, err := s.registry.Lookup(chi.URLParam(r, "handle"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return nil, "", false
	}
	return p, status, true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, registry.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, registry.ErrAlreadyPassive),
		errors.Is(err, registry.ErrStillActive),
		errors.Is(err, registry.ErrDuplicateHandle),
		errors.Is(err, registry.ErrHandleRetired),
		errors.Is(err, profile.ErrFrozen):
		return http.StatusConflict
	case errors.Is(err, profile.ErrEmptyName),
		errors.Is(err, registry.ErrReadOnlyField),
		errors.Is(err, registry.ErrInvalidValue):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

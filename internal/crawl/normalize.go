package crawl

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// trackingParams are query parameters that never change page content and are
// stripped during normalization.
var trackingParams = map[string]struct{}{
	"utm_source":   {},
	"utm_medium":   {},
	"utm_campaign": {},
	"utm_term":     {},
	"utm_content":  {},
	"gclid":        {},
	"fbclid":       {},
	"msclkid":      {},
	"mc_cid":       {},
	"mc_eid":       {},
	"ref":          {},
	"source":       {},
}

// facetParams mark faceted-navigation URLs that would blow up the frontier.
var facetParams = map[string]struct{}{
	"sort":      {},
	"order":     {},
	"orderby":   {},
	"filter":    {},
	"facet":     {},
	"refine":    {},
	"sessionid": {},
	"sid":       {},
	"phpsessid": {},
}

var calendarPath = regexp.MustCompile(`(?i)/(calendar|events?)/\d{4}[-/]\d{1,2}`)

const (
	maxQueryParams = 3
	maxPageParam   = 20
)

// Normalize resolves raw against base and canonicalizes it: lowercased
// scheme and host, fragment dropped, tracking parameters stripped, remaining
// query keys sorted, default ports removed, trailing slash trimmed except at
// the root. http/https and www/non-www stay distinct unless fold is set.
func Normalize(raw string, base *url.URL, fold bool) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parsing url %q: %w", raw, err)
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.User = nil

	if fold {
		u.Scheme = "https"
		u.Host = strings.TrimPrefix(u.Host, "www.")
	}

	// Drop default ports.
	if h, p, found := strings.Cut(u.Host, ":"); found {
		if (u.Scheme == "http" && p == "80") || (u.Scheme == "https" && p == "443") {
			u.Host = h
		}
	}

	q := u.Query()
	for key := range q {
		if _, ok := trackingParams[strings.ToLower(key)]; ok {
			q.Del(key)
		}
	}
	u.RawQuery = encodeSorted(q)

	if u.Path == "" {
		u.Path = "/"
	}
	if u.Path != "/" {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}

	return u.String(), nil
}

// encodeSorted is url.Values.Encode with guaranteed key order.
func encodeSorted(q url.Values) string {
	if len(q) == 0 {
		return ""
	}
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		values := q[k]
		sort.Strings(values)
		for _, v := range values {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}

// Excluded reports whether a normalized URL matches faceted-navigation or
// infinite-parameter patterns and must not join the frontier.
func Excluded(normalized string) bool {
	u, err := url.Parse(normalized)
	if err != nil {
		return true
	}
	q := u.Query()
	if len(q) > maxQueryParams {
		return true
	}
	for key := range q {
		if _, ok := facetParams[strings.ToLower(key)]; ok {
			return true
		}
	}
	if page := q.Get("page"); page != "" {
		if n, err := strconv.Atoi(page); err == nil && n > maxPageParam {
			return true
		}
	}
	return calendarPath.MatchString(u.Path)
}

// PriorityClass classifies a URL path as one of the pages the crawl must
// include under the page cap when discoverable. Returns "" for ordinary URLs.
func PriorityClass(normalized string) string {
	u, err := url.Parse(normalized)
	if err != nil {
		return ""
	}
	path := strings.ToLower(strings.Trim(u.Path, "/"))
	switch {
	case path == "":
		return "home"
	case matchSegment(path, "about", "about-us", "company", "contact", "contact-us", "team"):
		return "about"
	case matchSegment(path, "pricing", "prices", "plans", "offers", "packages"):
		return "pricing"
	case matchSegment(path, "faq", "faqs", "frequently-asked-questions", "help", "support"):
		return "faq"
	}
	return ""
}

func matchSegment(path string, names ...string) bool {
	for _, seg := range strings.Split(path, "/") {
		for _, name := range names {
			if seg == name {
				return true
			}
		}
	}
	return false
}

// SameSite reports whether the candidate URL belongs to the crawl host.
func SameSite(root *url.URL, candidate string, fold bool) bool {
	u, err := url.Parse(candidate)
	if err != nil {
		return false
	}
	rh, ch := strings.ToLower(root.Host), strings.ToLower(u.Host)
	if fold {
		rh = strings.TrimPrefix(rh, "www.")
		ch = strings.TrimPrefix(ch, "www.")
	}
	return rh == ch
}

package pipeline

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aliskhannn/screenshot-worker/internal/model"
)

const cookieTTL = time.Hour

// MergeURL builds the navigation target of a job. Without a base URL the
// job URL is used as is. Otherwise the origin comes from the base URL, the
// path from the job URL, and the query is the base URL's parameters
// overridden by the job URL's parameters of the same name.
//
// The base origin replaces the job's origin even when the hosts differ:
// the base URL names the environment being captured, the job URL only the
// page within it.
func MergeURL(jobURL, baseURL string) (string, error) {
	if baseURL == "" {
		return jobURL, nil
	}

	page, err := url.Parse(jobURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	if base.Host == "" {
		return jobURL, nil
	}

	params := base.Query()
	for key, values := range page.Query() {
		params[key] = values
	}

	merged := *page
	merged.Scheme = base.Scheme
	merged.Host = base.Host
	merged.User = base.User
	merged.RawQuery = params.Encode()

	return merged.String(), nil
}

// ParseCookies turns a "name=value; other=value" string into cookies scoped
// to the host of target. Pairs without a name or a value are skipped.
func ParseCookies(raw, target string, now time.Time) ([]model.Cookie, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}

	var cookies []model.Cookie
	for _, item := range strings.Split(raw, ";") {
		name, value, ok := strings.Cut(item, "=")
		name, value = strings.TrimSpace(name), strings.TrimSpace(value)
		if !ok || name == "" || value == "" {
			continue
		}

		cookies = append(cookies, model.Cookie{
			Name:    name,
			Value:   value,
			Domain:  u.Hostname(),
			Path:    "/",
			Expires: now.Add(cookieTTL),
		})
	}

	return cookies, nil
}

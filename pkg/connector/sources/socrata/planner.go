package socrata

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/civicsync/civicsync/pkg/models"
	"github.com/civicsync/civicsync/pkg/syncerrors"
	"github.com/civicsync/civicsync/pkg/timestamps"
)

var (
	fieldNameRe  = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	resourceIDRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
)

// FetchPlan is a fully built request for one page of a resource.
type FetchPlan struct {
	URL        string
	ResourceID string
	Limit      int
	// Where is the SoQL filter, empty for an unbounded (full) fetch.
	Where     string
	Watermark models.Watermark
}

// Bounded reports whether the plan filters on a watermark.
func (p *FetchPlan) Bounded() bool {
	return p.Where != ""
}

// PlanFetch builds the request URL for resourceID under baseURL.
//
// $limit is always present. When wm is non-nil the request is restricted to
// records whose field is strictly greater than the watermark rendered in UTC
// at second precision, e.g. data_loaded_at > '2024-03-01T08:15:00'. A nil
// watermark yields an unbounded request. The field name must be a plain
// identifier and the literal is rendered from a time value, so nothing
// supplied as text reaches the filter.
func PlanFetch(baseURL, resourceID, field string, wm models.Watermark, limit int) (*FetchPlan, error) {
	if limit <= 0 {
		return nil, syncerrors.Newf(syncerrors.ErrorTypeValidation, "limit must be positive, got %d", limit)
	}
	if !resourceIDRe.MatchString(resourceID) {
		return nil, syncerrors.Newf(syncerrors.ErrorTypeValidation, "invalid resource id %q", resourceID)
	}
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, syncerrors.Newf(syncerrors.ErrorTypeValidation, "invalid base url %q", baseURL)
	}

	plan := &FetchPlan{
		ResourceID: resourceID,
		Limit:      limit,
		Watermark:  wm,
	}

	// Socrata documents its parameters with a literal "$", so the query is
	// assembled by hand with escaped values.
	query := "$limit=" + strconv.Itoa(limit)
	if wm != nil {
		if !fieldNameRe.MatchString(field) {
			return nil, syncerrors.Newf(syncerrors.ErrorTypeValidation, "invalid timestamp field %q", field)
		}
		plan.Where = fmt.Sprintf("%s > '%s'", field, timestamps.FormatWatermark(*wm))
		query += "&$where=" + url.QueryEscape(plan.Where)
	}

	plan.URL = fmt.Sprintf("%s/%s.json?%s", base.String(), resourceID, query)
	return plan, nil
}

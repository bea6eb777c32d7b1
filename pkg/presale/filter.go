package presale

import (
	"strings"
	"time"
)

const (
	dayLayout      = "2006-01-02"
	startOfDay     = "T00:00:00.000Z"
	endOfDay       = "T23:59:59.999Z"
	boundaryLayout = "2006-01-02T15:04:05.000Z"
)

// ListingParams are the raw listing query parameters as they arrive at the
// boundary. Multi-valued fields accept repeated values and comma lists.
type ListingParams struct {
	Status        []string
	Owner         string
	Creator       string
	Token         string
	StartDate     string
	EndDate       string
	OnchainStatus []string
}

// Filter is the canonical listing filter. Zero-valued fields do not filter.
type Filter struct {
	Statuses        []ManageStatus
	Creator         string
	Token           string
	CreatedFrom     *time.Time
	CreatedTo       *time.Time
	OnchainStatuses []OnchainState
}

// MatchStatus reports whether status is selected by the filter.
func (f *Filter) MatchStatus(status ManageStatus) bool {
	if f == nil || len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if s == status {
			return true
		}
	}
	return false
}

// MatchOnchain reports whether state is selected by the filter.
func (f *Filter) MatchOnchain(state OnchainState) bool {
	if f == nil || len(f.OnchainStatuses) == 0 {
		return true
	}
	for _, s := range f.OnchainStatuses {
		if s == state {
			return true
		}
	}
	return false
}

// Match applies every field of the filter to p. A nil filter matches all.
func (f *Filter) Match(p *Presale, now time.Time) bool {
	if f == nil {
		return true
	}
	if f.Creator != "" && NormalizeAddress(p.Creator) != f.Creator {
		return false
	}
	if f.Token != "" && NormalizeAddress(p.Token.Address) != f.Token {
		return false
	}
	if f.CreatedFrom != nil && p.CreatedAt.Before(*f.CreatedFrom) {
		return false
	}
	if f.CreatedTo != nil && p.CreatedAt.After(*f.CreatedTo) {
		return false
	}
	if !f.MatchOnchain(p.Status) {
		return false
	}
	return f.MatchStatus(Resolve(p, now))
}

// NormalizeFilter translates raw listing parameters into a canonical filter.
// Unknown status tokens and unparseable dates are ignored. When both dates
// parse and are inverted they are swapped before the day bounds are applied.
//
// Parameters:
//   - params (ListingParams): raw query values
//
// Returns:
//   - *Filter: the canonical filter, nil when nothing constrains the listing
func NormalizeFilter(params ListingParams) *Filter {
	f := &Filter{}

	for _, tok := range splitTokens(params.Status) {
		s, ok := ParseManageStatus(tok)
		if !ok || containsStatus(f.Statuses, s) {
			continue
		}
		f.Statuses = append(f.Statuses, s)
	}

	for _, tok := range splitTokens(params.OnchainStatus) {
		s, ok := ParseOnchainState(tok)
		if !ok || containsState(f.OnchainStatuses, s) {
			continue
		}
		f.OnchainStatuses = append(f.OnchainStatuses, s)
	}

	// owner and creator are aliases; owner wins when both are set
	creator := params.Creator
	if strings.TrimSpace(params.Owner) != "" {
		creator = params.Owner
	}
	f.Creator = NormalizeAddress(creator)
	f.Token = NormalizeAddress(params.Token)

	startRaw := strings.TrimSpace(params.StartDate)
	endRaw := strings.TrimSpace(params.EndDate)
	start, startOK := parseDate(startRaw, false)
	end, endOK := parseDate(endRaw, true)
	if startOK && endOK {
		// compare the lower bounds of both inputs so a same-day pair never swaps
		endLow, _ := parseDate(endRaw, false)
		if endLow.Before(start) {
			startRaw, endRaw = endRaw, startRaw
			start, _ = parseDate(startRaw, false)
			end, _ = parseDate(endRaw, true)
		}
	}
	if startOK {
		f.CreatedFrom = &start
	}
	if endOK {
		f.CreatedTo = &end
	}

	if len(f.Statuses) == 0 && len(f.OnchainStatuses) == 0 && f.Creator == "" && f.Token == "" &&
		f.CreatedFrom == nil && f.CreatedTo == nil {
		return nil
	}
	return f
}

// parseDate accepts a calendar day or an RFC 3339 instant. A calendar day is
// widened to its first or last millisecond depending on upper.
func parseDate(value string, upper bool) (time.Time, bool) {
	if value == "" {
		return time.Time{}, false
	}
	if _, err := time.Parse(dayLayout, value); err == nil {
		suffix := startOfDay
		if upper {
			suffix = endOfDay
		}
		t, err := time.Parse(boundaryLayout, value+suffix)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

func splitTokens(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

func containsStatus(list []ManageStatus, s ManageStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsState(list []OnchainState, s OnchainState) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

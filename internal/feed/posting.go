package feed

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Posting is one listing from the upstream feed.
//
// Identity is the upstream id and nothing else. Title, company and
// dates all mutate in place upstream, so any composite key derived
// from them would split or merge postings incorrectly.
type Posting struct {
	ID          string   `json:"id"`
	Company     string   `json:"company_name"`
	Title       string   `json:"title"`
	Locations   []string `json:"locations"`
	Terms       []string `json:"terms"`
	Sponsorship string   `json:"sponsorship,omitempty"`
	Active      bool     `json:"active"`
	Visible     bool     `json:"is_visible"`
	PostedAt    int64    `json:"date_posted"`  // epoch seconds
	UpdatedAt   int64    `json:"date_updated"` // epoch seconds
	URL         string   `json:"url"`
	Source      string   `json:"source,omitempty"`
	CompanyURL  string   `json:"company_url,omitempty"`
}

// Validate reports the first missing required field.
func (p Posting) Validate() error {
	switch {
	case strings.TrimSpace(p.ID) == "":
		return errors.New("posting has no id")
	case strings.TrimSpace(p.Title) == "":
		return fmt.Errorf("posting %s has no title", p.ID)
	case strings.TrimSpace(p.Company) == "":
		return fmt.Errorf("posting %s has no company_name", p.ID)
	case strings.TrimSpace(p.URL) == "":
		return fmt.Errorf("posting %s has no url", p.ID)
	case p.PostedAt <= 0:
		return fmt.Errorf("posting %s has no date_posted", p.ID)
	}
	return nil
}

func (p Posting) PostedTime() time.Time { return time.Unix(p.PostedAt, 0) }

// Equal compares the mutable fields that matter for change detection.
// Locations and terms are sets: order differences are not changes.
func (p Posting) Equal(o Posting) bool {
	return p.Title == o.Title &&
		p.Company == o.Company &&
		p.Active == o.Active &&
		p.Visible == o.Visible &&
		p.PostedAt == o.PostedAt &&
		sameSet(p.Locations, o.Locations) &&
		sameSet(p.Terms, o.Terms)
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

// Snapshot is the complete feed as of one polling cycle.
// It is replaced wholesale each cycle, never merged.
type Snapshot []Posting

// Index returns an id lookup over the snapshot.
// Duplicate ids keep the last occurrence, matching upstream behavior.
func (s Snapshot) Index() map[string]Posting {
	m := make(map[string]Posting, len(s))
	for _, p := range s {
		m[p.ID] = p
	}
	return m
}

// Decode parses the upstream JSON document (an array of postings).
func Decode(raw []byte) (Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("feed: decode listings: %w", err)
	}
	return snap, nil
}

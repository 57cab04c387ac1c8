package crm

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ContactQuery narrows and orders a contact list the way the contacts table
// does.
type ContactQuery struct {
	// Search matches case-insensitively against name, email, phone,
	// company, position and status.
	Search string
	// Sort is a column name, optionally prefixed with "-" for descending.
	Sort string
	// Page is 1-based. PageSize zero returns every match.
	Page     int
	PageSize int
}

var contactColumns = map[string]func(Contact) string{
	"name":     func(c Contact) string { return c.Name },
	"email":    func(c Contact) string { return c.Email },
	"phone":    func(c Contact) string { return c.Phone },
	"company":  func(c Contact) string { return c.Company },
	"position": func(c Contact) string { return c.Position },
	"status":   func(c Contact) string { return c.Status },
}

// SortColumns lists the keys accepted by ContactQuery.Sort.
func SortColumns() []string {
	keys := make([]string, 0, len(contactColumns))
	for k := range contactColumns {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Validate reports an unknown sort column or a negative page.
func (q ContactQuery) Validate() error {
	if q.Sort != "" {
		key := strings.TrimPrefix(q.Sort, "-")
		if _, ok := contactColumns[key]; !ok {
			return fmt.Errorf("unknown sort column %q, want one of %s", key, strings.Join(SortColumns(), ", "))
		}
	}
	if q.Page < 0 || q.PageSize < 0 {
		return errors.New("page and page size must not be negative")
	}
	return nil
}

// Apply returns the contacts matching q in q's order. The input slice is not
// modified.
func (q ContactQuery) Apply(contacts []Contact) ([]Contact, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	out := make([]Contact, 0, len(contacts))
	needle := strings.ToLower(strings.TrimSpace(q.Search))
	for _, c := range contacts {
		if needle == "" || c.matches(needle) {
			out = append(out, c)
		}
	}

	if q.Sort != "" {
		key := strings.TrimPrefix(q.Sort, "-")
		desc := key != q.Sort
		col := contactColumns[key]
		sort.SliceStable(out, func(i, j int) bool {
			a, b := strings.ToLower(col(out[i])), strings.ToLower(col(out[j]))
			if desc {
				return a > b
			}
			return a < b
		})
	}

	if q.PageSize > 0 {
		page := max(q.Page, 1)
		start := min((page-1)*q.PageSize, len(out))
		end := min(start+q.PageSize, len(out))
		out = out[start:end]
	}
	return out, nil
}

func (c Contact) matches(needle string) bool {
	for _, col := range contactColumns {
		if strings.Contains(strings.ToLower(col(c)), needle) {
			return true
		}
	}
	return false
}

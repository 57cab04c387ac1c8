package crm_test

import (
	"strings"
	"testing"

	"crmdash/pkg/crm"
)

func names(contacts []crm.Contact) string {
	out := make([]string, len(contacts))
	for i, c := range contacts {
		out[i] = c.Name
	}
	return strings.Join(out, ",")
}

func TestContactQuery(t *testing.T) {
	contacts := []crm.Contact{
		{ID: "1", Name: "carol", Email: "carol@initech.com", Company: "Initech", Status: crm.ContactStatusLead},
		{ID: "2", Name: "Alice", Email: "alice@acme.com", Company: "Acme", Status: crm.ContactStatusPaid},
		{ID: "3", Name: "Bob", Email: "bob@acme.com", Company: "Acme", Status: crm.ContactStatusProspect},
		{ID: "4", Name: "Dave", Email: "dave@globex.com", Company: "Globex", Position: "CTO", Status: crm.ContactStatusLead},
	}

	tests := []struct {
		name  string
		query crm.ContactQuery
		want  string
	}{
		{name: "empty keeps order", query: crm.ContactQuery{}, want: "carol,Alice,Bob,Dave"},
		{name: "search company", query: crm.ContactQuery{Search: "ACME"}, want: "Alice,Bob"},
		{name: "search position", query: crm.ContactQuery{Search: " cto "}, want: "Dave"},
		{name: "search status", query: crm.ContactQuery{Search: "lead"}, want: "carol,Dave"},
		{name: "search no match", query: crm.ContactQuery{Search: "umbrella"}, want: ""},
		{name: "sort name ignores case", query: crm.ContactQuery{Sort: "name"}, want: "Alice,Bob,carol,Dave"},
		{name: "sort descending", query: crm.ContactQuery{Sort: "-name"}, want: "Dave,carol,Bob,Alice"},
		{name: "sort is stable", query: crm.ContactQuery{Sort: "company"}, want: "Alice,Bob,Dave,carol"},
		{name: "search then sort", query: crm.ContactQuery{Search: "acme", Sort: "-email"}, want: "Bob,Alice"},
		{name: "first page", query: crm.ContactQuery{Sort: "name", PageSize: 3}, want: "Alice,Bob,carol"},
		{name: "second page", query: crm.ContactQuery{Sort: "name", Page: 2, PageSize: 3}, want: "Dave"},
		{name: "page past end", query: crm.ContactQuery{Page: 5, PageSize: 3}, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.query.Apply(contacts)
			if err != nil {
				t.Fatalf("Apply() error = %v", err)
			}
			if names(got) != tt.want {
				t.Fatalf("Apply() = %q, want %q", names(got), tt.want)
			}
		})
	}

	if names(contacts) != "carol,Alice,Bob,Dave" {
		t.Fatalf("Apply() reordered its input: %q", names(contacts))
	}
}

func TestContactQueryRejectsBadInput(t *testing.T) {
	for _, q := range []crm.ContactQuery{{Sort: "revenue"}, {Sort: "-"}, {PageSize: -1}} {
		if _, err := q.Apply(nil); err == nil {
			t.Fatalf("Apply(%+v) returned nil error", q)
		}
	}
}

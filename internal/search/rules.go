package search

import (
	"regexp"
	"strings"

	"github.com/hyperjump/contaluz/internal/models"
)

// ExactRule routes a query that matches Pattern to a structured lookup of Field on records of
// Type. Group selects the capture group holding the value; 0 uses the whole match.
type ExactRule struct {
	Name    string
	Pattern *regexp.Regexp
	Type    models.RecordType
	Field   string
	Group   int
}

// Match returns the lookup value when query matches the rule.
func (r ExactRule) Match(query string) (string, bool) {
	m := r.Pattern.FindStringSubmatch(strings.TrimSpace(query))
	if m == nil || r.Group >= len(m) {
		return "", false
	}
	value := strings.TrimSpace(m[r.Group])
	return value, value != ""
}

// DefaultExactRules covers the identifiers customers type on their own: a bare client number,
// and labelled client, installation and invoice numbers.
func DefaultExactRules() []ExactRule {
	return []ExactRule{
		{
			Name:    "client_number",
			Pattern: regexp.MustCompile(`^(\d{4,12})$`),
			Type:    models.RecordTypeClient,
			Field:   "matricula",
			Group:   1,
		},
		{
			Name:    "labelled_client_number",
			Pattern: regexp.MustCompile(`(?i)^(?:matr[íi]cula|n[úu]mero do cliente|cliente)\s*(?:n[º°o.]*)?\s*:?\s*(\d{4,12})$`),
			Type:    models.RecordTypeClient,
			Field:   "matricula",
			Group:   1,
		},
		{
			Name:    "installation_number",
			Pattern: regexp.MustCompile(`(?i)^instala[çc][ãa]o\s*(?:n[º°o.]*)?\s*:?\s*(\d{4,15})$`),
			Type:    models.RecordTypeClient,
			Field:   "numero_instalacao",
			Group:   1,
		},
		{
			Name:    "invoice_number",
			Pattern: regexp.MustCompile(`(?i)^fatura\s*(?:n[º°o.]*)?\s*:?\s*(\d{4,15})$`),
			Type:    models.RecordTypeInvoice,
			Field:   "numero_fatura",
			Group:   1,
		},
	}
}

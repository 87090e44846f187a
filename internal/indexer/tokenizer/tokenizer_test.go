package tokenizer

import (
	"reflect"
	"testing"
)

func TestFold(t *testing.T) {
	cases := map[string]string{
		"Müller GmbH":   "muller gmbh",
		"Café Crème":    "cafe creme",
		"ÉLECTRICITÉ":   "electricite",
		"plain ascii 7": "plain ascii 7",
	}
	for in, want := range cases {
		if got := Fold(in); got != want {
			t.Errorf("Fold(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTokenize(t *testing.T) {
	got := Terms("The Invoices from Müller, dated 2024-03-01, are attached.")
	want := []string{"invoic", "mull", "dat", "2024", "03", "01", "attach"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Terms = %v, want %v", got, want)
	}
}

func TestTokenPositionsAreDense(t *testing.T) {
	tokens := Tokenize("a b invoice the total")
	for i, tok := range tokens {
		if tok.Position != i {
			t.Errorf("token %d has position %d", i, tok.Position)
		}
	}
}

func TestStem(t *testing.T) {
	cases := map[string]string{
		"payments":   "payment",
		"relational": "relate",
		"rechnungen": "rechnung",
		"2024":       "2024",
		"agencies":   "agence",
		"processing": "process",
	}
	for in, want := range cases {
		if got := stem(in); got != want {
			t.Errorf("stem(%q) = %q, want %q", in, got, want)
		}
	}
}

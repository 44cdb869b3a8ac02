package textutil

import "testing"

func TestStripHTML(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "empty string", in: "", want: ""},
		{name: "no tags present", in: "plain text only", want: "plain text only"},
		{name: "simple tag pair", in: "<b>bold</b>", want: "bold"},
		{name: "unclosed tag drops the rest", in: "a <b", want: "a "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := StripHTML(tt.in); got != tt.want {
				t.Fatalf("StripHTML(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestCollapseWhitespace(t *testing.T) {
	t.Parallel()

	cases := []struct{ in, want string }{
		{"", ""},
		{"  a  b\t\nc  ", "a b c"},
		{"x\u00a0\u00a0y", "x y"},
		{"Praha\u00c2\u00a01", "Praha 1"},
		{"already clean", "already clean"},
	}
	for _, c := range cases {
		if got := CollapseWhitespace(c.in); got != c.want {
			t.Errorf("CollapseWhitespace(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestStripOrdinal(t *testing.T) {
	t.Parallel()

	cases := []struct{ in, want string }{
		{"1. milk", "milk"},
		{"  12.eggs ", "eggs"},
		{"v1.2 release", "v1.2 release"},
		{"no numbering", "no numbering"},
		{". leading dot", ". leading dot"},
		{"3.14 is pi-ish", "14 is pi-ish"},
	}
	for _, c := range cases {
		if got := StripOrdinal(c.in); got != c.want {
			t.Errorf("StripOrdinal(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestNormalizer(t *testing.T) {
	t.Parallel()

	n, err := NewNormalizer(NormalizeOptions{
		Collapse:        true,
		StripOrdinal:    true,
		Form:            "NFC",
		StripDiacritics: true,
		Case:            "lower",
	})
	if err != nil {
		t.Fatalf("NewNormalizer: %v", err)
	}
	if got, want := n.String("  2.  Příliš   Žluťoučký "), "prilis zlutoucky"; got != want {
		t.Fatalf("got %q want %q", got, want)
	}

	if _, err := NewNormalizer(NormalizeOptions{Form: "NFX"}); err == nil {
		t.Fatalf("expected error for unknown form")
	}
	if _, err := NewNormalizer(NormalizeOptions{Case: "title"}); err == nil {
		t.Fatalf("expected error for unknown case")
	}
}

func TestNormalizerFoldsFullwidth(t *testing.T) {
	t.Parallel()

	n, err := NewNormalizer(NormalizeOptions{Form: "NFKC"})
	if err != nil {
		t.Fatalf("NewNormalizer: %v", err)
	}
	if got, want := n.String("ＡＢＣ１"), "ABC1"; got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

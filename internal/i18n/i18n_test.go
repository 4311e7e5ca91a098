package i18n

import (
	"testing"
	"testing/fstest"
	"time"

	"matimeline/internal/timeline"
)

func TestEmbeddedCatalog(t *testing.T) {
	c, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := c.Locales(); len(got) != 2 || got[0] != "fr" || got[1] != "en" {
		t.Fatalf("unexpected locales %v", got)
	}

	en := c.Translator("en")
	if en.Locale() != "en" || en.T("common.time.years") != "years" {
		t.Fatalf("unexpected en translator")
	}
	if got := en.T("no.such.key"); got != "no.such.key" {
		t.Fatalf("missing key should echo, got %q", got)
	}

	fallback := c.Translator("de")
	if fallback.Locale() != DefaultLocale || fallback.T("common.time.day") != "jour" {
		t.Fatalf("unsupported locale should use default catalog")
	}
}

func TestTranslatorFormatsCountdown(t *testing.T) {
	c, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	now := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	target := now.Add(400 * 24 * time.Hour)

	got := timeline.Remaining(&target, now).Format(c.Translator("fr"))
	if got != "1 an 1 mois 6 jours" {
		t.Fatalf("unexpected french countdown %q", got)
	}
}

func TestNegotiate(t *testing.T) {
	c, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cases := map[string]string{
		"":                        "fr",
		"en-US,en;q=0.9":          "en",
		"fr-CA":                   "fr",
		"de-DE,en;q=0.5":          "en",
		"ja":                      "fr",
		"not a header;;;q=banana": "fr",
	}
	for header, want := range cases {
		if got := c.Negotiate(header); got != want {
			t.Fatalf("%q: want %s, got %s", header, want, got)
		}
	}
}

func TestNegotiateOrUsesFallback(t *testing.T) {
	c, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cases := []struct{ header, fallback, want string }{
		{"", "en", "en"},
		{"ja", "en", "en"},
		{"fr-CA", "en", "fr"},
		{"ja", "de", "fr"},
	}
	for _, tc := range cases {
		if got := c.NegotiateOr(tc.header, tc.fallback); got != tc.want {
			t.Fatalf("%q/%q: want %s, got %s", tc.header, tc.fallback, tc.want, got)
		}
	}
}

func TestLoadFSFallsBackPerKey(t *testing.T) {
	fsys := fstest.MapFS{
		"l/fr.yaml": {Data: []byte("a:\n  b: un\n  c: deux\n")},
		"l/en.yaml": {Data: []byte("a:\n  b: one\n")},
	}
	c, err := LoadFS(fsys, "l")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	en := c.Translator("en")
	if en.T("a.b") != "one" || en.T("a.c") != "deux" {
		t.Fatalf("per-key fallback failed: %q %q", en.T("a.b"), en.T("a.c"))
	}

	if _, err := LoadFS(fstest.MapFS{"l/en.yaml": {Data: []byte("a: b\n")}}, "l"); err == nil {
		t.Fatalf("catalog without default locale must fail")
	}
}

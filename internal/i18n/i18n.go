// Package i18n provides the label lookup used when formatting countdowns
// and statuses, plus locale negotiation for un-prefixed page paths.
package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// DefaultLocale is used when nothing better can be negotiated.
const DefaultLocale = "fr"

//go:embed locales/*.yaml
var embeddedLocales embed.FS

// Translator resolves keys for one locale.
type Translator struct {
	locale   string
	messages map[string]string
	fallback map[string]string
}

// T returns the label for key. Missing keys fall back to the default
// locale, then to the key itself.
func (t Translator) T(key string) string {
	if v, ok := t.messages[key]; ok {
		return v
	}
	if v, ok := t.fallback[key]; ok {
		return v
	}
	return key
}

// Locale reports the locale this translator serves.
func (t Translator) Locale() string { return t.locale }

// Catalog holds flattened messages for every supported locale.
type Catalog struct {
	messages map[string]map[string]string
	matcher  language.Matcher
	locales  []string
}

// Load reads the embedded catalogs.
func Load() (*Catalog, error) {
	return LoadFS(embeddedLocales, "locales")
}

// LoadFS reads every <locale>.yaml under dir in fsys.
func LoadFS(fsys fs.FS, dir string) (*Catalog, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, err
	}

	c := &Catalog{messages: make(map[string]map[string]string)}
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".yaml" {
			continue
		}
		locale := strings.TrimSuffix(e.Name(), ".yaml")
		data, err := fs.ReadFile(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		var tree map[string]any
		if err := yaml.Unmarshal(data, &tree); err != nil {
			return nil, fmt.Errorf("i18n: parse %s: %w", e.Name(), err)
		}
		flat := make(map[string]string)
		flatten("", tree, flat)
		c.messages[locale] = flat
	}
	if _, ok := c.messages[DefaultLocale]; !ok {
		return nil, fmt.Errorf("i18n: default locale %q missing", DefaultLocale)
	}

	// Default locale first so that the matcher falls back to it.
	c.locales = append(c.locales, DefaultLocale)
	others := make([]string, 0, len(c.messages))
	for l := range c.messages {
		if l != DefaultLocale {
			others = append(others, l)
		}
	}
	sort.Strings(others)
	c.locales = append(c.locales, others...)

	tags := make([]language.Tag, 0, len(c.locales))
	for _, l := range c.locales {
		tags = append(tags, language.Make(l))
	}
	c.matcher = language.NewMatcher(tags)

	return c, nil
}

func flatten(prefix string, node map[string]any, out map[string]string) {
	for k, v := range node {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch vv := v.(type) {
		case map[string]any:
			flatten(key, vv, out)
		case nil:
		default:
			out[key] = fmt.Sprint(vv)
		}
	}
}

// Locales lists supported locales, default first.
func (c *Catalog) Locales() []string {
	return append([]string(nil), c.locales...)
}

// Supported reports whether locale has a catalog.
func (c *Catalog) Supported(locale string) bool {
	_, ok := c.messages[locale]
	return ok
}

// Translator returns the translator for locale, or the default locale's
// when locale is unsupported.
func (c *Catalog) Translator(locale string) Translator {
	msgs, ok := c.messages[locale]
	if !ok {
		locale = DefaultLocale
		msgs = c.messages[DefaultLocale]
	}
	return Translator{
		locale:   locale,
		messages: msgs,
		fallback: c.messages[DefaultLocale],
	}
}

// Negotiate picks the best supported locale for an Accept-Language header.
func (c *Catalog) Negotiate(acceptLanguage string) string {
	return c.NegotiateOr(acceptLanguage, DefaultLocale)
}

// NegotiateOr is Negotiate with fallback returned when nothing matches.
// An unsupported fallback is replaced by DefaultLocale.
func (c *Catalog) NegotiateOr(acceptLanguage, fallback string) string {
	if !c.Supported(fallback) {
		fallback = DefaultLocale
	}
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return fallback
	}
	_, idx, conf := c.matcher.Match(tags...)
	if conf == language.No {
		return fallback
	}
	return c.locales[idx]
}

// Package sender maps newsletter senders to company keys.
package sender

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Unknown is the company key of senders no entry matches.
const Unknown = "unknown"

//go:embed companies.yaml
var defaultCompanies []byte

// Company describes how to recognize one sender organization.
type Company struct {
	Key      string   `yaml:"key"`
	Domains  []string `yaml:"domains"`
	Patterns []string `yaml:"patterns"`
	Aliases  []string `yaml:"aliases"`
}

type registryFile struct {
	Companies []Company `yaml:"companies"`
}

// Registry matches From headers and questions against known companies.
// Entries are checked in file order and the first match wins.
type Registry struct {
	companies []Company
	aliases   []aliasMatcher
}

type aliasMatcher struct {
	key string
	re  *regexp.Regexp
}

// DefaultRegistry returns the built-in registry.
func DefaultRegistry() *Registry {
	r, err := ParseRegistry(defaultCompanies)
	if err != nil {
		panic(fmt.Sprintf("built-in company registry is invalid: %v", err))
	}
	return r
}

// LoadRegistry reads a registry from a YAML file.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseRegistry(data)
}

// ParseRegistry parses registry YAML.
func ParseRegistry(data []byte) (*Registry, error) {
	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse company registry: %w", err)
	}
	return NewRegistry(file.Companies...)
}

// NewRegistry builds a registry from companies. Keys must be unique and
// non-empty; matching is case-insensitive.
func NewRegistry(companies ...Company) (*Registry, error) {
	r := &Registry{}
	for _, c := range companies {
		c.Key = strings.ToLower(strings.TrimSpace(c.Key))
		if c.Key == "" || c.Key == Unknown {
			return nil, fmt.Errorf("invalid company key %q", c.Key)
		}
		if slices.ContainsFunc(r.companies, func(o Company) bool { return o.Key == c.Key }) {
			return nil, fmt.Errorf("duplicate company key %q", c.Key)
		}
		c.Domains = lowerAll(c.Domains)
		c.Patterns = lowerAll(c.Patterns)
		c.Aliases = lowerAll(c.Aliases)
		r.companies = append(r.companies, c)

		for _, alias := range append([]string{c.Key}, c.Aliases...) {
			re, err := regexp.Compile(`(?i)(^|[^\pL\pN])` + regexp.QuoteMeta(alias) + `($|[^\pL\pN])`)
			if err != nil {
				return nil, err
			}
			r.aliases = append(r.aliases, aliasMatcher{key: c.Key, re: re})
		}
	}
	return r, nil
}

// Match returns the company key for a From header, or Unknown.
func (r *Registry) Match(from string) string {
	from = strings.ToLower(strings.TrimSpace(from))
	if from == "" {
		return Unknown
	}
	for _, c := range r.companies {
		if matchDomain(from, c.Domains) {
			return c.Key
		}
		for _, p := range c.Patterns {
			if strings.Contains(from, p) {
				return c.Key
			}
		}
	}
	return Unknown
}

// matchDomain checks the address part after '@' so that "refund.com"
// does not match "fund.com".
func matchDomain(from string, domains []string) bool {
	for _, addr := range addressDomains(from) {
		for _, d := range domains {
			if addr == d || strings.HasSuffix(addr, "."+d) {
				return true
			}
		}
	}
	return false
}

func addressDomains(from string) []string {
	var out []string
	for {
		at := strings.IndexByte(from, '@')
		if at < 0 {
			return out
		}
		from = from[at+1:]
		end := strings.IndexFunc(from, func(r rune) bool {
			return r == '>' || r == ' ' || r == ',' || r == ';' || r == '"' || r == ')'
		})
		if end < 0 {
			end = len(from)
		}
		if end > 0 {
			out = append(out, from[:end])
		}
	}
}

// MatchText returns the keys of companies named in text, in registry order.
func (r *Registry) MatchText(text string) []string {
	var keys []string
	for _, a := range r.aliases {
		if slices.Contains(keys, a.key) {
			continue
		}
		if a.re.MatchString(text) {
			keys = append(keys, a.key)
		}
	}
	slices.SortStableFunc(keys, func(a, b string) int {
		return r.index(a) - r.index(b)
	})
	return keys
}

func (r *Registry) index(key string) int {
	return slices.IndexFunc(r.companies, func(c Company) bool { return c.Key == key })
}

// Companies returns every company key in registry order.
func (r *Registry) Companies() []string {
	keys := make([]string, len(r.companies))
	for i, c := range r.companies {
		keys[i] = c.Key
	}
	return keys
}

// Has reports whether key is a known company.
func (r *Registry) Has(key string) bool {
	return r.index(strings.ToLower(key)) >= 0
}

func lowerAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
			out = append(out, v)
		}
	}
	return out
}

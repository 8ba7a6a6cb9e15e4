// Package geo maps region names to country codes, top-level domains and
// default languages.
package geo

import "strings"

type Country struct {
	Name     string
	Code     string
	TLD      string
	Language string
}

var countries = []Country{
	{Name: "Vietnam", Code: "VN", TLD: "vn", Language: "vi"},
	{Name: "Thailand", Code: "TH", TLD: "th", Language: "th"},
	{Name: "Indonesia", Code: "ID", TLD: "id", Language: "id"},
	{Name: "Malaysia", Code: "MY", TLD: "my", Language: "ms"},
	{Name: "Singapore", Code: "SG", TLD: "sg", Language: "en"},
	{Name: "Philippines", Code: "PH", TLD: "ph", Language: "en"},
	{Name: "Japan", Code: "JP", TLD: "jp", Language: "ja"},
	{Name: "South Korea", Code: "KR", TLD: "kr", Language: "ko"},
	{Name: "China", Code: "CN", TLD: "cn", Language: "zh"},
	{Name: "India", Code: "IN", TLD: "in", Language: "en"},
	{Name: "Germany", Code: "DE", TLD: "de", Language: "de"},
	{Name: "France", Code: "FR", TLD: "fr", Language: "fr"},
	{Name: "United Kingdom", Code: "GB", TLD: "uk", Language: "en"},
	{Name: "United States", Code: "US", TLD: "us", Language: "en"},
	{Name: "Canada", Code: "CA", TLD: "ca", Language: "en"},
	{Name: "Australia", Code: "AU", TLD: "au", Language: "en"},
	{Name: "Brazil", Code: "BR", TLD: "br", Language: "pt"},
	{Name: "Mexico", Code: "MX", TLD: "mx", Language: "es"},
	{Name: "Spain", Code: "ES", TLD: "es", Language: "es"},
	{Name: "Italy", Code: "IT", TLD: "it", Language: "it"},
	{Name: "Netherlands", Code: "NL", TLD: "nl", Language: "nl"},
}

var aliases = map[string]string{
	"viet nam":                 "VN",
	"korea":                    "KR",
	"republic of korea":        "KR",
	"uk":                       "GB",
	"great britain":            "GB",
	"england":                  "GB",
	"us":                       "US",
	"usa":                      "US",
	"united states of america": "US",
	"america":                  "US",
	"holland":                  "NL",
	"prc":                      "CN",
}

var byKey = func() map[string]Country {
	m := make(map[string]Country, len(countries)*2+len(aliases))
	for _, c := range countries {
		m[strings.ToLower(c.Name)] = c
		m[strings.ToLower(c.Code)] = c
	}
	for alias, code := range aliases {
		m[alias] = m[strings.ToLower(code)]
	}
	return m
}()

// Lookup resolves a region name, alias or ISO 3166 alpha-2 code
func Lookup(name string) (Country, bool) {
	c, ok := byKey[strings.ToLower(strings.TrimSpace(name))]
	return c, ok
}

// Codes resolves every known region in names to its country code, in order, without duplicates
func Codes(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		c, ok := Lookup(n)
		if !ok {
			continue
		}
		if _, dup := seen[c.Code]; dup {
			continue
		}
		seen[c.Code] = struct{}{}
		out = append(out, c.Code)
	}
	return out
}

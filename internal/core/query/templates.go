package query

import (
	"strings"

	"discovery/internal/core/model"
)

// phraseTemplate is one deterministic query pattern. Placeholders:
// {entity}, {country}, {theme}, {tld}, {keyword}.
type phraseTemplate struct {
	pattern         string
	queryType       model.QueryType
	priority        int
	requiresCountry bool
}

var phraseTemplates = []phraseTemplate{
	{pattern: "{entity} {country}", queryType: model.QueryWebSearch, priority: 1},
	{pattern: "{entity} directory {country}", queryType: model.QueryDirectory, priority: 1},
	{pattern: "list of {entity} in {country}", queryType: model.QueryWebSearch, priority: 1, requiresCountry: true},
	{pattern: "{entity} association {country}", queryType: model.QueryWebSearch, priority: 2},
	{pattern: "{theme} {entity} {country}", queryType: model.QueryWebSearch, priority: 2},
	{pattern: "site:.{tld} {entity}", queryType: model.QuerySiteSearch, priority: 2},
	{pattern: "{entity} members list {country}", queryType: model.QueryDirectory, priority: 2},
	{pattern: "{entity} companies registry {country}", queryType: model.QueryDirectory, priority: 3},
	{pattern: "site:.{tld} {entity} directory", queryType: model.QuerySiteSearch, priority: 3},
}

var keywordTemplates = []phraseTemplate{
	{pattern: "{keyword} {entity} {country}", queryType: model.QueryWebSearch, priority: 2},
}

var feedTemplates = []phraseTemplate{
	{pattern: "{theme} news rss {country}", queryType: model.QueryFeed, priority: 3},
	{pattern: "{theme} industry feed {country}", queryType: model.QueryFeed, priority: 3},
}

// maxKeywordTemplates bounds how many brief keywords get their own query
const maxKeywordTemplates = 2

// maxSynonyms bounds the synonyms expanded per entity type
const maxSynonyms = 2

var entitySynonyms = map[string][]string{
	"freight_forwarder":  {"freight forwarder", "freight forwarding company"},
	"logistics_provider": {"logistics company", "logistics provider"},
	"logistics_company":  {"logistics company", "logistics provider"},
	"manufacturer":       {"manufacturer", "factory"},
	"supplier":           {"supplier", "wholesale supplier"},
	"distributor":        {"distributor", "wholesale distributor"},
	"exporter":           {"exporter", "export company"},
	"importer":           {"importer", "import company"},
	"retailer":           {"retailer", "retail store"},
	"association":        {"trade association", "industry association"},
	"government_agency":  {"government agency", "ministry"},
	"startup":            {"startup", "technology startup"},
	"software_company":   {"software company", "software developer"},
	"hotel":              {"hotel", "resort"},
	"restaurant":         {"restaurant"},
}

// synonyms returns at most maxSynonyms phrases for an entity tag.
// Unknown tags are humanized.
func synonyms(tag string) []string {
	if s, ok := entitySynonyms[strings.ToLower(tag)]; ok {
		if len(s) > maxSynonyms {
			return s[:maxSynonyms]
		}
		return s
	}
	return []string{strings.ReplaceAll(strings.ToLower(tag), "_", " ")}
}

func render(pattern string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return collapseSpaces(strings.NewReplacer(pairs...).Replace(pattern))
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

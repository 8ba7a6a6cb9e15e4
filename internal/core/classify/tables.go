package classify

import (
	"regexp"

	"discovery/internal/core/model"
)

// labelPatterns is one label and its indicator patterns, matched against lower-cased content
type labelPatterns struct {
	label    string
	patterns []*regexp.Regexp
}

func compile(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(e)
	}
	return out
}

// Ordered: on equal scores the earlier label wins.
var pageTypeTable = []labelPatterns{
	{string(model.PageDirectory), compile(
		`\bdirectory\b`,
		`\bmembers? (list|directory)\b|\bmember companies\b`,
		`\blistings?\b`,
		`\bbrowse (by|all)\b|\bsearch (companies|members|suppliers)\b`,
		`\b(companies|businesses|suppliers) in\b|\blist of (companies|members|suppliers|businesses)\b`,
		`\bcategor(y|ies)\b`,
	)},
	{string(model.PageGovRegistry), compile(
		`\bministry\b|\bgovernment\b`,
		`\bregistry\b|\bregister of\b`,
		`\bbusiness registration\b|\bregistration (number|no\.?)\b|\blicen[cs]e number\b`,
		`\bofficial (portal|website)\b|\bpublic sector\b`,
	)},
	{string(model.PageAssociation), compile(
		`\bassociation\b`,
		`\bfederation\b|\bchamber of commerce\b|\bcouncil\b`,
		`\bmembership\b|\bbecome a member\b|\bjoin (us|now)\b`,
		`\bmembers? benefits\b|\bannual general meeting\b`,
	)},
	{string(model.PageNews), compile(
		`\bnews\b`,
		`\bpublished (on|at)\b|\bposted (on|by)\b`,
		`<article\b`,
		`\bbreaking\b|\blatest (news|stories|articles)\b`,
		`\bread more\b`,
	)},
	{string(model.PageMarketplace), compile(
		`\badd to cart\b|\bbuy now\b`,
		`\bprices?\b`,
		`\bsellers?\b|\bvendors?\b`,
		`\bshop\b|\bstore\b`,
		`\bcheckout\b|\bshipping cost\b`,
	)},
	{string(model.PageCompanyHomepage), compile(
		`\babout us\b`,
		`\bour (services|products|team|mission|company)\b`,
		`\bcontact us\b`,
		`\b(get|request) a quote\b`,
		`©|&copy;|\bcopyright\b`,
	)},
}

var entityTypeTable = []labelPatterns{
	{"freight_forwarder", compile(
		`\bfreight forward`,
		`\bcustoms (clearance|broker)`,
		`\b(sea|air|ocean) freight\b`,
		`\bfcl\b|\blcl\b`,
		`giao nhận`,
	)},
	{"logistics_provider", compile(
		`\blogistics?\b`,
		`\bwarehous(e|ing)\b`,
		`\bsupply chain\b`,
		`\b3pl\b|\bthird[- ]party logistics\b`,
		`\btrucking\b|\btransport(ation)? services\b`,
	)},
	{"manufacturer", compile(
		`\bmanufactur(er|ers|ing|es)\b`,
		`\bfactor(y|ies)\b`,
		`\boem\b|\bodm\b`,
		`\bproduction (line|capacity)\b`,
		`\biso 9001\b`,
	)},
	{"exporter", compile(
		`\bexport(er|ers|ing)?\b`,
		`\bfob\b|\bcif\b|\bincoterms\b`,
		`\binternational trade\b`,
	)},
	{"importer", compile(
		`\bimport(er|ers|ing)?\b`,
		`\bimport licen[cs]e\b`,
	)},
	{"distributor", compile(
		`\bdistributors?\b|\bdistribution\b`,
		`\bauthori[sz]ed dealers?\b|\bdealers?\b`,
	)},
	{"supplier", compile(
		`\bsuppliers?\b`,
		`\bwholesale\b`,
		`\bbulk orders?\b|\bmoq\b|\bminimum order\b`,
	)},
	{"retailer", compile(
		`\bretail(er|ers)?\b`,
		`\bstore locator\b|\bour stores\b`,
	)},
	{"association", compile(
		`\bassociation\b`,
		`\bchamber of commerce\b|\bfederation\b`,
		`\bmembership\b`,
	)},
	{"government_agency", compile(
		`\bministry\b`,
		`\bgovernment\b`,
		`\bdepartment of\b`,
	)},
	{"software_company", compile(
		`\bsoftware\b`,
		`\bsaas\b|\bcloud platform\b`,
		`\bapi\b|\bdevelopers?\b`,
	)},
	{"hotel", compile(
		`\bhotels?\b|\bresorts?\b`,
		`\bbook (a|your) (room|stay)\b|\bcheck-in\b`,
	)},
	{"restaurant", compile(
		`\brestaurants?\b`,
		`\bmenu\b|\breservations?\b`,
	)},
}

// countryIndicator pairs a host suffix with the names, cities and dialling
// prefixes scanned over page text. The suffix is never matched against content.
type countryIndicator struct {
	code string
	tld  *regexp.Regexp
	text []*regexp.Regexp
}

var countryPatterns = []countryIndicator{
	{"VN", regexp.MustCompile(`\.vn$`), compile(`viet ?nam`, `\bha ?noi\b|\bho chi minh\b|\bsaigon\b|\bda nang\b|\bhai phong\b`, `\+84\b`)},
	{"TH", regexp.MustCompile(`\.th$`), compile(`\bthailand\b`, `\bbangkok\b|\bchiang mai\b|\bphuket\b`, `\+66\b`)},
	{"ID", regexp.MustCompile(`\.(co|or|go|ac)\.id$`), compile(`\bindonesia\b`, `\bjakarta\b|\bsurabaya\b|\bbandung\b`, `\+62\b`)},
	{"MY", regexp.MustCompile(`\.my$`), compile(`\bmalaysia\b`, `\bkuala lumpur\b|\bpenang\b|\bjohor\b`, `\+60\b`)},
	{"SG", regexp.MustCompile(`\.sg$`), compile(`\bsingapore\b`, `\+65\b`)},
	{"PH", regexp.MustCompile(`\.ph$`), compile(`\bphilippines\b`, `\bmanila\b|\bcebu\b`, `\+63\b`)},
	{"JP", regexp.MustCompile(`\.jp$`), compile(`\bjapan\b`, `\btokyo\b|\bosaka\b|\byokohama\b`, `\+81\b`)},
	{"KR", regexp.MustCompile(`\.kr$`), compile(`\bkorea\b`, `\bseoul\b|\bbusan\b|\bincheon\b`, `\+82\b`)},
	{"CN", regexp.MustCompile(`\.cn$`), compile(`\bchina\b`, `\bshanghai\b|\bbeijing\b|\bshenzhen\b|\bguangzhou\b`, `\+86\b`)},
	{"IN", regexp.MustCompile(`\.(co|org|gov)\.in$`), compile(`\bindia\b`, `\bmumbai\b|\bnew delhi\b|\bbangalore\b|\bchennai\b`, `\+91\b`)},
	{"DE", regexp.MustCompile(`\.de$`), compile(`\bgermany\b|\bdeutschland\b`, `\bberlin\b|\bhamburg\b|\bmunich\b|\bfrankfurt\b`, `\+49\b`)},
	{"FR", regexp.MustCompile(`\.fr$`), compile(`\bfrance\b`, `\bparis\b|\blyon\b|\bmarseille\b`, `\+33\b`)},
	{"GB", regexp.MustCompile(`\.uk$`), compile(`\bunited kingdom\b|\bengland\b`, `\blondon\b|\bmanchester\b|\bbirmingham\b`, `\+44\b`)},
	{"US", nil, compile(`\bunited states\b|\busa\b`, `\bnew york\b|\bcalifornia\b|\btexas\b`, `\+1[ -]\d{3}\b`)},
	{"CA", regexp.MustCompile(`\.ca$`), compile(`\bcanada\b`, `\btoronto\b|\bvancouver\b|\bmontreal\b`)},
	{"AU", regexp.MustCompile(`\.au$`), compile(`\baustralia\b`, `\bsydney\b|\bmelbourne\b|\bbrisbane\b`, `\+61\b`)},
	{"BR", regexp.MustCompile(`\.br$`), compile(`\bbrazil\b|\bbrasil\b`, `\bs(a|ã)o paulo\b|\brio de janeiro\b`, `\+55\b`)},
	{"MX", regexp.MustCompile(`\.mx$`), compile(`\bmexico\b|\bméxico`, `\bguadalajara\b|\bmonterrey\b`, `\+52\b`)},
	{"ES", regexp.MustCompile(`\.es$`), compile(`\bspain\b|\bespaña`, `\bmadrid\b|\bbarcelona\b|\bvalencia\b`, `\+34\b`)},
	{"IT", regexp.MustCompile(`\.it$`), compile(`\bitaly\b|\bitalia\b`, `\brome\b|\bmilan\b|\bmilano\b`, `\+39\b`)},
	{"NL", regexp.MustCompile(`\.nl$`), compile(`\bnetherlands\b|\bnederland\b`, `\bamsterdam\b|\brotterdam\b`, `\+31\b`)},
}

// languageIndicator detects one non-English language. Script patterns are
// decisive on a single match, word indicators need minWordHits distinct hits.
type languageIndicator struct {
	code   string
	script *regexp.Regexp
	words  []string
}

const minWordHits = 2

var languageTable = []languageIndicator{
	{code: "vi", script: regexp.MustCompile(`[ơưđ]`), words: []string{"công ty", "của", "và", "những", "được", "trong", "liên hệ"}},
	{code: "th", script: regexp.MustCompile(`[\x{0E00}-\x{0E7F}]`)},
	{code: "ja", script: regexp.MustCompile(`[\x{3040}-\x{30FF}]`)},
	{code: "zh", script: regexp.MustCompile(`[\x{4E00}-\x{9FFF}]`)},
	{code: "ko", script: regexp.MustCompile(`[\x{AC00}-\x{D7AF}]`)},
	{code: "de", words: []string{"und", "der", "die", "das", "mit", "für", "unternehmen", "impressum"}},
	{code: "fr", words: []string{"et", "les", "des", "pour", "avec", "entreprise", "société"}},
	{code: "es", words: []string{"y", "los", "las", "para", "con", "empresa", "contacto"}},
	{code: "id", words: []string{"dan", "yang", "untuk", "dengan", "perusahaan", "hubungi kami"}},
}

var (
	contactAnchor = anchorPattern(`contact|liên hệ|kontakt|contacto|hubungi kami|ติดต่อ|お問い合わせ|联系我们`)
	aboutAnchor   = anchorPattern(`about|giới thiệu|über uns|à propos|a propos|quiénes somos|sobre nosotros|tentang kami|会社概要|关于我们`)
	memberAnchor  = anchorPattern(`members|member list|member directory|membership directory|thành viên|mitglieder|membres|miembros|anggota`)
	memberClass   = regexp.MustCompile(`class=["'][^"']*\bmembers?[-_](list|directory|grid)`)

	sitemapLinkTag = regexp.MustCompile(`<link\b[^>]*rel=["']sitemap["'][^>]*>`)
	sitemapHref    = regexp.MustCompile(`href=["']([^"']*sitemap[^"']*\.xml[^"']*)["']`)
	feedLinkTag    = regexp.MustCompile(`<link\b[^>]*type=["']application/(?:rss|atom)\+xml["'][^>]*>`)
	feedHref       = regexp.MustCompile(`href=["']([^"']*(?:/feed/?|/rss/?|\.rss|rss\.xml|atom\.xml|/atom/?))["']`)
	listPageHref   = regexp.MustCompile(`href=["']([^"']*(?:/directory|/members|/member-list|/listings?|/companies|/catalog|/categor(?:y|ies)|[?&]page=\d+|/page/\d+)[^"']*)["']`)
	hrefAttr       = regexp.MustCompile(`href=["']([^"']+)["']`)
	anchorHref     = regexp.MustCompile(`<a\b[^>]*href=["']([^"'#][^"']*)["']`)
	formTag        = regexp.MustCompile(`<form\b`)
	paginationSign = regexp.MustCompile(`rel=["']next["']|class=["'][^"']*\bpagination\b|[?&]page=\d+|/page/\d+|>\s*(next|older posts)\s*(&raquo;|»|›)?\s*<`)
	schemaJSONType = regexp.MustCompile(`"@type"\s*:\s*"([^"]+)"`)
	schemaItemType = regexp.MustCompile(`itemtype=["']https?://schema\.org/([a-z]+)`)
	htmlLangAttr   = regexp.MustCompile(`<html\b[^>]*\blang=["']([a-z]{2})`)
	scriptBlock    = regexp.MustCompile(`(?s)<script\b.*?</script>|<style\b.*?</style>`)
	tagPattern     = regexp.MustCompile(`<[^>]*>`)
)

// anchorPattern matches an <a> element whose visible text starts with one of
// the phrases, allowing a few inline wrapper tags around the text.
func anchorPattern(phrases string) *regexp.Regexp {
	return regexp.MustCompile(`<a\b[^>]*>(?:\s*<(?:span|strong|b|em|i|div)\b[^>]*>)*\s*[^<]{0,40}?(?:` + phrases + `)`)
}

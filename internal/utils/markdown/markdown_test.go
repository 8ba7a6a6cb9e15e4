package markdown

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestConvertStripsChrome(t *testing.T) {
	html := `<html><body><nav>Home | About</nav><div class="cookie-banner">We use cookies</div>
<main><h1>Member directory</h1><p>All freight forwarders.</p></main></body></html>`
	out := ConvertHTMLToMarkdown(html)
	assert.Contains(t, out, "# Member directory")
	assert.Contains(t, out, "All freight forwarders.")
	assert.NotContains(t, out, "cookies")
	assert.NotContains(t, out, "Home | About")
}

func TestSampleIncludesTitleAndDescription(t *testing.T) {
	html := `<html><head><title>Domain For Sale</title><meta name="description" content="Buy this domain today"></head>
<body><div class="modal">x</div></body></html>`
	out := Sample(html, 1000)
	assert.True(t, strings.HasPrefix(out, "Domain For Sale"))
	assert.Contains(t, out, "Buy this domain today")
}

func TestSampleFallsBackToText(t *testing.T) {
	out := Sample(`<html><body><div class="sidebar">only sidebar text</div></body></html>`, 1000)
	assert.Equal(t, "only sidebar text", out)
}

func TestSampleRespectsLimitOnRuneBoundary(t *testing.T) {
	out := Sample("<p>"+strings.Repeat("công ty ", 200)+"</p>", 101)
	assert.LessOrEqual(t, len(out), 101)
	assert.True(t, utf8.ValidString(out))
}

func TestCleanMarkdownBoilerplate(t *testing.T) {
	in := "![logo](https://x.example/logo.png)\n\n\n\ntext\x07 here\u200b\n"
	assert.Equal(t, "text here", CleanMarkdownBoilerplate(in))
}

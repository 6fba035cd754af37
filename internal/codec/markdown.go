package codec

import (
	"fmt"
	"html"
	"regexp"
	"strings"
)

// Markdown is the bundled markdown <-> Confluence storage-format codec.
type Markdown struct{}

// NewMarkdown creates the bundled codec.
func NewMarkdown() *Markdown {
	return &Markdown{}
}

// ConvertToRemote implements Codec.ConvertToRemote.
func (m *Markdown) ConvertToRemote(content string) (string, error) {
	lines := strings.Split(content, "\n")
	var out []string

	inCode := false
	var codeLang string
	var codeLines []string
	inList := false

	closeList := func() {
		if inList {
			out = append(out, "</ul>")
			inList = false
		}
	}

	for _, line := range lines {
		if strings.HasPrefix(line, "```") {
			if !inCode {
				closeList()
				inCode = true
				codeLang = strings.TrimSpace(strings.TrimPrefix(line, "```"))
				codeLines = nil
			} else {
				out = append(out, codeMacro(codeLang, strings.Join(codeLines, "\n")))
				inCode = false
			}
			continue
		}
		if inCode {
			codeLines = append(codeLines, line)
			continue
		}

		switch {
		case strings.HasPrefix(line, "### "):
			closeList()
			out = append(out, fmt.Sprintf("<h3>%s</h3>", escapeInline(line[4:])))
		case strings.HasPrefix(line, "## "):
			closeList()
			out = append(out, fmt.Sprintf("<h2>%s</h2>", escapeInline(line[3:])))
		case strings.HasPrefix(line, "# "):
			closeList()
			out = append(out, fmt.Sprintf("<h1>%s</h1>", escapeInline(line[2:])))
		case strings.HasPrefix(line, "- ") || strings.HasPrefix(line, "* "):
			if !inList {
				out = append(out, "<ul>")
				inList = true
			}
			out = append(out, fmt.Sprintf("<li>%s</li>", escapeInline(line[2:])))
		case strings.TrimSpace(line) == "":
			closeList()
		default:
			closeList()
			out = append(out, fmt.Sprintf("<p>%s</p>", escapeInline(line)))
		}
	}
	if inCode {
		// Unterminated fence: flush what we have rather than drop it.
		out = append(out, codeMacro(codeLang, strings.Join(codeLines, "\n")))
	}
	closeList()

	return strings.Join(out, "\n"), nil
}

func codeMacro(lang, body string) string {
	var b strings.Builder
	b.WriteString(`<ac:structured-macro ac:name="code">`)
	if lang != "" {
		fmt.Fprintf(&b, `<ac:parameter ac:name="language">%s</ac:parameter>`, html.EscapeString(lang))
	}
	fmt.Fprintf(&b, `<ac:plain-text-body><![CDATA[%s]]></ac:plain-text-body>`, body)
	b.WriteString(`</ac:structured-macro>`)
	return b.String()
}

func escapeInline(s string) string {
	return html.EscapeString(s)
}

var (
	headingRe   = regexp.MustCompile(`<h([1-3])>(.*?)</h[1-3]>`)
	paraRe      = regexp.MustCompile(`<p>(.*?)</p>`)
	listItemRe  = regexp.MustCompile(`<li>(.*?)</li>`)
	codeMacroRe = regexp.MustCompile(`(?s)<ac:structured-macro ac:name="code">(?:<ac:parameter ac:name="language">(.*?)</ac:parameter>)?<ac:plain-text-body><!\[CDATA\[(.*?)\]\]></ac:plain-text-body></ac:structured-macro>`)
	tagRe       = regexp.MustCompile(`</?(?:ul|ol)>`)
)

// ConvertToLocal implements Codec.ConvertToLocal.
func (m *Markdown) ConvertToLocal(content string) (string, error) {
	s := content

	s = codeMacroRe.ReplaceAllStringFunc(s, func(match string) string {
		groups := codeMacroRe.FindStringSubmatch(match)
		lang, body := groups[1], groups[2]
		return fmt.Sprintf("```%s\n%s\n```", html.UnescapeString(lang), body)
	})

	s = headingRe.ReplaceAllStringFunc(s, func(match string) string {
		groups := headingRe.FindStringSubmatch(match)
		level := int(groups[1][0] - '0')
		return strings.Repeat("#", level) + " " + html.UnescapeString(groups[2])
	})

	s = listItemRe.ReplaceAllStringFunc(s, func(match string) string {
		groups := listItemRe.FindStringSubmatch(match)
		return "- " + html.UnescapeString(groups[1])
	})

	s = paraRe.ReplaceAllStringFunc(s, func(match string) string {
		groups := paraRe.FindStringSubmatch(match)
		return html.UnescapeString(groups[1])
	})

	s = tagRe.ReplaceAllString(s, "")

	// Collapse the blank lines left behind by stripped list wrappers.
	var out []string
	blank := false
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) == "" {
			if blank {
				continue
			}
			blank = true
			out = append(out, "")
			continue
		}
		blank = false
		out = append(out, line)
	}
	result := strings.Join(out, "\n")
	result = strings.Trim(result, "\n")
	if result != "" {
		result += "\n"
	}
	return result, nil
}

// Passthrough is a no-op codec for backends that store markdown natively.
type Passthrough struct{}

// NewPassthrough creates a codec that returns content unchanged.
func NewPassthrough() *Passthrough {
	return &Passthrough{}
}

// ConvertToRemote implements Codec.ConvertToRemote.
func (p *Passthrough) ConvertToRemote(content string) (string, error) {
	return content, nil
}

// ConvertToLocal implements Codec.ConvertToLocal.
func (p *Passthrough) ConvertToLocal(content string) (string, error) {
	return content, nil
}

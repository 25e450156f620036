package scraper

import (
	"errors"
	"io"
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// HTMLToText renders an HTML document as compact text. Script, style and
// similar elements are dropped, block elements become line breaks and links
// are written as [text](href) with href resolved against base so extracted
// listings keep their detail URLs.
func HTMLToText(r io.Reader, base *url.URL) (string, error) {
	z := html.NewTokenizer(r)
	var (
		b        strings.Builder
		skip     int
		href     string
		linkText strings.Builder
		inLink   bool
	)

	write := func(s string) {
		if inLink {
			linkText.WriteString(s)
			return
		}
		b.WriteString(s)
	}

	for {
		switch z.Next() {
		case html.ErrorToken:
			if err := z.Err(); !errors.Is(err, io.EOF) {
				return "", err
			}
			return collapse(b.String()), nil

		case html.TextToken:
			if skip > 0 {
				continue
			}
			write(string(z.Text()))
			write(" ")

		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			a := atom.Lookup(name)
			switch {
			case ignored(a):
				skip++
			case a == atom.A:
				href = ""
				for hasAttr {
					var k, v []byte
					k, v, hasAttr = z.TagAttr()
					if string(k) == "href" {
						href = resolve(base, string(v))
					}
				}
				inLink = true
				linkText.Reset()
			case a == atom.Br:
				write("\n")
			case block(a):
				write("\n")
			}

		case html.EndTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			switch {
			case ignored(a):
				if skip > 0 {
					skip--
				}
			case a == atom.A && inLink:
				inLink = false
				text := strings.Join(strings.Fields(linkText.String()), " ")
				switch {
				case href != "" && text != "":
					b.WriteString("[" + text + "](" + href + ") ")
				case text != "":
					b.WriteString(text + " ")
				}
			case block(a):
				write("\n")
			}
		}
	}
}

func ignored(a atom.Atom) bool {
	switch a {
	case atom.Script, atom.Style, atom.Noscript, atom.Template, atom.Svg, atom.Head, atom.Iframe:
		return true
	}
	return false
}

func block(a atom.Atom) bool {
	switch a {
	case atom.P, atom.Div, atom.Li, atom.Ul, atom.Ol, atom.Section, atom.Article,
		atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6, atom.Tr, atom.Table,
		atom.Header, atom.Footer, atom.Main:
		return true
	}
	return false
}

func resolve(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "#") || strings.HasPrefix(strings.ToLower(ref), "javascript:") {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	return u.String()
}

// collapse squeezes runs of spaces and blank lines.
func collapse(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		l = strings.Join(strings.Fields(l), " ")
		if l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}

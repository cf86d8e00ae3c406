package bridge

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"golang.org/x/net/html"
)

var markdown = goldmark.New(
	goldmark.WithExtensions(extension.Strikethrough),
)

// inlineTags maps HTML tags to the Telegram tag they render as. Telegram's
// Bot API accepts only a small subset: b, i, u, s, code, pre, a,
// blockquote, tg-spoiler. Everything else is mapped here or stripped.
var inlineTags = map[string]string{
	"b": "b", "strong": "b",
	"i": "i", "em": "i",
	"u": "u", "ins": "u",
	"s": "s", "strike": "s", "del": "s",
	"blockquote": "blockquote",
}

// renderHTML converts engine markdown into Telegram-safe HTML. Frames that
// fail to convert fall back to escaped plain text rather than an unsent
// message.
func renderHTML(md string) string {
	if strings.TrimSpace(md) == "" {
		return md
	}
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(md), &buf); err != nil {
		return html.EscapeString(md)
	}
	return sanitizeHTML(buf.String())
}

// sanitizeHTML re-tokenizes goldmark's output and keeps only what Telegram
// renders, flattening block structure into newlines and list markers.
func sanitizeHTML(src string) string {
	z := html.NewTokenizer(strings.NewReader(src))

	var sb strings.Builder
	type list struct {
		ordered bool
		item    int
	}
	var lists []list
	inPre := false

	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		tok := z.Token()

		switch tt {
		case html.TextToken:
			// The tokenizer hands back unescaped text; re-escape for the wire.
			sb.WriteString(html.EscapeString(tok.Data))

		case html.StartTagToken, html.SelfClosingTagToken:
			switch tag := tok.Data; {
			case inlineTags[tag] != "":
				sb.WriteString("<" + inlineTags[tag] + ">")
			case tag == "code":
				if !inPre {
					sb.WriteString("<code>")
				}
			case tag == "pre":
				inPre = true
				sb.WriteString("<pre>")
			case tag == "a":
				if href := attr(tok.Attr, "href"); href != "" {
					fmt.Fprintf(&sb, `<a href="%s">`, html.EscapeString(href))
				} else {
					sb.WriteString("<a>")
				}
			case tag == "br":
				sb.WriteString("\n")
			case tag == "ul":
				lists = append(lists, list{})
			case tag == "ol":
				lists = append(lists, list{ordered: true})
			case tag == "li":
				if n := len(lists); n > 0 && lists[n-1].ordered {
					lists[n-1].item++
					fmt.Fprintf(&sb, "\n%d. ", lists[n-1].item)
				} else {
					sb.WriteString("\n• ")
				}
			case tag == "h1", tag == "h2", tag == "h3", tag == "h4", tag == "h5", tag == "h6":
				sb.WriteString("<b>")
			case tag == "hr":
				sb.WriteString("\n──────────\n")
			}

		case html.EndTagToken:
			switch tag := tok.Data; {
			case inlineTags[tag] != "":
				sb.WriteString("</" + inlineTags[tag] + ">")
			case tag == "code":
				if !inPre {
					sb.WriteString("</code>")
				}
			case tag == "pre":
				inPre = false
				sb.WriteString("</pre>")
			case tag == "a":
				sb.WriteString("</a>")
			case tag == "p":
				sb.WriteString("\n\n")
			case tag == "ul", tag == "ol":
				if len(lists) > 0 {
					lists = lists[:len(lists)-1]
				}
				sb.WriteString("\n")
			case tag == "h1", tag == "h2", tag == "h3", tag == "h4", tag == "h5", tag == "h6":
				sb.WriteString("</b>\n\n")
			}
		}
	}

	out := strings.TrimSpace(sb.String())
	for strings.Contains(out, "\n\n\n") {
		out = strings.ReplaceAll(out, "\n\n\n", "\n\n")
	}
	return out
}

func attr(attrs []html.Attribute, name string) string {
	for _, a := range attrs {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package richtext converts content-store rich text into payloads the chat
// transport can carry: limited HTML plus an optional media URL.
package richtext

import (
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// Payload is displayable content ready for the transport: sanitized HTML
// text and at most one media reference.
type Payload struct {
	Text          string
	ImageURL      string
	VideoURL      string
	AttachmentURL string
}

// IsEmpty reports whether the payload carries nothing to show.
func (p Payload) IsEmpty() bool {
	return p.Text == "" && p.ImageURL == "" && p.VideoURL == ""
}

// mediaPattern matches a Markdown image/video embed with a known extension.
var mediaPattern = regexp.MustCompile(`(?i)!\[[^\]]*]\((\S+?\.(?:png|jpg|jpeg|gif|mp4|mov))\)`)

var imageExtensions = []string{".png", ".jpg", ".jpeg", ".gif"}

// md renders the Markdown subset used by content editors.
var md = goldmark.New(
	goldmark.WithExtensions(extension.Strikethrough, extension.Linkify),
	goldmark.WithRendererOptions(html.WithHardWraps()),
)

// policy keeps only the inline tags the chat transport accepts.
var policy = func() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("b", "strong", "i", "em", "u", "s", "del", "code", "pre")
	p.AllowAttrs("href").OnElements("a")
	p.AllowStandardURLs()
	return p
}()

// Prepare turns raw row content into a transport payload. A leading media
// embed becomes the payload's image or video URL and is removed from the
// text; the remainder is rendered from Markdown and sanitized down to the
// transport-safe HTML subset.
func Prepare(content string) Payload {
	if content == "" {
		return Payload{}
	}

	payload := Payload{}

	if m := mediaPattern.FindStringSubmatch(content); m != nil {
		url := m[1]
		if isImageURL(url) {
			payload.ImageURL = url
		} else {
			payload.VideoURL = url
		}
		content = strings.TrimSpace(strings.Replace(content, m[0], "", 1))
	}

	payload.Text = Sanitize(renderMarkdown(content))
	return payload
}

// Sanitize strips HTML down to the transport-safe inline subset.
func Sanitize(htmlContent string) string {
	sanitized := policy.Sanitize(htmlContent)
	// Block elements are dropped by the policy but their boundaries must
	// survive as line breaks for readability.
	sanitized = strings.ReplaceAll(sanitized, "\n\n\n", "\n\n")
	return strings.Trim(sanitized, "\n ")
}

// renderMarkdown converts Markdown to HTML, flattening block structure to
// newline-separated text. Content that already looks like HTML is passed
// through untouched.
func renderMarkdown(content string) string {
	if looksLikeHTML(content) {
		return content
	}

	var sb strings.Builder
	if err := md.Convert([]byte(content), &sb); err != nil {
		return content
	}

	out := sb.String()
	// Paragraph and heading boundaries become blank lines; headings keep
	// their emphasis as bold.
	for _, h := range []string{"h1", "h2", "h3", "h4", "h5", "h6"} {
		out = strings.ReplaceAll(out, "<"+h+">", "<b>")
		out = strings.ReplaceAll(out, "</"+h+">", "</b>\n")
	}
	out = strings.ReplaceAll(out, "<p>", "")
	out = strings.ReplaceAll(out, "</p>", "\n")
	out = strings.ReplaceAll(out, "<br>", "\n")
	out = strings.ReplaceAll(out, "<br/>", "\n")
	out = strings.ReplaceAll(out, "<li>", "• ")
	out = strings.ReplaceAll(out, "</li>", "\n")
	for _, tag := range []string{"<ul>", "</ul>", "<ol>", "</ol>", "<blockquote>", "</blockquote>"} {
		out = strings.ReplaceAll(out, tag, "")
	}
	return out
}

func looksLikeHTML(content string) bool {
	trimmed := strings.TrimSpace(content)
	return strings.HasPrefix(trimmed, "<") && strings.Contains(trimmed, ">")
}

func isImageURL(url string) bool {
	lower := strings.ToLower(url)
	for _, ext := range imageExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

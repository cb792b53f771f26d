package recon

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/tidwall/gjson"
)

var idFieldPattern = regexp.MustCompile(`(?i)^(id|.*_id|.*Id)$`)

// bodySummary condenses a response or request body for tool output: JSON
// objects report their key shape and id-like fields, HTML reports forms and
// CSRF evidence, everything else is excerpted raw.
func bodySummary(body, contentType string) string {
	body = strings.TrimSpace(body)
	if body == "" {
		return "empty"
	}
	switch {
	case strings.Contains(contentType, "json") || looksLikeJSON(body):
		return jsonSummary(body)
	case strings.Contains(contentType, "html") || strings.HasPrefix(body, "<"):
		return htmlSummary(body)
	}
	return textExcerpt(body, 160)
}

func looksLikeJSON(body string) bool {
	return strings.HasPrefix(body, "{") || strings.HasPrefix(body, "[")
}

func jsonSummary(body string) string {
	parsed := gjson.Parse(body)
	switch {
	case parsed.IsArray():
		items := parsed.Array()
		if len(items) == 0 {
			return "json array, empty"
		}
		return fmt.Sprintf("json array of %d items, first: %s", len(items), objectShape(items[0]))
	case parsed.IsObject():
		return objectShape(parsed)
	}
	return textExcerpt(body, 160)
}

func objectShape(obj gjson.Result) string {
	var keys, idFields []string
	obj.ForEach(func(key, value gjson.Result) bool {
		keys = append(keys, key.String())
		if idFieldPattern.MatchString(key.String()) && value.Type == gjson.Number {
			idFields = append(idFields, fmt.Sprintf("%s=%s", key.String(), value.Raw))
		}
		return true
	})
	shape := "keys: " + strings.Join(keys, ", ")
	if len(idFields) > 0 {
		shape += " | numeric id fields: " + strings.Join(idFields, ", ")
	}
	return shape
}

// htmlSummary inventories the page for login surfaces: title, forms with
// their inputs, and hidden token fields (CSRF candidates).
func htmlSummary(body string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return textExcerpt(body, 160)
	}

	var parts []string
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		parts = append(parts, "title: "+title)
	}

	doc.Find("form").Each(func(_ int, form *goquery.Selection) {
		action := form.AttrOr("action", "")
		method := strings.ToUpper(form.AttrOr("method", "GET"))
		var inputs, hidden []string
		form.Find("input").Each(func(_ int, input *goquery.Selection) {
			name := input.AttrOr("name", "")
			if name == "" {
				return
			}
			if input.AttrOr("type", "") == "hidden" {
				hidden = append(hidden, name)
				return
			}
			inputs = append(inputs, name)
		})
		desc := fmt.Sprintf("form %s %s inputs=[%s]", method, action, strings.Join(inputs, ", "))
		if len(hidden) > 0 {
			desc += fmt.Sprintf(" hidden=[%s] (csrf candidates)", strings.Join(hidden, ", "))
		}
		parts = append(parts, desc)
	})

	if len(parts) == 0 {
		return "html page, no forms"
	}
	return strings.Join(parts, "; ")
}

func textExcerpt(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

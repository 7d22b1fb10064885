package research

import (
	"regexp"
	"strings"
)

var hrefPattern = regexp.MustCompile(`href="(.*?)"`)

// sourceURLs returns the unique href targets of the context bundles in the
// order they first appear.
func sourceURLs(bundles []string) []string {
	seen := make(map[string]bool)
	var urls []string
	for _, b := range bundles {
		for _, m := range hrefPattern.FindAllStringSubmatch(b, -1) {
			u := m[1]
			if u == "" || seen[u] {
				continue
			}
			seen[u] = true
			urls = append(urls, u)
		}
	}
	return urls
}

// withRawSources appends the retrieved source URLs to a section.
func withRawSources(section string, bundles []string) string {
	urls := sourceURLs(bundles)
	if len(urls) == 0 {
		return section
	}

	var b strings.Builder
	b.WriteString(section)
	b.WriteString("\n\n### Raw Sources\n")
	for i, u := range urls {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("- ")
		b.WriteString(u)
	}
	return b.String()
}

const sourcesHeader = "## Sources"

// splitSources separates a trailing "## Sources" block from a report body.
func splitSources(body string) (content, sources string) {
	if i := strings.Index(body, "\n"+sourcesHeader+"\n"); i >= 0 {
		return body[:i], strings.TrimSpace(body[i+len(sourcesHeader)+2:])
	}
	if i := strings.Index(body, sourcesHeader); i >= 0 {
		return strings.TrimSpace(body[:i]), strings.TrimSpace(body[i+len(sourcesHeader):])
	}
	return body, ""
}

// assembleReport builds the final report from its three parts.
func assembleReport(introduction, body, conclusion string) string {
	body = strings.TrimSpace(strings.ReplaceAll(body, "## Insights", ""))
	content, sources := splitSources(body)

	report := introduction + "\n\n---\n\n## Insights\n" + content + "\n\n---\n\n" + conclusion
	if sources != "" {
		report += "\n\n" + sourcesHeader + "\n" + sources
	}
	return report
}

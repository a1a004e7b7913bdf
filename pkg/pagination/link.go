package pagination

import (
	"strings"

	"github.com/tomnomnom/linkheader"
)

// NextLink returns the target of the rel="next" relation in RFC 8288 Link
// header values. Relation types are matched case-insensitively and a rel
// parameter may list several types.
func NextLink(values []string) (string, bool) {
	for _, link := range linkheader.ParseMultiple(values) {
		for _, rel := range strings.Fields(link.Rel) {
			if strings.EqualFold(rel, "next") {
				return link.URL, true
			}
		}
	}
	return "", false
}

package devbackend

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/thrive/vitalsync/internal/platform/api"
)

// fallbackInsight is the canned summary served when no model provider is
// configured.
func fallbackInsight(req api.InsightRequest, now time.Time) api.Insight {
	summary := fmt.Sprintf("%s is %.0f and trending %s. Keep an eye on hydration and activity.",
		titleCase(req.MetricName), req.MetricValue, req.Trend)
	return api.Insight{
		Summary:         summary,
		Recommendations: []string{"Log meals around spikes", "Do a short walk after meals"},
		Actions:         []string{"Start a 10-min breathing session", "Schedule a check-in"},
		CreatedAt:       now.UTC(),
	}
}

// titleCase upper-cases the first letter of every word and lower-cases the
// rest. Any non-letter starts a new word.
func titleCase(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	start := true
	for _, r := range s {
		if unicode.IsLetter(r) {
			if start {
				b.WriteRune(unicode.ToUpper(r))
			} else {
				b.WriteRune(unicode.ToLower(r))
			}
			start = false
			continue
		}
		b.WriteRune(r)
		start = true
	}
	return b.String()
}

func displayName(kind string) string {
	return titleCase(strings.ReplaceAll(kind, "_", " "))
}

package httpapi

import "testing"

func TestShouldCreateHTTPAPISpan(t *testing.T) {
	spanned := []string{
		"httpapi.Handler.GetMatchTimeline",
		"httpapi.Handler.RunIngestJob",
		"httpapi.Handler.RefreshOneAggregate",
	}
	for _, name := range spanned {
		if !shouldCreateHTTPAPISpan(name) {
			t.Fatalf("expected span for %q", name)
		}
	}

	spanless := []string{
		"httpapi.RequestLogging",
		"httpapi.writeError",
		"usecase.TimelineService.MatchTimeline",
	}
	for _, name := range spanless {
		if shouldCreateHTTPAPISpan(name) {
			t.Fatalf("expected no span for %q", name)
		}
	}
}

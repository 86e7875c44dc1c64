package enrich

import "testing"

func TestSelectImageFiltersNonContent(t *testing.T) {
	got := SelectImage([]string{
		"https://cdn.example.com/logo.png",
		"https://tracker.example.com/pixel.gif?id=1",
		"https://cdn.example.com/assets/favicon.ico",
	})
	if got != "" {
		t.Errorf("Only site furniture offered, expected no image, got %q", got)
	}
}

func TestSelectImagePrefersLargePhotos(t *testing.T) {
	got := SelectImage([]string{
		"https://cdn.example.com/thumb-small.gif",
		"https://cdn.example.com/media/story-1200.jpg",
		"https://cdn.example.com/other.png",
	})
	if got != "https://cdn.example.com/media/story-1200.jpg" {
		t.Errorf("Expected the large jpg under /media/, got %q", got)
	}
}

func TestSelectImageSkipsNonHTTPSchemes(t *testing.T) {
	got := SelectImage([]string{
		"data:image/png;base64,AAAA",
		"ftp://example.com/photo.jpg",
	})
	if got != "" {
		t.Errorf("Non-http candidates must be skipped, got %q", got)
	}
}

func TestSelectImageEmptyInput(t *testing.T) {
	if got := SelectImage(nil); got != "" {
		t.Errorf("No candidates must yield no image, got %q", got)
	}
}

package reddit

import (
	"html"
	"strings"

	"subrelay/lib/models"
)

type listing struct {
	Data struct {
		Children []struct {
			Data postData `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type postData struct {
	ID                string  `json:"id"`
	CreatedUTC        float64 `json:"created_utc"`
	Title             string  `json:"title"`
	Permalink         string  `json:"permalink"`
	Author            string  `json:"author"`
	Selftext          string  `json:"selftext"`
	URL               string  `json:"url"`
	RemovedByCategory string  `json:"removed_by_category"`

	GalleryData *struct {
		Items []struct {
			MediaID string `json:"media_id"`
		} `json:"items"`
	} `json:"gallery_data"`
	MediaMetadata map[string]struct {
		S struct {
			U string `json:"u"`
		} `json:"s"`
	} `json:"media_metadata"`
	Preview *struct {
		Images []struct {
			Source struct {
				URL string `json:"url"`
			} `json:"source"`
		} `json:"images"`
	} `json:"preview"`
}

// classify resolves a raw listing entry into a Post with its media kind
// decided once, here, rather than re-inspected at render time.
func classify(raw postData) models.Post {
	post := models.Post{
		ID:        raw.ID,
		CreatedAt: int64(raw.CreatedUTC),
		Title:     raw.Title,
		URL:       publicBase + raw.Permalink,
		Author:    raw.Author,
		Body:      raw.Selftext,
		Removed:   raw.RemovedByCategory != "",
	}
	if post.Author == "[deleted]" {
		post.Author = ""
	}

	switch {
	case len(galleryURLs(raw)) > 0:
		post.Kind = models.KindGallery
		post.MediaURLs = galleryURLs(raw)

	case hasImageExtension(raw.URL):
		post.Kind = models.KindImage
		post.MediaURLs = []string{raw.URL}

	case previewURL(raw) != "":
		post.Kind = models.KindPreview
		post.MediaURLs = []string{previewURL(raw)}

	case strings.TrimSpace(raw.Selftext) != "":
		post.Kind = models.KindText

	default:
		post.Kind = models.KindLink
	}

	return post
}

// galleryURLs returns the gallery images in gallery_data order. Entries
// missing from media_metadata are skipped. URLs in media_metadata are
// HTML-escaped at the source.
func galleryURLs(raw postData) []string {
	if raw.GalleryData == nil {
		return nil
	}

	var urls []string
	for _, item := range raw.GalleryData.Items {
		meta, ok := raw.MediaMetadata[item.MediaID]
		if !ok || meta.S.U == "" {
			continue
		}
		urls = append(urls, html.UnescapeString(meta.S.U))
	}
	return urls
}

func previewURL(raw postData) string {
	if raw.Preview == nil || len(raw.Preview.Images) == 0 {
		return ""
	}
	return html.UnescapeString(raw.Preview.Images[0].Source.URL)
}

func hasImageExtension(rawURL string) bool {
	for _, ext := range []string{".jpg", ".png", ".gif"} {
		if strings.HasSuffix(rawURL, ext) {
			return true
		}
	}
	return false
}

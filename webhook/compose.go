package webhook

import (
	"subrelay/lib/models"
)

const (
	// MaxGalleryImages caps how many gallery images become embeds.
	MaxGalleryImages = 4
	// MaxDescriptionLen is the sink's limit for inline embed text.
	MaxDescriptionLen = 2048

	// AnonymousAuthor is shown when a post's author is gone.
	AnonymousAuthor = "Anonymous"

	embedColor = 0x3498DB
)

// Compose renders one post into its embeds. Pure: same post, label and
// avatar always yield the same sequence.
func Compose(post models.Post, feedLabel, authorAvatar string) []Embed {
	base := Embed{
		Title: post.Title,
		URL:   post.URL,
		Color: embedColor,
		Author: &EmbedAuthor{
			Name:    authorName(post),
			IconURL: authorAvatar,
		},
		Footer: &EmbedFooter{Text: "Subreddit: " + feedLabel},
	}

	switch post.Kind {
	case models.KindGallery:
		urls := post.MediaURLs
		if len(urls) > MaxGalleryImages {
			urls = urls[:MaxGalleryImages]
		}
		embeds := make([]Embed, 0, len(urls))
		for _, u := range urls {
			e := base
			e.Image = &EmbedImage{URL: u}
			embeds = append(embeds, e)
		}
		return embeds

	case models.KindImage, models.KindPreview:
		e := base
		e.Image = &EmbedImage{URL: post.MediaURLs[0]}
		return []Embed{e}

	case models.KindText:
		e := base
		e.Description = truncate(post.Body, MaxDescriptionLen)
		return []Embed{e}

	default:
		return []Embed{base}
	}
}

func authorName(post models.Post) string {
	if post.Author == "" {
		return AnonymousAuthor
	}
	return post.Author
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

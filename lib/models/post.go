package models

// MediaKind classifies a post's content shape. It is resolved once when the
// listing is parsed; downstream rendering switches on it instead of
// re-inspecting raw fields.
type MediaKind int

const (
	// KindLink is the fallback: title and permalink only.
	KindLink MediaKind = iota
	// KindGallery is a multi-image gallery post; MediaURLs holds the images
	// in gallery order.
	KindGallery
	// KindImage is a post whose content URL is itself an image.
	KindImage
	// KindPreview is a post exposing a preview image; MediaURLs holds the
	// first preview source.
	KindPreview
	// KindText is a selftext post with no media.
	KindText
)

// Post is one feed item, consumed transiently per tick. Never persisted.
type Post struct {
	ID        string
	CreatedAt int64 // Unix seconds
	Title     string
	URL       string // full permalink URL
	Author    string // empty when the author is deleted or suspended
	Body      string
	Kind      MediaKind
	MediaURLs []string
	Removed   bool
}

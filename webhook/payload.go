package webhook

// Message is the JSON payload accepted by a Discord-compatible webhook
// endpoint. Username and AvatarURL override the sink's identity per call.
type Message struct {
	Content    string      `json:"content,omitempty"`
	Embeds     []Embed     `json:"embeds,omitempty"`
	Username   string      `json:"username,omitempty"`
	AvatarURL  string      `json:"avatar_url,omitempty"`
	Components []Component `json:"components,omitempty"`
}

type Embed struct {
	Title       string       `json:"title,omitempty"`
	URL         string       `json:"url,omitempty"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color,omitempty"`
	Author      *EmbedAuthor `json:"author,omitempty"`
	Image       *EmbedImage  `json:"image,omitempty"`
	Footer      *EmbedFooter `json:"footer,omitempty"`
}

type EmbedAuthor struct {
	Name    string `json:"name"`
	IconURL string `json:"icon_url,omitempty"`
}

type EmbedImage struct {
	URL string `json:"url"`
}

type EmbedFooter struct {
	Text string `json:"text"`
}

// Component is an action row holding interactive elements.
type Component struct {
	Type       int      `json:"type"`
	Components []Button `json:"components"`
}

type Button struct {
	Type  int    `json:"type"`
	Style int    `json:"style"`
	Label string `json:"label"`
	URL   string `json:"url"`
}

const (
	componentActionRow = 1
	componentButton    = 2
	buttonStyleLink    = 5
)

// LinkButtonRow builds a single action row with one link button.
func LinkButtonRow(label, url string) Component {
	return Component{
		Type: componentActionRow,
		Components: []Button{{
			Type:  componentButton,
			Style: buttonStyleLink,
			Label: label,
			URL:   url,
		}},
	}
}

// Identity is the per-call sink identity override.
type Identity struct {
	Name   string
	Avatar string
}

package context

// Roles used across the context pipeline.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// AttachmentImage is the only attachment kind the assistant understands.
const AttachmentImage = "image"

// Attachment references media that accompanied a user turn. Locator is
// opaque to the pipeline; for images it is a data URI.
type Attachment struct {
	Kind    string `json:"kind"`
	Locator string `json:"locator"`
}

// Turn is one persisted unit of a conversation. Turns are never modified
// after they are appended.
type Turn struct {
	Role        string       `json:"role"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Part is one element of a multi-part message payload.
type Part struct {
	Type     string // "text" or "image_url"
	Text     string
	ImageURL string
}

// Message is a model-agnostic chat message used across the context pipeline.
// When Parts is non-empty it replaces Content.
type Message struct {
	Role    string
	Content string
	Parts   []Part
}

// IsMultipart reports whether the message must be sent as a structured
// multi-part payload.
func (m Message) IsMultipart() bool {
	return len(m.Parts) > 0
}

// SystemTurn returns the system instruction turn for prompt.
func SystemTurn(prompt string) Turn {
	return Turn{Role: RoleSystem, Content: prompt}
}

// CloneTurns returns a deep copy of turns so callers cannot alias cached
// attachment slices.
func CloneTurns(turns []Turn) []Turn {
	out := make([]Turn, len(turns))
	for i, t := range turns {
		out[i] = t
		if len(t.Attachments) > 0 {
			out[i].Attachments = append([]Attachment(nil), t.Attachments...)
		}
	}
	return out
}

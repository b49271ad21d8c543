package dialogue

// Role tags a message in a conversation record.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// DefaultSystemContext is used when the caller supplies no system context.
const DefaultSystemContext = "You are participating in a conversation with one or more other speakers, and you are facilitating the conversation."

// Message is a single role-tagged turn.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Conversation is the fine-tuning record produced from one transcript.
type Conversation struct {
	Messages []Message `json:"messages"`

	speakers []string // not serialized
}

// Line is a parsed "Speaker SPEAKER_<id>: <utterance>" transcript line.
type Line struct {
	SpeakerID string
	Utterance string
}

package model

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Citation struct {
	FolderName    string `json:"folder_name"`
	DocumentTitle string `json:"document_title"`
	Snippet       string `json:"snippet"`
}

type Message struct {
	Role      Role       `json:"role"`
	Content   string     `json:"content"`
	Citations []Citation `json:"citations,omitempty"`
}

// Turn is one user message and the assistant slot answering it.
// Pending is true between the optimistic append and the resolution.
type Turn struct {
	ID        string   `json:"id"`
	User      Message  `json:"user"`
	Assistant *Message `json:"assistant,omitempty"`
	Pending   bool     `json:"pending"`
	Failed    bool     `json:"failed"`
}

// Messages flattens turns into an alternating user/assistant sequence.
func Messages(turns []Turn) []Message {
	out := make([]Message, 0, len(turns)*2)
	for _, t := range turns {
		out = append(out, t.User)
		if t.Assistant != nil {
			out = append(out, *t.Assistant)
		}
	}
	return out
}

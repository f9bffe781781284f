package model

type EventKind int

const (
	// EventConversation fires when messages change in any conversation.
	EventConversation EventKind = iota
	EventStatus
	EventServer
)

func (k EventKind) String() string {
	switch k {
	case EventConversation:
		return "conversation"
	case EventStatus:
		return "status"
	case EventServer:
		return "server"
	}
	return "unknown"
}

// Event tells observers that something in the chat changed. Observers read
// the new state through Chat.Snapshot.
type Event struct {
	Kind           EventKind
	ConversationID string
	RequestID      string

	// Err is set when a submission was rejected or failed outright.
	Err error
}

package models

import "time"

// Message kinds as persisted in the "type" field.
const (
	KindText = "text"
	KindFile = "file"
)

type User struct {
	Username  string
	IP        string
	Port      int
	CreatedAt time.Time
	LastLogin time.Time // zero if the user never logged in
}

// FileInfo describes an attachment carried by a file message or a send_file command.
type FileInfo struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	Path     string `json:"path,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	SHA256   string `json:"sha256,omitempty"`
}

type Message struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	FileInfo  *FileInfo `json:"file_info,omitempty"`
}

type Chatroom struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Creator   string    `json:"creator"`
	CreatedAt time.Time `json:"created_at"`
	Members   []string  `json:"members"`
	Messages  []Message `json:"messages"`
}

// HasMember reports whether user is currently in the room.
func (c *Chatroom) HasMember(user string) bool {
	for _, m := range c.Members {
		if m == user {
			return true
		}
	}
	return false
}

// Summary drops the message bodies.
func (c *Chatroom) Summary() RoomSummary {
	members := make([]string, len(c.Members))
	copy(members, c.Members)
	return RoomSummary{
		ID:           c.ID,
		Name:         c.Name,
		Creator:      c.Creator,
		Members:      members,
		CreatedAt:    c.CreatedAt,
		MessageCount: len(c.Messages),
	}
}

type RoomSummary struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Creator      string    `json:"creator"`
	Members      []string  `json:"members"`
	CreatedAt    time.Time `json:"created_at"`
	MessageCount int       `json:"message_count"`
}

// LedgerEntry is one observed node result.
type LedgerEntry struct {
	Content    string    `json:"content"`
	ObservedAt time.Time `json:"observed_at"`
}

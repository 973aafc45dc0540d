package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"netchat/chaterr"
	"netchat/models"
)

// WireVersion identifies the colon-delimited node encoding implemented here.
// Version 1 has no version marker on the wire; a future version must add one.
const WireVersion = 1

// Sentinel is what a node leaves in its output slot when it has nothing new.
const Sentinel = "done"

var ErrInvalidCommand = &chaterr.Error{Kind: chaterr.KindInvalid, Msg: "invalid command"}

type CommandTag string

const (
	TagSubmitInfo  CommandTag = "submit_info"
	TagPeerConnect CommandTag = "peer_connect"
	TagExit        CommandTag = "exit"
	TagSendChat    CommandTag = "send_chat"
	TagSendFile    CommandTag = "send_file"
)

// Command is a directive for a node process.
type Command struct {
	Tag       CommandTag
	Peer      string // peer_connect
	Recipient string // send_chat, send_file
	Text      string // send_chat
	File      *models.FileInfo
}

func SubmitInfo() Command { return Command{Tag: TagSubmitInfo} }

func PeerConnect(peer string) Command { return Command{Tag: TagPeerConnect, Peer: peer} }

func Exit() Command { return Command{Tag: TagExit} }

func SendChat(recipient, text string) Command {
	return Command{Tag: TagSendChat, Recipient: recipient, Text: text}
}

func SendFile(recipient string, file models.FileInfo) Command {
	return Command{Tag: TagSendFile, Recipient: recipient, File: &file}
}

// Encode renders the command as a single line without the trailing newline.
func (c Command) Encode() (string, error) {
	switch c.Tag {
	case TagSubmitInfo, TagExit:
		return string(c.Tag), nil
	case TagPeerConnect:
		if c.Peer == "" {
			return "", fmt.Errorf("%w: peer_connect without peer", ErrInvalidCommand)
		}
		return joinLine(string(c.Tag), c.Peer), nil
	case TagSendChat:
		if c.Recipient == "" {
			return "", fmt.Errorf("%w: send_chat without recipient", ErrInvalidCommand)
		}
		if strings.ContainsAny(c.Text, "\r\n") {
			return "", fmt.Errorf("%w: chat text must be a single line", ErrInvalidCommand)
		}
		if !splitsBack(c.Recipient, c.Text) {
			return "", fmt.Errorf("%w: recipient %q without port is ambiguous before this text", ErrInvalidCommand, c.Recipient)
		}
		return joinLine(string(c.Tag), c.Recipient, c.Text), nil
	case TagSendFile:
		if c.Recipient == "" || c.File == nil {
			return "", fmt.Errorf("%w: send_file needs recipient and file", ErrInvalidCommand)
		}
		data, err := json.Marshal(c.File)
		if err != nil {
			return "", err
		}
		if !splitsBack(c.Recipient, string(data)) {
			return "", fmt.Errorf("%w: recipient %q is not a host:port address", ErrInvalidCommand, c.Recipient)
		}
		return joinLine(string(c.Tag), c.Recipient, string(data)), nil
	}
	return "", fmt.Errorf("%w: tag %q", ErrInvalidCommand, c.Tag)
}

// ParseCommand is the inverse of Encode. Unknown tags fail with chaterr.ErrUnknownTag.
func ParseCommand(line string) (Command, error) {
	line = strings.TrimRight(line, "\r\n")
	tag, rest, hasRest := strings.Cut(line, ":")

	switch CommandTag(tag) {
	case TagSubmitInfo, TagExit:
		if hasRest {
			return Command{}, chaterr.Decode("parse command", tag+" takes no arguments", nil)
		}
		return Command{Tag: CommandTag(tag)}, nil
	case TagPeerConnect:
		if rest == "" {
			return Command{}, chaterr.Decode("parse command", "peer_connect without peer", nil)
		}
		return PeerConnect(rest), nil
	case TagSendChat:
		recipient, text, ok := splitAddress(rest)
		if !ok {
			return Command{}, chaterr.Decode("parse command", "send_chat without recipient", nil)
		}
		return SendChat(recipient, text), nil
	case TagSendFile:
		recipient, payload, ok := splitAddress(rest)
		if !ok {
			return Command{}, chaterr.Decode("parse command", "send_file without recipient", nil)
		}
		file, err := decodeFile(payload)
		if err != nil {
			return Command{}, chaterr.Decode("parse command", "send_file descriptor", err)
		}
		return SendFile(recipient, *file), nil
	}
	return Command{}, fmt.Errorf("parse command %q: %w", tag, chaterr.ErrUnknownTag)
}

func joinLine(tag string, args ...string) string {
	return strings.Join(append([]string{tag}, args...), ":")
}

// splitAddress separates a leading host:port address from the payload that
// follows it. When the second field is not a port the first field alone is
// taken as the address.
func splitAddress(rest string) (addr, payload string, ok bool) {
	parts := strings.SplitN(rest, ":", 3)
	if parts[0] == "" || len(parts) < 2 {
		return "", "", false
	}
	if len(parts) == 3 && isPort(parts[1]) {
		return parts[0] + ":" + parts[1], parts[2], true
	}
	return parts[0], rest[len(parts[0])+1:], true
}

// splitsBack reports whether addr:payload separates into the same addr and
// payload again. A bare name followed by text such as "12:30 meeting" does not:
// the leading number would be read as a port.
func splitsBack(addr, payload string) bool {
	a, p, ok := splitAddress(addr + ":" + payload)
	return ok && a == addr && p == payload
}

func isPort(s string) bool {
	if s == "" || len(s) > 5 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func decodeFile(payload string) (*models.FileInfo, error) {
	var file models.FileInfo
	if err := json.Unmarshal([]byte(payload), &file); err != nil {
		return nil, err
	}
	if file.Name == "" {
		return nil, errors.New("file descriptor without name")
	}
	return &file, nil
}

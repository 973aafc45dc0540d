package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"netchat/chaterr"
	"netchat/models"
)

type ResultTag string

const (
	ResultChat          ResultTag = "chat"
	ResultFile          ResultTag = "file"
	ResultSent          ResultTag = "sent"
	ResultFileSent      ResultTag = "file_sent"
	ResultPeerConnected ResultTag = "peer_connected"
	ResultInfoSubmitted ResultTag = "info_submitted"
	ResultExiting       ResultTag = "exiting"
	ResultError         ResultTag = "error"
)

// Result is a decoded node output.
type Result struct {
	Tag    ResultTag
	Peer   string // chat events and peer_connected
	Text   string
	File   *models.FileInfo
	Detail string // error
}

// IsChatEvent reports whether the result carries a message that belongs in a chatroom.
func (r Result) IsChatEvent() bool {
	switch r.Tag {
	case ResultChat, ResultFile, ResultSent, ResultFileSent:
		return true
	}
	return false
}

// Incoming reports whether the message was authored by the peer.
func (r Result) Incoming() bool {
	return r.Tag == ResultChat || r.Tag == ResultFile
}

// MessageKind maps chat events to models.KindText or models.KindFile.
func (r Result) MessageKind() string {
	if r.Tag == ResultFile || r.Tag == ResultFileSent {
		return models.KindFile
	}
	return models.KindText
}

// Content is what gets stored as the message body.
func (r Result) Content() string {
	if r.File != nil {
		if r.File.Path != "" {
			return r.File.Path
		}
		return r.File.Name
	}
	return r.Text
}

// Encode renders the result the way a node writes it.
func (r Result) Encode() (string, error) {
	switch r.Tag {
	case ResultChat, ResultSent:
		if !splitsBack(r.Peer, r.Text) {
			return "", chaterr.Invalid("encode "+string(r.Tag), "peer and text would not decode apart")
		}
		return joinLine(string(r.Tag), r.Peer, r.Text), nil
	case ResultFile, ResultFileSent:
		if r.File == nil {
			return "", chaterr.Invalid("encode "+string(r.Tag), "missing file")
		}
		data, err := json.Marshal(r.File)
		if err != nil {
			return "", err
		}
		if !splitsBack(r.Peer, string(data)) {
			return "", chaterr.Invalid("encode "+string(r.Tag), "peer would not decode apart")
		}
		return joinLine(string(r.Tag), r.Peer, string(data)), nil
	case ResultPeerConnected:
		return joinLine(string(r.Tag), r.Peer), nil
	case ResultInfoSubmitted, ResultExiting:
		return string(r.Tag), nil
	case ResultError:
		return joinLine(string(r.Tag), r.Detail), nil
	}
	return "", fmt.Errorf("encode result: %w", chaterr.ErrUnknownTag)
}

// ParseResult decodes raw node output. The sentinel is not a result and is
// rejected like any other malformed content.
func ParseResult(content string) (Result, error) {
	content = strings.TrimSpace(content)
	tag, rest, _ := strings.Cut(content, ":")

	switch ResultTag(tag) {
	case ResultChat, ResultSent:
		peer, text, ok := splitAddress(rest)
		if !ok {
			return Result{}, chaterr.Decode("parse result", tag+" without peer", nil)
		}
		return Result{Tag: ResultTag(tag), Peer: peer, Text: text}, nil
	case ResultFile, ResultFileSent:
		peer, payload, ok := splitAddress(rest)
		if !ok {
			return Result{}, chaterr.Decode("parse result", tag+" without peer", nil)
		}
		file, err := decodeFile(payload)
		if err != nil {
			return Result{}, chaterr.Decode("parse result", tag+" descriptor", err)
		}
		return Result{Tag: ResultTag(tag), Peer: peer, File: file}, nil
	case ResultPeerConnected:
		if rest == "" {
			return Result{}, chaterr.Decode("parse result", "peer_connected without peer", nil)
		}
		return Result{Tag: ResultPeerConnected, Peer: rest}, nil
	case ResultInfoSubmitted, ResultExiting:
		return Result{Tag: ResultTag(tag)}, nil
	case ResultError:
		return Result{Tag: ResultError, Detail: rest}, nil
	}
	return Result{}, fmt.Errorf("parse result %q: %w", tag, chaterr.ErrUnknownTag)
}

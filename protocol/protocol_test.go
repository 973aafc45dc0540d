package protocol

import (
	"errors"
	"testing"

	"netchat/chaterr"
	"netchat/models"
)

func TestParsePacket(t *testing.T) {
	pkt, err := ParsePacket("msg|10.0.0.5:9000|bob:7091|hello\\, world\\|!\n")
	if err != nil {
		t.Fatalf("Failed to parse packet: %v", err)
	}
	if pkt.Type != "msg" {
		t.Errorf("Expected type msg, got %q", pkt.Type)
	}
	if len(pkt.Fields) != 3 {
		t.Fatalf("Expected 3 fields, got %d: %q", len(pkt.Fields), pkt.Fields)
	}
	if pkt.Field(2) != "hello, world|!" {
		t.Errorf("Expected unescaped text, got %q", pkt.Field(2))
	}
	if pkt.Field(7) != "" {
		t.Errorf("Expected empty string for missing field")
	}

	if _, err := ParsePacket("\n"); !errors.Is(err, ErrInvalidPacket) {
		t.Errorf("Expected ErrInvalidPacket for empty line, got %v", err)
	}
}

func TestEscapeCharacters(t *testing.T) {
	text := "a|b,c\\d\ne\rf"
	line := FormatPacket("msg", "addr", text)
	pkt, err := ParsePacket(line)
	if err != nil {
		t.Fatalf("Failed to parse packet: %v", err)
	}
	if pkt.Field(1) != text {
		t.Errorf("Expected %q, got %q", text, pkt.Field(1))
	}
}

func TestSplitList(t *testing.T) {
	got := SplitList("alice, bob,,carol")
	want := []string{"alice", "bob", "carol"}
	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Expected %q at %d, got %q", want[i], i, got[i])
		}
	}
	if SplitList("") != nil {
		t.Errorf("Expected nil for empty list")
	}
}

func TestCommandEncoding(t *testing.T) {
	tests := []struct {
		cmd  Command
		want string
	}{
		{SubmitInfo(), "submit_info"},
		{Exit(), "exit"},
		{PeerConnect("10.0.0.7:9001"), "peer_connect:10.0.0.7:9001"},
		{SendChat("bob:7091", "hello"), "send_chat:bob:7091:hello"},
		{SendChat("bob:7091", "at 12:30"), "send_chat:bob:7091:at 12:30"},
		{SendFile("bob:7091", models.FileInfo{Name: "a.txt", Size: 3}), `send_file:bob:7091:{"name":"a.txt","size":3}`},
	}

	for _, tt := range tests {
		got, err := tt.cmd.Encode()
		if err != nil {
			t.Fatalf("Failed to encode %v: %v", tt.cmd.Tag, err)
		}
		if got != tt.want {
			t.Errorf("Expected %q, got %q", tt.want, got)
		}

		parsed, err := ParseCommand(got)
		if err != nil {
			t.Fatalf("Failed to parse %q: %v", got, err)
		}
		again, _ := parsed.Encode()
		if again != got {
			t.Errorf("Expected %q after parse, got %q", got, again)
		}
	}
}

func TestCommandRecipientWithoutPort(t *testing.T) {
	cmd, err := ParseCommand("send_chat:bob:hi there")
	if err != nil {
		t.Fatalf("Failed to parse: %v", err)
	}
	if cmd.Recipient != "bob" || cmd.Text != "hi there" {
		t.Errorf("Expected bob / hi there, got %q / %q", cmd.Recipient, cmd.Text)
	}
}

func TestCommandTextStartingWithNumber(t *testing.T) {
	// a bare recipient followed by "12:30" would decode as bob:12
	_, err := SendChat("bob", "12:30 meeting").Encode()
	if !errors.Is(err, ErrInvalidCommand) || !errors.Is(err, chaterr.ErrInvalid) {
		t.Errorf("Expected ErrInvalidCommand for ambiguous recipient, got %v", err)
	}

	tests := []struct {
		recipient string
		text      string
	}{
		{"bob:7091", "12:30 meeting"},
		{"bob", "meeting at 12:30"},
		{"bob", "7091"},
		{"bob", ""},
		{"10.0.0.6:9000", "99:bottles"},
	}
	for _, tt := range tests {
		line, err := SendChat(tt.recipient, tt.text).Encode()
		if err != nil {
			t.Fatalf("Failed to encode %q/%q: %v", tt.recipient, tt.text, err)
		}
		cmd, err := ParseCommand(line)
		if err != nil {
			t.Fatalf("Failed to parse %q: %v", line, err)
		}
		if cmd.Recipient != tt.recipient || cmd.Text != tt.text {
			t.Errorf("Expected %q / %q from %q, got %q / %q", tt.recipient, tt.text, line, cmd.Recipient, cmd.Text)
		}
	}

	if _, err := SendFile("bob:x", models.FileInfo{Name: "a.txt"}).Encode(); !errors.Is(err, ErrInvalidCommand) {
		t.Errorf("Expected ErrInvalidCommand for malformed file recipient, got %v", err)
	}
}

func TestResultEncodeRejectsAmbiguousPeer(t *testing.T) {
	_, err := Result{Tag: ResultSent, Peer: "bob", Text: "12:30 meeting"}.Encode()
	if !errors.Is(err, chaterr.ErrInvalid) {
		t.Errorf("Expected invalid argument, got %v", err)
	}

	line, err := Result{Tag: ResultChat, Peer: "bob:7091", Text: "12:30 meeting"}.Encode()
	if err != nil {
		t.Fatalf("Failed to encode: %v", err)
	}
	res, err := ParseResult(line)
	if err != nil {
		t.Fatalf("Failed to parse %q: %v", line, err)
	}
	if res.Peer != "bob:7091" || res.Text != "12:30 meeting" {
		t.Errorf("Unexpected result %+v", res)
	}
}

func TestCommandInvalid(t *testing.T) {
	if _, err := SendChat("", "x").Encode(); !errors.Is(err, ErrInvalidCommand) {
		t.Errorf("Expected ErrInvalidCommand for empty recipient, got %v", err)
	}
	if _, err := SendChat("bob:1", "two\nlines").Encode(); !errors.Is(err, ErrInvalidCommand) {
		t.Errorf("Expected ErrInvalidCommand for multi-line text, got %v", err)
	}
	if _, err := PeerConnect("").Encode(); !errors.Is(err, ErrInvalidCommand) {
		t.Errorf("Expected ErrInvalidCommand for empty peer, got %v", err)
	}

	for _, line := range []string{"reboot", "send_chat:", "send_file:bob:7091:{not json", "exit:now", ""} {
		_, err := ParseCommand(line)
		if chaterr.KindOf(err) != chaterr.KindDecode {
			t.Errorf("Expected decode error for %q, got %v", line, err)
		}
	}
}

func TestParseResult(t *testing.T) {
	res, err := ParseResult("chat:10.0.0.9:7000:see you: soon\n")
	if err != nil {
		t.Fatalf("Failed to parse result: %v", err)
	}
	if res.Tag != ResultChat || res.Peer != "10.0.0.9:7000" || res.Text != "see you: soon" {
		t.Errorf("Unexpected result %+v", res)
	}
	if !res.IsChatEvent() || !res.Incoming() || res.MessageKind() != models.KindText {
		t.Errorf("Expected incoming text chat event")
	}

	res, err = ParseResult(`file_sent:10.0.0.9:7000:{"name":"pic.png","size":10,"path":"/tmp/pic.png"}`)
	if err != nil {
		t.Fatalf("Failed to parse file result: %v", err)
	}
	if res.Incoming() || res.MessageKind() != models.KindFile || res.Content() != "/tmp/pic.png" {
		t.Errorf("Unexpected file result %+v", res)
	}

	res, err = ParseResult("peer_connected:10.0.0.9:7000")
	if err != nil || res.IsChatEvent() || res.Peer != "10.0.0.9:7000" {
		t.Errorf("Unexpected peer_connected result %+v, %v", res, err)
	}
}

func TestParseResultRejects(t *testing.T) {
	for _, content := range []string{Sentinel, "", "hello world", "chat:", `file:bob:1:{}`} {
		if _, err := ParseResult(content); !errors.Is(err, chaterr.ErrDecode) {
			t.Errorf("Expected decode error for %q, got %v", content, err)
		}
	}
}

func TestResultEncodeRoundTrip(t *testing.T) {
	in := Result{Tag: ResultFile, Peer: "h:1", File: &models.FileInfo{Name: "n", Size: 1}}
	line, err := in.Encode()
	if err != nil {
		t.Fatalf("Failed to encode: %v", err)
	}
	out, err := ParseResult(line)
	if err != nil {
		t.Fatalf("Failed to parse %q: %v", line, err)
	}
	if out.Peer != "h:1" || out.File == nil || out.File.Name != "n" {
		t.Errorf("Unexpected round trip %+v", out)
	}
}

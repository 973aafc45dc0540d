// Package channel implements the file-pair mailbox used to drive node processes.
//
// Every node address owns two files under the mailbox root: <name>.in carries
// at most one pending command, <name>.out carries at most one pending result,
// the sentinel "done", or nothing. Both slots are single-item: a new command
// replaces an unconsumed one, and a poll that returns content empties the
// result slot.
package channel

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/renameio/v2"

	"netchat/chaterr"
	"netchat/protocol"
)

const (
	inSuffix  = ".in"
	outSuffix = ".out"
)

type Mailbox struct {
	root string
	mu   sync.Mutex
}

// New ensures root exists and returns a mailbox rooted there.
func New(root string) (*Mailbox, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, chaterr.IO("create mailbox root", err)
	}
	return &Mailbox{root: root}, nil
}

func (m *Mailbox) Root() string {
	return m.root
}

// Submit overwrites the pending command for address.
func (m *Mailbox) Submit(address string, cmd protocol.Command) error {
	line, err := cmd.Encode()
	if err != nil {
		return err
	}
	return m.SubmitRaw(address, line)
}

// SubmitRaw writes an already encoded command line.
func (m *Mailbox) SubmitRaw(address, line string) error {
	if address == "" {
		return chaterr.Invalid("submit", "empty node address")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := renameio.WriteFile(m.inPath(address), []byte(line), 0644); err != nil {
		return chaterr.IO("submit "+address, err)
	}
	return nil
}

// Poll hands off the pending result for address, at most once. It returns
// false when there is no file, the file is empty, or it holds the sentinel;
// none of those cases touch the file.
func (m *Mailbox) Poll(address string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	path := m.outPath(address)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", false, nil
		}
		return "", false, chaterr.IO("poll "+address, err)
	}

	content := strings.TrimSpace(string(data))
	if content == "" || content == protocol.Sentinel {
		return "", false, nil
	}

	if err := os.WriteFile(path, nil, 0644); err != nil {
		return "", false, chaterr.IO("clear result "+address, err)
	}
	return content, true, nil
}

// Pending returns the command still waiting in the input slot, if any.
func (m *Mailbox) Pending(address string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.inPath(address))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", false, nil
		}
		return "", false, chaterr.IO("read pending "+address, err)
	}
	if len(data) == 0 {
		return "", false, nil
	}
	return string(data), true, nil
}

func (m *Mailbox) inPath(address string) string {
	return filepath.Join(m.root, SafeName(address)+inSuffix)
}

func (m *Mailbox) outPath(address string) string {
	return filepath.Join(m.root, SafeName(address)+outSuffix)
}

// SafeName maps a node address to a file name. The host/port colon becomes an
// underscore; characters that would make that ambiguous or escape the root are
// percent-encoded first, so distinct addresses never share a name.
func SafeName(address string) string {
	var b strings.Builder
	for i := 0; i < len(address); i++ {
		c := address[i]
		switch {
		case c == ':':
			b.WriteByte('_')
		case c == '_' || c == '%' || c == '/' || c == '\\' || c < 0x20:
			fmt.Fprintf(&b, "%%%02X", c)
		default:
			b.WriteByte(c)
		}
	}
	name := b.String()
	if name == "." || name == ".." {
		return strings.ReplaceAll(name, ".", "%2E")
	}
	return name
}

// AddressFromSafeName reverses SafeName.
func AddressFromSafeName(name string) (string, error) {
	addr, err := url.PathUnescape(strings.ReplaceAll(name, "_", ":"))
	if err != nil {
		return "", chaterr.Decode("address from name", name, err)
	}
	return addr, nil
}

package chatroom

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"netchat/chaterr"
	"netchat/models"
)

const (
	recordSuffix = ".json"
	idLength     = 8

	// DefaultMessageLimit applies when ListMessages is called with a negative limit.
	DefaultMessageLimit = 50
)

// Store keeps one JSON record per chatroom under root. There is no cache:
// every mutation reads the record, changes it and rewrites it atomically while
// holding that room's lock.
type Store struct {
	root   string
	logger zerolog.Logger
	now    func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(root string, logger zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, chaterr.IO("create chatroom root", err)
	}
	return &Store{
		root:   root,
		logger: logger.With().Str("component", "chatroom").Logger(),
		now:    time.Now,
		locks:  make(map[string]*sync.Mutex),
	}, nil
}

func (s *Store) Root() string {
	return s.root
}

// Create persists a new room and provisions its attachment directory. The
// creator is always a member; repeated names are allowed.
func (s *Store) Create(name, creator string, members ...string) (string, error) {
	if creator == "" {
		return "", chaterr.Invalid("create chatroom", "creator required")
	}

	room := &models.Chatroom{
		Name:      name,
		Creator:   creator,
		CreatedAt: s.now().UTC(),
		Members:   uniqueMembers(creator, members),
		Messages:  []models.Message{},
	}

	for {
		room.ID = newRoomID()
		unlock := s.lock(room.ID)
		if s.Exists(room.ID) {
			unlock()
			continue
		}
		err := s.provision(room)
		unlock()
		if err != nil {
			return "", err
		}
		break
	}

	s.logger.Debug().Str("room", room.ID).Str("name", name).Str("creator", creator).Msg("chatroom created")
	return room.ID, nil
}

// provision creates the attachment directory and then the record, so a failed
// create leaves neither behind. Callers hold the room lock.
func (s *Store) provision(room *models.Chatroom) error {
	dir := s.attachmentPath(room.ID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return chaterr.IO("create attachment dir "+room.ID, err)
	}
	if err := s.save(room); err != nil {
		os.Remove(dir)
		return err
	}
	return nil
}

func (s *Store) Exists(id string) bool {
	if !validID(id) {
		return false
	}
	info, err := os.Stat(s.recordPath(id))
	return err == nil && info.Mode().IsRegular()
}

// Get loads a room with its full message log.
func (s *Store) Get(id string) (*models.Chatroom, error) {
	if !validID(id) {
		return nil, fmt.Errorf("get chatroom %q: %w", id, chaterr.ErrRoomNotFound)
	}
	return s.load(id)
}

func (s *Store) AddMember(id, user string) error {
	return s.update(id, "add member", func(room *models.Chatroom) error {
		if room.HasMember(user) {
			return chaterr.ErrAlreadyMember
		}
		room.Members = append(room.Members, user)
		return nil
	})
}

func (s *Store) RemoveMember(id, user string) error {
	return s.update(id, "remove member", func(room *models.Chatroom) error {
		if !room.HasMember(user) {
			return chaterr.ErrNotMember
		}
		if user == room.Creator {
			return chaterr.ErrCannotRemoveCreator
		}
		members := room.Members[:0]
		for _, m := range room.Members {
			if m != user {
				members = append(members, m)
			}
		}
		room.Members = members
		return nil
	})
}

// AppendMessage stores a message from a current member. Timestamps within a
// room strictly increase in append order.
func (s *Store) AppendMessage(id, sender, content, kind string, file *models.FileInfo) (*models.Message, error) {
	switch kind {
	case "", models.KindText:
		kind = models.KindText
		file = nil
	case models.KindFile:
		if file == nil {
			return nil, chaterr.Invalid("append message", "file message without file info")
		}
	default:
		return nil, chaterr.Invalid("append message", fmt.Sprintf("unknown kind %q", kind))
	}

	var msg models.Message
	err := s.update(id, "append message", func(room *models.Chatroom) error {
		if !room.HasMember(sender) {
			return chaterr.ErrNotMember
		}

		ts := s.now().UTC()
		if n := len(room.Messages); n > 0 {
			if last := room.Messages[n-1].Timestamp; !ts.After(last) {
				ts = last.Add(time.Nanosecond)
			}
		}

		msg = models.Message{
			ID:        ulid.Make().String(),
			Sender:    sender,
			Content:   content,
			Type:      kind,
			Timestamp: ts,
		}
		if file != nil {
			f := *file
			msg.FileInfo = &f
		}
		room.Messages = append(room.Messages, msg)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// ListMessages returns up to limit messages strictly older than before (when
// before is non-zero), newest first. A negative limit means DefaultMessageLimit
// and a zero limit yields an empty page. An unknown room yields an empty list.
func (s *Store) ListMessages(id string, limit int, before time.Time) ([]models.Message, error) {
	if limit < 0 {
		limit = DefaultMessageLimit
	}
	if limit == 0 {
		return []models.Message{}, nil
	}

	room, err := s.Get(id)
	if err != nil {
		if errors.Is(err, chaterr.ErrRoomNotFound) {
			return []models.Message{}, nil
		}
		return nil, err
	}

	messages := make([]models.Message, 0, len(room.Messages))
	for _, m := range room.Messages {
		if before.IsZero() || m.Timestamp.Before(before) {
			messages = append(messages, m)
		}
	}

	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].Timestamp.After(messages[j].Timestamp)
	})

	if len(messages) > limit {
		messages = messages[:limit]
	}
	return messages, nil
}

// Rooms scans every persisted room. Unreadable records are logged and skipped.
func (s *Store) Rooms() ([]models.RoomSummary, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, chaterr.IO("list chatrooms", err)
	}

	var rooms []models.RoomSummary
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, recordSuffix) {
			continue
		}
		room, err := s.load(strings.TrimSuffix(name, recordSuffix))
		if err != nil {
			s.logger.Warn().Err(err).Str("file", name).Msg("skipping unreadable chatroom record")
			continue
		}
		rooms = append(rooms, room.Summary())
	}
	return rooms, nil
}

// RoomsForUser lists the rooms user belongs to, without message bodies.
func (s *Store) RoomsForUser(user string) ([]models.RoomSummary, error) {
	all, err := s.Rooms()
	if err != nil {
		return nil, err
	}

	var rooms []models.RoomSummary
	for _, r := range all {
		for _, m := range r.Members {
			if m == user {
				rooms = append(rooms, r)
				break
			}
		}
	}
	return rooms, nil
}

// AttachmentDir returns the directory reserved for a room's files.
func (s *Store) AttachmentDir(id string) (string, error) {
	if !s.Exists(id) {
		return "", fmt.Errorf("attachment dir %q: %w", id, chaterr.ErrRoomNotFound)
	}
	return s.attachmentPath(id), nil
}

func (s *Store) update(id, op string, mutate func(room *models.Chatroom) error) error {
	if !validID(id) {
		return fmt.Errorf("%s %q: %w", op, id, chaterr.ErrRoomNotFound)
	}

	unlock := s.lock(id)
	defer unlock()

	room, err := s.load(id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := mutate(room); err != nil {
		return fmt.Errorf("%s %s: %w", op, id, err)
	}
	return s.save(room)
}

func (s *Store) load(id string) (*models.Chatroom, error) {
	data, err := os.ReadFile(s.recordPath(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("chatroom %s: %w", id, chaterr.ErrRoomNotFound)
		}
		return nil, chaterr.IO("read chatroom "+id, err)
	}

	var room models.Chatroom
	if err := json.Unmarshal(data, &room); err != nil {
		return nil, chaterr.Decode("read chatroom "+id, "malformed record", err)
	}
	if room.Messages == nil {
		room.Messages = []models.Message{}
	}
	return &room, nil
}

func (s *Store) save(room *models.Chatroom) error {
	data, err := json.Marshal(room)
	if err != nil {
		return err
	}
	if err := renameio.WriteFile(s.recordPath(room.ID), data, 0644); err != nil {
		return chaterr.IO("write chatroom "+room.ID, err)
	}
	return nil
}

// lock returns the unlock function for the room's mutex.
func (s *Store) lock(id string) func() {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}

func (s *Store) recordPath(id string) string {
	return filepath.Join(s.root, id+recordSuffix)
}

func (s *Store) attachmentPath(id string) string {
	return filepath.Join(s.root, id)
}

var newRoomID = func() string {
	return uuid.New().String()[:idLength]
}

// validID rejects ids that could address files outside the root.
func validID(id string) bool {
	if id == "" || id == "." || id == ".." {
		return false
	}
	return !strings.ContainsAny(id, `/\`)
}

func uniqueMembers(creator string, members []string) []string {
	seen := make(map[string]bool, len(members)+1)
	out := make([]string, 0, len(members)+1)
	for _, m := range members {
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	if !seen[creator] {
		out = append(out, creator)
	}
	return out
}

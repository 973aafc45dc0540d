package server

import (
	"encoding/json"
	"errors"
	"net"
	"strconv"
	"strings"
	"time"

	"netchat/chaterr"
	"netchat/metrics"
	"netchat/models"
	"netchat/protocol"
)

func (s *Server) handlePing(session *Session) {
	s.sendPacket(session, "pong")
}

// handleRegister: reg|user|password or reg|user|password|ip|port
func (s *Server) handleRegister(session *Session, pkt *protocol.Packet) {
	login, password := pkt.Field(0), pkt.Field(1)
	if login == "" || password == "" {
		s.sendError(session, "reg", "Invalid data")
		return
	}

	ip := pkt.Field(2)
	port := 0
	if p := pkt.Field(3); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > 65535 {
			s.sendError(session, "reg", "Invalid port")
			return
		}
		port = n
	}

	if err := s.db.CreateUser(login, password, ip, port); err != nil {
		s.fail(session, "reg", err)
		return
	}

	s.logger.Info().Str("user", login).Msg("user registered")
	s.sendOK(session, "reg")
}

func (s *Server) handleAuth(session *Session, pkt *protocol.Packet) {
	login, password := pkt.Field(0), pkt.Field(1)
	if login == "" || password == "" {
		s.sendError(session, "auth", "Invalid credentials")
		return
	}

	if session.Login != "" {
		if session.Login == login {
			s.sendOK(session, "auth")
		} else {
			s.sendError(session, "auth", "Already authenticated")
		}
		return
	}

	if err := s.db.AuthenticateUser(login, password); err != nil {
		if chaterr.UserFacing(err) {
			// unknown user and wrong password look the same from outside
			s.sendError(session, "auth", "Invalid credentials")
			return
		}
		s.fail(session, "auth", err)
		return
	}

	s.setLogin(session, login)
	s.logger.Info().Str("user", login).Msg("session authenticated")
	s.sendOK(session, "auth")
}

// handleAttach binds a node address to the session's user and records it as
// the user's last known address.
func (s *Server) handleAttach(session *Session, pkt *protocol.Packet) {
	if !s.requireAuth(session, "attach") {
		return
	}

	address := pkt.Field(0)
	host, portStr, err := net.SplitHostPort(address)
	if err != nil || host == "" {
		s.sendError(session, "attach", "Invalid address")
		return
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		s.sendError(session, "attach", "Invalid address")
		return
	}

	if owner, ok := s.ctrl.Owner(address); ok && owner != session.Login {
		s.sendError(session, "attach", "Node attached by another user")
		return
	}

	if err := s.db.UpdateAddress(session.Login, host, port); err != nil {
		s.fail(session, "attach", err)
		return
	}
	if err := s.ctrl.Attach(address, session.Login); err != nil {
		s.fail(session, "attach", err)
		return
	}
	s.sendOK(session, "attach")
}

func (s *Server) handleDetach(session *Session, pkt *protocol.Packet) {
	address := pkt.Field(0)
	if !s.requireNode(session, "detach", address) {
		return
	}
	s.ctrl.Detach(address)
	s.sendOK(session, "detach")
}

// handleNodeCommand covers info|address, connect|address|peer and exit|address.
func (s *Server) handleNodeCommand(session *Session, pkt *protocol.Packet) {
	op := pkt.Type
	address := pkt.Field(0)
	if !s.requireNode(session, op, address) {
		return
	}

	var err error
	switch op {
	case "info":
		err = s.ctrl.SubmitInfo(address)
	case "connect":
		peer := pkt.Field(1)
		if peer == "" {
			s.sendError(session, op, "Peer required")
			return
		}
		err = s.ctrl.PeerConnect(address, peer)
	case "exit":
		err = s.ctrl.Exit(address)
	}
	if err != nil {
		s.fail(session, op, err)
		return
	}
	s.sendOK(session, op)
}

// handleMessage: msg|address|recipient|text
func (s *Server) handleMessage(session *Session, pkt *protocol.Packet) {
	address, recipient, text := pkt.Field(0), pkt.Field(1), pkt.Field(2)
	if !s.requireNode(session, "msg", address) {
		return
	}
	if recipient == "" || text == "" {
		s.sendError(session, "msg", "Recipient and text required")
		return
	}

	if err := s.ctrl.Send(address, recipient, text); err != nil {
		s.fail(session, "msg", err)
		return
	}
	s.sendOK(session, "msg")
}

// handleSay: say|address|room|recipient|text. The confirmation is stored in
// room instead of the direct room.
func (s *Server) handleSay(session *Session, pkt *protocol.Packet) {
	address, roomID, recipient, text := pkt.Field(0), pkt.Field(1), pkt.Field(2), pkt.Field(3)
	if !s.requireNode(session, "say", address) {
		return
	}
	if recipient == "" || text == "" {
		s.sendError(session, "say", "Recipient and text required")
		return
	}
	if _, ok := s.requireMember(session, "say", roomID); !ok {
		return
	}

	if err := s.ctrl.SendToRoom(address, roomID, recipient, text); err != nil {
		s.fail(session, "say", err)
		return
	}
	s.sendOK(session, "say")
}

// handleFile: file|address|recipient|{"name":...,"size":...}
func (s *Server) handleFile(session *Session, pkt *protocol.Packet) {
	address, recipient := pkt.Field(0), pkt.Field(1)
	if !s.requireNode(session, "file", address) {
		return
	}
	if recipient == "" {
		s.sendError(session, "file", "Recipient required")
		return
	}

	var file models.FileInfo
	if err := json.Unmarshal([]byte(pkt.Field(2)), &file); err != nil || file.Name == "" {
		s.sendError(session, "file", "Invalid file description")
		return
	}

	if err := s.ctrl.SendFile(address, recipient, file); err != nil {
		s.fail(session, "file", err)
		return
	}
	s.sendOK(session, "file")
}

// handleCreateRoom: mkroom|name|member,member -> room|id
func (s *Server) handleCreateRoom(session *Session, pkt *protocol.Packet) {
	if !s.requireAuth(session, "mkroom") {
		return
	}
	name := pkt.Field(0)
	if name == "" {
		s.sendError(session, "mkroom", "Name required")
		return
	}

	id, err := s.rooms.Create(name, session.Login, protocol.SplitList(pkt.Field(1))...)
	if err != nil {
		s.fail(session, "mkroom", err)
		return
	}
	s.sendPacket(session, "room", id)
}

// handleJoin: join|room|user. Only members may add others.
func (s *Server) handleJoin(session *Session, pkt *protocol.Packet) {
	roomID, user := pkt.Field(0), pkt.Field(1)
	if user == "" {
		s.sendError(session, "join", "User required")
		return
	}
	if _, ok := s.requireMember(session, "join", roomID); !ok {
		return
	}

	if err := s.rooms.AddMember(roomID, user); err != nil {
		s.fail(session, "join", err)
		return
	}
	s.sendOK(session, "join")
}

// handleKick: kick|room|user. Members may leave; only the creator removes others.
func (s *Server) handleKick(session *Session, pkt *protocol.Packet) {
	roomID, user := pkt.Field(0), pkt.Field(1)
	if user == "" {
		s.sendError(session, "kick", "User required")
		return
	}
	room, ok := s.requireMember(session, "kick", roomID)
	if !ok {
		return
	}
	if user != session.Login && room.Creator != session.Login {
		s.sendError(session, "kick", "Only the creator can remove members")
		return
	}

	if err := s.rooms.RemoveMember(roomID, user); err != nil {
		s.fail(session, "kick", err)
		return
	}
	s.sendOK(session, "kick")
}

// handleDirect: dm|peer -> dm|id|new or dm|id|existing
func (s *Server) handleDirect(session *Session, pkt *protocol.Packet) {
	if !s.requireAuth(session, "dm") {
		return
	}
	peer := pkt.Field(0)
	if peer == "" || peer == session.Login {
		s.sendError(session, "dm", "Invalid peer")
		return
	}

	id, created, err := s.resolver.ResolveOrCreate(session.Login, peer)
	if err != nil {
		s.fail(session, "dm", err)
		return
	}
	state := "existing"
	if created {
		state = "new"
		metrics.DirectRoomsCreated.Inc()
	}
	s.sendPacket(session, "dm", id, state)
}

// handleRooms sends room|id|name|creator|members|count per room, then ok|rooms.
func (s *Server) handleRooms(session *Session) {
	if !s.requireAuth(session, "rooms") {
		return
	}

	rooms, err := s.rooms.RoomsForUser(session.Login)
	if err != nil {
		s.fail(session, "rooms", err)
		return
	}
	for _, r := range rooms {
		s.sendPacket(session, "room", r.ID, r.Name, r.Creator, strings.Join(r.Members, ","), strconv.Itoa(r.MessageCount))
	}
	s.sendOK(session, "rooms")
}

// handleHistory: hist|room, hist|room|limit or hist|room|limit|before.
// Sends hmsg|room|id|sender|type|timestamp|content newest first, then ok|hist.
func (s *Server) handleHistory(session *Session, pkt *protocol.Packet) {
	roomID := pkt.Field(0)
	if _, ok := s.requireMember(session, "hist", roomID); !ok {
		return
	}

	limit := -1
	if l := pkt.Field(1); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			s.sendError(session, "hist", "Invalid limit")
			return
		}
		limit = n
	}

	var before time.Time
	if b := pkt.Field(2); b != "" {
		t, err := time.Parse(time.RFC3339Nano, b)
		if err != nil {
			s.sendError(session, "hist", "Invalid timestamp")
			return
		}
		before = t
	}

	messages, err := s.rooms.ListMessages(roomID, limit, before)
	if err != nil {
		s.fail(session, "hist", err)
		return
	}
	for _, m := range messages {
		s.sendPacket(session, "hmsg", roomID, m.ID, m.Sender, m.Type, m.Timestamp.Format(time.RFC3339Nano), m.Content)
	}
	s.sendOK(session, "hist")
}

// handleLog: log|address -> lentry|address|observed_at|content oldest first, then ok|log
func (s *Server) handleLog(session *Session, pkt *protocol.Packet) {
	address := pkt.Field(0)
	if !s.requireNode(session, "log", address) {
		return
	}
	for _, e := range s.ctrl.History(address) {
		s.sendPacket(session, "lentry", address, e.ObservedAt.Format(time.RFC3339Nano), e.Content)
	}
	s.sendOK(session, "log")
}

func (s *Server) handleClearLog(session *Session, pkt *protocol.Packet) {
	address := pkt.Field(0)
	if !s.requireNode(session, "lclear", address) {
		return
	}
	s.ctrl.ClearHistory(address)
	s.sendOK(session, "lclear")
}

// handleUsers sends user|name|ip|port per registered user, then ok|users.
func (s *Server) handleUsers(session *Session) {
	if !s.requireAuth(session, "users") {
		return
	}
	users, err := s.db.ListUsers()
	if err != nil {
		s.fail(session, "users", err)
		return
	}
	for _, u := range users {
		s.sendPacket(session, "user", u.Username, u.IP, strconv.Itoa(u.Port))
	}
	s.sendOK(session, "users")
}

func (s *Server) handleStats(session *Session) {
	s.sendPacket(session, "stats", s.GetStats())
}

func (s *Server) handleHelp(session *Session) {
	commands := []string{
		"ping",
		"reg",
		"auth",
		"attach",
		"detach",
		"info",
		"connect",
		"exit",
		"msg",
		"say",
		"file",
		"mkroom",
		"join",
		"kick",
		"dm",
		"rooms",
		"hist",
		"log",
		"lclear",
		"users",
		"stats",
		"help",
		"bye",
	}
	s.sendListPacket(session, "help", commands)
}

func (s *Server) requireAuth(session *Session, op string) bool {
	if session.Login == "" {
		s.sendError(session, op, "Not authenticated")
		return false
	}
	return true
}

// requireNode checks that address is attached and owned by the session's user.
func (s *Server) requireNode(session *Session, op, address string) bool {
	if !s.requireAuth(session, op) {
		return false
	}
	owner, ok := s.ctrl.Owner(address)
	if !ok {
		s.sendError(session, op, "Node not attached")
		return false
	}
	if owner != session.Login {
		s.sendError(session, op, "Permission denied")
		return false
	}
	return true
}

func (s *Server) requireMember(session *Session, op, roomID string) (*models.Chatroom, bool) {
	if !s.requireAuth(session, op) {
		return nil, false
	}
	room, err := s.rooms.Get(roomID)
	if err != nil {
		s.fail(session, op, err)
		return nil, false
	}
	if !room.HasMember(session.Login) {
		s.sendError(session, op, describe(chaterr.ErrNotMember))
		return nil, false
	}
	return room, true
}

// fail reports err to the client; internal failures are logged and hidden.
func (s *Server) fail(session *Session, op string, err error) {
	if !chaterr.UserFacing(err) {
		s.logger.Error().Err(err).Str("op", op).Str("user", session.Login).Msg("request failed")
	}
	s.sendError(session, op, describe(err))
}

func (s *Server) setLogin(session *Session, login string) {
	s.mu.Lock()
	session.Login = login
	s.mu.Unlock()
}

// describe turns an error into the text shown to the client.
func describe(err error) string {
	var e *chaterr.Error
	if chaterr.UserFacing(err) && errors.As(err, &e) && e.Msg != "" {
		return e.Msg
	}
	if chaterr.KindOf(err) == chaterr.KindDecode {
		return "Invalid data"
	}
	return "Internal error"
}

package server

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"netchat/chatroom"
	"netchat/control"
	"netchat/db"
	"netchat/dm"
	"netchat/metrics"
	"netchat/protocol"
)

// Server is the local control socket. Every connection is a front end that
// logs in as a user and then drives that user's attached nodes.
type Server struct {
	db       *db.DB
	rooms    *chatroom.Store
	resolver *dm.Resolver
	ctrl     *control.Controller
	config   *ServerConfig
	logger   zerolog.Logger

	sessions map[*Session]struct{}
	mu       sync.RWMutex

	listener net.Listener
}

type ServerConfig struct {
	SocketPath   string
	ReadTimeout  time.Duration // idle sessions are closed after this long; 0 disables
	WriteTimeout time.Duration
}

type Session struct {
	Login string
	Conn  net.Conn
	mu    sync.Mutex // serialises writes from the handler and the event feed
}

func New(database *db.DB, rooms *chatroom.Store, resolver *dm.Resolver, ctrl *control.Controller, config *ServerConfig, logger zerolog.Logger) *Server {
	if config.WriteTimeout == 0 {
		config.WriteTimeout = 10 * time.Second
	}
	return &Server{
		db:       database,
		rooms:    rooms,
		resolver: resolver,
		ctrl:     ctrl,
		config:   config,
		logger:   logger.With().Str("component", "server").Logger(),
		sessions: make(map[*Session]struct{}),
	}
}

// Start listens on the configured unix socket and serves until Close is called.
func (s *Server) Start() error {
	// a stale socket from a previous run blocks Listen
	if err := os.Remove(s.config.SocketPath); err != nil && !os.IsNotExist(err) {
		return err
	}

	listener, err := net.Listen("unix", s.config.SocketPath)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.logger.Info().Str("socket", s.config.SocketPath).Msg("control socket listening")

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Warn().Err(err).Msg("accept failed")
			continue
		}

		go s.handleConnection(conn)
	}
}

// Close stops accepting connections.
func (s *Server) Close() error {
	s.mu.RLock()
	listener := s.listener
	s.mu.RUnlock()
	if listener == nil {
		return nil
	}
	return listener.Close()
}

func (s *Server) handleConnection(conn net.Conn) {
	session := &Session{Conn: conn}
	s.addSession(session)

	defer func() {
		s.removeSession(session)
		conn.Close()
		if session.Login != "" {
			s.logger.Info().Str("user", session.Login).Msg("session closed")
		}
	}()

	reader := bufio.NewReader(conn)
	for {
		if s.config.ReadTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		}
		line, err := reader.ReadString('\n')
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				s.logger.Info().Str("user", session.Login).Msg("idle session timed out")
				s.sendPacket(session, "bye", "timeout")
				return
			}
			if err != io.EOF && !errors.Is(err, net.ErrClosed) {
				s.logger.Warn().Err(err).Msg("read failed")
			}
			return
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		pkt, err := protocol.ParsePacket(line)
		if err != nil {
			s.sendError(session, "", "Invalid packet format")
			continue
		}

		// credentials stay out of the log
		if pkt.Type != "auth" && pkt.Type != "reg" {
			s.logger.Debug().Str("user", session.Login).Str("packet", line).Msg("received")
		}

		s.handlePacket(session, pkt)

		if pkt.Type == "bye" {
			return
		}
	}
}

func (s *Server) handlePacket(session *Session, pkt *protocol.Packet) {
	switch pkt.Type {
	case "ping":
		s.handlePing(session)
	case "reg":
		s.handleRegister(session, pkt)
	case "auth":
		s.handleAuth(session, pkt)
	case "attach":
		s.handleAttach(session, pkt)
	case "detach":
		s.handleDetach(session, pkt)
	case "info", "connect", "exit":
		s.handleNodeCommand(session, pkt)
	case "msg":
		s.handleMessage(session, pkt)
	case "say":
		s.handleSay(session, pkt)
	case "file":
		s.handleFile(session, pkt)
	case "mkroom":
		s.handleCreateRoom(session, pkt)
	case "join":
		s.handleJoin(session, pkt)
	case "kick":
		s.handleKick(session, pkt)
	case "dm":
		s.handleDirect(session, pkt)
	case "rooms":
		s.handleRooms(session)
	case "hist":
		s.handleHistory(session, pkt)
	case "log":
		s.handleLog(session, pkt)
	case "lclear":
		s.handleClearLog(session, pkt)
	case "users":
		s.handleUsers(session)
	case "stats":
		s.handleStats(session)
	case "help":
		s.handleHelp(session)
	case "bye":
		s.sendPacket(session, "bye")
	default:
		s.sendError(session, "", "Unknown packet type")
	}
}

// Forward pushes controller updates to the sessions of their owners until
// updates is closed or ctx is done.
func (s *Server) Forward(ctx context.Context, updates <-chan control.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case upd, ok := <-updates:
			if !ok {
				return
			}
			s.Dispatch(upd)
		}
	}
}

// Dispatch sends one update as an event packet to every session logged in
// as the update's owner.
func (s *Server) Dispatch(upd control.Update) {
	if upd.Owner == "" {
		return
	}
	fields := eventFields(upd)
	for _, session := range s.sessionsFor(upd.Owner) {
		s.sendPacket(session, "event", fields...)
	}
}

// eventFields renders address|kind|room|sender|content.
func eventFields(upd control.Update) []string {
	switch {
	case upd.Result == nil:
		return []string{upd.Address, "raw", "", "", upd.Content}
	case upd.Err != nil:
		return []string{upd.Address, "error", upd.RoomID, upd.Result.Peer, describe(upd.Err)}
	case upd.Message != nil:
		return []string{upd.Address, string(upd.Result.Tag), upd.RoomID, upd.Message.Sender, upd.Message.Content}
	default:
		res := upd.Result
		return []string{upd.Address, string(res.Tag), "", res.Peer, strings.TrimSpace(res.Text + " " + res.Detail)}
	}
}

// sendPacket escapes every field. Format: pktType|field1|field2|...\n
func (s *Server) sendPacket(session *Session, pktType string, fields ...string) {
	s.write(session, protocol.FormatPacket(pktType, fields...))
}

// sendListPacket sends items as one comma-separated field.
func (s *Server) sendListPacket(session *Session, pktType string, items []string) {
	s.write(session, protocol.FormatListPacket(pktType, items))
}

func (s *Server) write(session *Session, packet string) {
	session.mu.Lock()
	defer session.mu.Unlock()

	session.Conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	if _, err := session.Conn.Write([]byte(packet)); err != nil {
		s.logger.Debug().Err(err).Str("user", session.Login).Msg("write failed")
	}
}

func (s *Server) sendOK(session *Session, operation string) {
	s.sendPacket(session, "ok", operation)
}

func (s *Server) sendError(session *Session, operation, description string) {
	if operation != "" {
		// fail|operation|description
		s.sendPacket(session, "fail", operation, description)
	} else {
		s.sendPacket(session, "fail", description)
	}
}

func (s *Server) addSession(session *Session) {
	s.mu.Lock()
	s.sessions[session] = struct{}{}
	n := len(s.sessions)
	s.mu.Unlock()
	metrics.ControlSessions.Set(float64(n))
}

func (s *Server) removeSession(session *Session) {
	s.mu.Lock()
	delete(s.sessions, session)
	n := len(s.sessions)
	s.mu.Unlock()
	metrics.ControlSessions.Set(float64(n))
}

func (s *Server) sessionsFor(login string) []*Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Session
	for session := range s.sessions {
		if session.Login == login {
			out = append(out, session)
		}
	}
	return out
}

// Shutdown sends bye|reason to every open session and closes it.
func (s *Server) Shutdown(reason string) {
	s.mu.RLock()
	sessions := make([]*Session, 0, len(s.sessions))
	for session := range s.sessions {
		sessions = append(sessions, session)
	}
	s.mu.RUnlock()

	for _, session := range sessions {
		s.sendPacket(session, "bye", reason)
		session.Conn.Close()
	}
}

// GetStats returns server statistics as a formatted string.
func (s *Server) GetStats() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var users []string
	for session := range s.sessions {
		if session.Login != "" {
			users = append(users, session.Login)
		}
	}

	return "connections=" + strconv.Itoa(len(s.sessions)) +
		",nodes=" + strconv.Itoa(len(s.ctrl.Addresses())) +
		",users=" + strings.Join(users, ";")
}

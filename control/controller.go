// Package control is the facade the GUI drives: it submits commands to node
// processes, records what they answer and persists the chat traffic those
// answers describe.
package control

import (
	"fmt"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"netchat/chaterr"
	"netchat/ledger"
	"netchat/metrics"
	"netchat/models"
	"netchat/protocol"
)

// maxPending bounds the unmatched outgoing sends remembered per address.
const maxPending = 64

var ErrNotAttached = &chaterr.Error{Kind: chaterr.KindNotFound, Msg: "node address not attached"}

type Mailbox interface {
	Submit(address string, cmd protocol.Command) error
	Poll(address string) (string, bool, error)
}

type Rooms interface {
	AppendMessage(id, sender, content, kind string, file *models.FileInfo) (*models.Message, error)
}

type DirectResolver interface {
	ResolveOrCreate(a, b string) (string, bool, error)
}

// Directory maps node addresses to registered users.
type Directory interface {
	UserByAddress(ip string, port int) (*models.User, error)
}

// Update describes one result taken from a node mailbox.
type Update struct {
	Address    string
	Owner      string
	Content    string
	ObservedAt time.Time

	Result  *protocol.Result // nil when Content did not decode
	RoomID  string
	Created bool // the direct room was created for this update
	Message *models.Message
	Err     error // persistence failure, user facing
}

type pendingSend struct {
	recipient string
	text      string
	roomID    string
}

type Controller struct {
	mailbox  Mailbox
	rooms    Rooms
	resolver DirectResolver
	users    Directory
	ledger   *ledger.Ledger
	logger   zerolog.Logger
	now      func() time.Time

	mu      sync.Mutex
	owners  map[string]string
	pending map[string][]pendingSend
}

// New builds a controller with its own empty ledger. users may be nil, in
// which case peers are stored under their raw address.
func New(mailbox Mailbox, rooms Rooms, resolver DirectResolver, users Directory, ledgerLimit int, logger zerolog.Logger) *Controller {
	return &Controller{
		mailbox:  mailbox,
		rooms:    rooms,
		resolver: resolver,
		users:    users,
		ledger:   ledger.NewWithLimit(ledgerLimit),
		logger:   logger.With().Str("component", "control").Logger(),
		now:      time.Now,
		owners:   make(map[string]string),
		pending:  make(map[string][]pendingSend),
	}
}

// Attach binds a node address to the local user whose traffic it carries.
func (c *Controller) Attach(address, owner string) error {
	if address == "" || owner == "" {
		return chaterr.Invalid("attach", "address and owner required")
	}

	c.mu.Lock()
	c.owners[address] = owner
	n := len(c.owners)
	c.mu.Unlock()

	metrics.AttachedNodes.Set(float64(n))
	c.logger.Info().Str("address", address).Str("owner", owner).Msg("node attached")
	return nil
}

func (c *Controller) Detach(address string) {
	c.mu.Lock()
	delete(c.owners, address)
	delete(c.pending, address)
	n := len(c.owners)
	c.mu.Unlock()

	metrics.AttachedNodes.Set(float64(n))
	c.logger.Info().Str("address", address).Msg("node detached")
}

func (c *Controller) Owner(address string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	owner, ok := c.owners[address]
	return owner, ok
}

// Addresses returns the attached node addresses, sorted.
func (c *Controller) Addresses() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	addrs := make([]string, 0, len(c.owners))
	for addr := range c.owners {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	return addrs
}

func (c *Controller) SubmitInfo(address string) error {
	return c.submit(address, protocol.SubmitInfo())
}

func (c *Controller) PeerConnect(address, peer string) error {
	return c.submit(address, protocol.PeerConnect(peer))
}

func (c *Controller) Exit(address string) error {
	return c.submit(address, protocol.Exit())
}

// Send asks the node to deliver text to recipient. The message is stored in
// the direct room once the node confirms it.
func (c *Controller) Send(address, recipient, text string) error {
	return c.send(address, protocol.SendChat(recipient, text), pendingSend{recipient: recipient, text: text})
}

// SendToRoom is Send with the confirmation stored in roomID instead of the direct room.
func (c *Controller) SendToRoom(address, roomID, recipient, text string) error {
	return c.send(address, protocol.SendChat(recipient, text), pendingSend{recipient: recipient, text: text, roomID: roomID})
}

func (c *Controller) SendFile(address, recipient string, file models.FileInfo) error {
	return c.send(address, protocol.SendFile(recipient, file), pendingSend{recipient: recipient, text: fileContent(&file)})
}

// History is the ledger for address, oldest first.
func (c *Controller) History(address string) []models.LedgerEntry {
	return c.ledger.History(address)
}

func (c *Controller) ClearHistory(address string) {
	c.ledger.Clear(address)
}

// Ledger exposes the controller's ledger for read-only views.
func (c *Controller) Ledger() *ledger.Ledger {
	return c.ledger
}

// PollAndSync performs one poll of address. When the node produced a result it
// is recorded in the ledger, decoded and, for chat traffic, appended to the
// matching room. A nil Update with a nil error means there was nothing to take.
// Undecodable results are logged and reported through Update.Result == nil;
// mailbox I/O failures are returned so the caller retries on its next cycle.
func (c *Controller) PollAndSync(address string) (*Update, error) {
	content, ok, err := c.mailbox.Poll(address)
	if err != nil {
		metrics.Polls.WithLabelValues("io_error").Inc()
		c.logger.Warn().Err(err).Str("address", address).Msg("poll failed")
		return nil, err
	}
	if !ok {
		metrics.Polls.WithLabelValues("empty").Inc()
		return nil, nil
	}
	metrics.Polls.WithLabelValues("result").Inc()

	at := c.now()
	c.ledger.Record(address, content, at)

	owner, _ := c.Owner(address)
	upd := &Update{
		Address:    address,
		Owner:      owner,
		Content:    content,
		ObservedAt: at,
	}

	res, err := protocol.ParseResult(content)
	if err != nil {
		metrics.DecodeErrors.Inc()
		c.logger.Warn().Err(err).Str("address", address).Str("content", content).Msg("undecodable node result")
		return upd, nil
	}
	upd.Result = &res

	if !res.IsChatEvent() {
		c.logger.Debug().Str("address", address).Str("tag", string(res.Tag)).Msg("node status")
		return upd, nil
	}

	if err := c.persist(upd, res); err != nil {
		upd.Err = err
		c.logger.Error().Err(err).Str("address", address).Str("tag", string(res.Tag)).Msg("failed to store chat event")
		return upd, err
	}
	return upd, nil
}

func (c *Controller) persist(upd *Update, res protocol.Result) error {
	if upd.Owner == "" {
		return fmt.Errorf("sync %s: %w", upd.Address, ErrNotAttached)
	}

	peer := c.userFor(res.Peer)
	sender := upd.Owner
	direction := "outgoing"

	var roomID string
	if res.Incoming() {
		sender = peer
		direction = "incoming"
	} else if p, ok := c.takePending(upd.Address, res); ok {
		roomID = p.roomID
	}

	if roomID == "" {
		id, created, err := c.resolver.ResolveOrCreate(upd.Owner, peer)
		if err != nil {
			return fmt.Errorf("resolve direct room %s/%s: %w", upd.Owner, peer, err)
		}
		if created {
			metrics.DirectRoomsCreated.Inc()
			c.logger.Info().Str("room", id).Str("owner", upd.Owner).Str("peer", peer).Msg("direct room created")
		}
		roomID, upd.Created = id, created
	}
	upd.RoomID = roomID

	msg, err := c.rooms.AppendMessage(roomID, sender, res.Content(), res.MessageKind(), res.File)
	if err != nil {
		return err
	}
	upd.Message = msg

	metrics.MessagesStored.WithLabelValues(direction, res.MessageKind()).Inc()
	c.logger.Debug().
		Str("address", upd.Address).
		Str("room", roomID).
		Str("sender", sender).
		Str("kind", res.MessageKind()).
		Msg("chat event stored")
	return nil
}

func (c *Controller) submit(address string, cmd protocol.Command) error {
	if err := c.mailbox.Submit(address, cmd); err != nil {
		c.logger.Warn().Err(err).Str("address", address).Str("tag", string(cmd.Tag)).Msg("submit failed")
		return err
	}
	metrics.CommandsSubmitted.WithLabelValues(string(cmd.Tag)).Inc()
	c.logger.Debug().Str("address", address).Str("tag", string(cmd.Tag)).Msg("command submitted")
	return nil
}

// send records p before submitting so an echo polled right after the write
// still finds it.
func (c *Controller) send(address string, cmd protocol.Command, p pendingSend) error {
	c.mu.Lock()
	queue := append(c.pending[address], p)
	if len(queue) > maxPending {
		queue = queue[len(queue)-maxPending:]
	}
	c.pending[address] = queue
	c.mu.Unlock()

	if err := c.submit(address, cmd); err != nil {
		c.dropPending(address, p)
		return err
	}
	return nil
}

// dropPending removes the most recent entry equal to p.
func (c *Controller) dropPending(address string, p pendingSend) {
	c.mu.Lock()
	defer c.mu.Unlock()

	queue := c.pending[address]
	for i := len(queue) - 1; i >= 0; i-- {
		if queue[i] == p {
			c.pending[address] = append(queue[:i:i], queue[i+1:]...)
			return
		}
	}
}

// takePending finds the send confirmed by res. Older unmatched sends are
// dropped with it: the mailbox keeps only the latest command, so they were
// overwritten before the node saw them.
func (c *Controller) takePending(address string, res protocol.Result) (pendingSend, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	queue := c.pending[address]
	content := res.Text
	if res.File != nil {
		content = fileContent(res.File)
	}
	for i, p := range queue {
		if p.recipient == res.Peer && p.text == content {
			c.pending[address] = queue[i+1:]
			return p, true
		}
	}
	return pendingSend{}, false
}

// userFor maps a peer node address to a username, falling back to the address.
func (c *Controller) userFor(peer string) string {
	if c.users == nil {
		return peer
	}
	host, portStr, err := net.SplitHostPort(peer)
	if err != nil {
		return peer
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return peer
	}

	u, err := c.users.UserByAddress(host, port)
	if err != nil {
		if chaterr.KindOf(err) != chaterr.KindNotFound {
			c.logger.Warn().Err(err).Str("peer", peer).Msg("user lookup failed")
		}
		return peer
	}
	return u.Username
}

func fileContent(f *models.FileInfo) string {
	return "file:" + f.Name
}

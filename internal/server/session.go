package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/efreitasn/marketbroker/internal/domain"
	"github.com/efreitasn/marketbroker/internal/protocol"
	"github.com/google/uuid"
)

// Session is the per-connection agent: it performs the registration
// handshake, reads framed messages, dispatches them by kind and role, and
// owns the single writer that serializes all outbound frames.
type Session struct {
	id   string
	role string
	conn net.Conn

	server *Server
	logger *slog.Logger

	out       chan *protocol.Message
	writeMu   sync.Mutex // serializes raw socket writes
	closeOnce sync.Once
	closed    chan struct{}

	heartbeatMilli atomic.Int64
}

func newSession(conn net.Conn, s *Server, queueSize int) *Session {
	sess := &Session{
		conn:   conn,
		server: s,
		logger: s.logger,
		out:    make(chan *protocol.Message, queueSize),
		closed: make(chan struct{}),
	}
	sess.touchHeartbeat()
	return sess
}

// run drives the session to completion: handshake, then the read loop. On
// any exit path the session deregisters and the socket closes. The seller's
// ledger is left in place — it outlives the session.
func (s *Session) run() {
	defer s.close()

	go s.writeLoop()

	if err := s.handleRegistration(); err != nil {
		s.logger.Warn("registration failed", slog.String("error", err.Error()))
		return
	}

	for {
		msg, err := protocol.ReadFrame(s.conn)
		if err != nil {
			if err == io.EOF || errors.Is(err, net.ErrClosed) {
				s.logger.Info("client disconnected", slog.String("client_id", s.id))
			} else {
				s.logger.Warn("read failed",
					slog.String("client_id", s.id),
					slog.String("error", err.Error()),
				)
				// Framing violations get a final ERROR before the close.
				s.sendFinalError(err.Error())
			}
			return
		}
		s.touchHeartbeat()
		s.handleMessage(msg)
	}
}

// handleRegistration reads exactly one frame and requires it to be REGISTER
// with a valid clientType. Violations get an ERROR reply where possible and
// the connection closes.
func (s *Session) handleRegistration() error {
	msg, err := protocol.ReadFrame(s.conn)
	if err != nil {
		return fmt.Errorf("read registration: %w", err)
	}
	if msg.Type != protocol.TypeRegister {
		s.sendFinalError("first message must be registration")
		return fmt.Errorf("first message was %s", msg.Type)
	}

	clientType := msg.String("clientType")
	if clientType != protocol.RoleBuyer && clientType != protocol.RoleSeller {
		s.sendFinalError(fmt.Sprintf("invalid clientType: %q", clientType))
		return fmt.Errorf("invalid clientType %q", clientType)
	}

	s.role = clientType
	s.id = uuid.New().String()[:8]

	if s.role == protocol.RoleSeller {
		s.server.manager.InitializeSellerStock(s.id)
	}
	s.server.register(s)

	s.send(protocol.NewMessage(protocol.TypeAck, map[string]any{
		"clientId": s.id,
	}, protocol.SenderServer))

	s.logger.Info("client registered",
		slog.String("client_id", s.id),
		slog.String("role", s.role),
	)
	return nil
}

// handleMessage dispatches one post-registration message by kind and role.
// Role violations are answered with ERROR and the session continues.
func (s *Session) handleMessage(msg *protocol.Message) {
	s.server.metrics.MessagesTotal.WithLabelValues(string(msg.Type)).Inc()

	switch msg.Type {
	case protocol.TypeSaleStart:
		if !s.requireRole(protocol.RoleSeller) {
			return
		}
		s.handleSaleStart(msg)
	case protocol.TypeSaleEnd:
		if !s.requireRole(protocol.RoleSeller) {
			return
		}
		s.handleSaleEnd()
	case protocol.TypeBuyRequest:
		if !s.requireRole(protocol.RoleBuyer) {
			return
		}
		s.handleBuyRequest(msg)
	case protocol.TypeListItems:
		s.handleListItems()
	case protocol.TypeHeartbeat:
		// Heartbeats only refresh the timestamp, which run already did.
	default:
		s.logger.Warn("unknown message type",
			slog.String("client_id", s.id),
			slog.String("type", string(msg.Type)),
		)
		s.sendError(fmt.Sprintf("unknown message type: %s", msg.Type))
	}
}

// requireRole replies with ERROR and returns false if the session's role
// differs from want.
func (s *Session) requireRole(want string) bool {
	if s.role == want {
		return true
	}
	s.sendError(fmt.Sprintf("operation not permitted for %s", s.role))
	return false
}

func (s *Session) handleSaleStart(msg *protocol.Message) {
	name := msg.String("name")
	qty, ok := msg.Float("quantity")
	if name == "" || !ok {
		s.sendError("SALE_START requires name and quantity")
		return
	}

	item, err := domain.ParseItemName(name)
	if err != nil {
		s.sendError(err.Error())
		return
	}
	quantity, err := domain.QuantityFromFloat(qty)
	if err != nil {
		s.sendError(err.Error())
		return
	}

	snap, err := s.server.manager.StartSale(s.id, item, quantity)
	if err != nil {
		s.sendError(err.Error())
		return
	}

	s.send(protocol.NewMessage(protocol.TypeSaleStart, map[string]any{
		"success":       true,
		"itemId":        snap.ID,
		"name":          string(snap.Name),
		"quantity":      domain.QuantityToFloat(snap.Quantity),
		"remainingTime": snap.RemainingTime.Milliseconds(),
	}, protocol.SenderServer))

	s.server.broadcastSaleStart(snap.ID, s.id)
	s.server.broadcastStockUpdate()
}

func (s *Session) handleSaleEnd() {
	s.server.manager.EndSellerSales(s.id)

	s.send(protocol.NewMessage(protocol.TypeSaleEnd, map[string]any{
		"success": true,
	}, protocol.SenderServer))

	s.server.broadcastSaleEnd()
	s.server.broadcastStockUpdate()
}

func (s *Session) handleBuyRequest(msg *protocol.Message) {
	saleID := msg.String("itemId")
	qty, ok := msg.Float("quantity")
	if saleID == "" || !ok {
		s.sendError("BUY_REQUEST requires itemId and quantity")
		return
	}

	quantity, err := domain.QuantityFromFloat(qty)
	if err != nil {
		s.sendError(err.Error())
		return
	}

	// Resolve the owner before the buy: the sale may be reaped right after.
	sellerID, _ := s.server.manager.SellerFor(saleID)

	success, err := s.server.manager.HandleBuyRequest(saleID, quantity, s.id)
	if err != nil {
		s.sendError(err.Error())
		return
	}

	s.send(protocol.NewMessage(protocol.TypeBuyResponse, map[string]any{
		"success":  success,
		"itemId":   saleID,
		"quantity": qty,
	}, protocol.SenderServer))

	if success {
		s.server.metrics.PurchasesTotal.Inc()
		s.server.broadcastStockUpdate()
		if sellerID != "" {
			s.server.notifySellerOfPurchase(sellerID, saleID, qty, s.id)
		}
	}
}

func (s *Session) handleListItems() {
	items := s.server.manager.ActiveItems()
	s.send(protocol.NewMessage(protocol.TypeListItems, map[string]any{
		"items": protocol.ItemsPayload(items),
	}, protocol.SenderServer))
}

// send enqueues a frame for this session's writer. Responses and broadcasts
// share the same queue, so frames never interleave on the wire.
func (s *Session) send(msg *protocol.Message) {
	if !s.enqueue(msg) {
		s.fail("outbound queue overflow")
	}
}

func (s *Session) sendError(reason string) {
	s.send(protocol.NewMessage(protocol.TypeError, map[string]any{
		"error": reason,
	}, protocol.SenderServer))
}

// sendFinalError writes an ERROR frame directly, bypassing the queue. Used
// on handshake and framing violations, where the connection closes right
// after. The write mutex keeps it from interleaving with the writer.
func (s *Session) sendFinalError(reason string) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	_ = protocol.WriteFrame(s.conn, protocol.NewMessage(protocol.TypeError, map[string]any{
		"error": reason,
	}, protocol.SenderServer))
}

// enqueue offers a frame to the outbound queue without blocking. It returns
// false if the session is closed or the queue is full.
func (s *Session) enqueue(msg *protocol.Message) bool {
	select {
	case <-s.closed:
		return false
	default:
	}
	select {
	case s.out <- msg:
		return true
	default:
		return false
	}
}

// writeLoop is the session's single writer: it drains the outbound queue in
// FIFO order onto the socket. A write failure tears the session down.
func (s *Session) writeLoop() {
	for {
		select {
		case <-s.closed:
			return
		case msg := <-s.out:
			s.writeMu.Lock()
			err := protocol.WriteFrame(s.conn, msg)
			s.writeMu.Unlock()
			if err != nil {
				s.logger.Warn("write failed",
					slog.String("client_id", s.id),
					slog.String("error", err.Error()),
				)
				s.close()
				return
			}
		}
	}
}

// fail marks the session broken and tears it down. Used by the broadcast
// dispatcher and the heartbeat culler.
func (s *Session) fail(reason string) {
	s.logger.Warn("session failed",
		slog.String("client_id", s.id),
		slog.String("reason", reason),
	)
	s.close()
}

// close tears the session down exactly once: deregisters and closes the
// socket, which also unblocks the read loop.
func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.server.deregister(s)
		_ = s.conn.Close()
		s.logger.Info("client handler closed", slog.String("client_id", s.id))
	})
}

func (s *Session) touchHeartbeat() {
	s.heartbeatMilli.Store(time.Now().UnixMilli())
}

func (s *Session) lastHeartbeat() time.Time {
	return time.UnixMilli(s.heartbeatMilli.Load())
}

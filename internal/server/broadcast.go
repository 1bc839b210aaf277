package server

import (
	"log/slog"

	"github.com/efreitasn/marketbroker/internal/domain"
	"github.com/efreitasn/marketbroker/internal/protocol"
)

// audience selects which sessions receive a broadcast.
type audience int

const (
	audienceBuyers audience = iota // all connected buyers
	audienceAll                    // every registered session
	audienceSeller                 // the one seller identified by sellerID
)

// broadcast is one queued fan-out: a message plus its audience.
type broadcast struct {
	msg      *protocol.Message
	audience audience
	sellerID string // set when audience == audienceSeller
}

// enqueueBroadcast places a broadcast on the shared dispatcher queue without
// blocking the caller. A full queue drops the broadcast; clients recover via
// the next state-changing update or an explicit LIST_ITEMS.
func (s *Server) enqueueBroadcast(b broadcast) {
	select {
	case <-s.done:
		return
	default:
	}
	select {
	case s.broadcasts <- b:
	default:
		s.metrics.BroadcastsDropped.Inc()
		s.logger.Warn("broadcast queue full, dropping", slog.String("type", string(b.msg.Type)))
	}
}

// dispatchBroadcasts is the single consumer of the broadcast queue. On
// shutdown it drains whatever is already queued before exiting.
func (s *Server) dispatchBroadcasts() {
	defer s.wg.Done()
	for {
		select {
		case b := <-s.broadcasts:
			s.deliver(b)
		case <-s.done:
			for {
				select {
				case b := <-s.broadcasts:
					s.deliver(b)
				default:
					return
				}
			}
		}
	}
}

// deliver fans one broadcast out to its audience. Enqueueing to a session is
// non-blocking: a recipient whose queue is full is marked failed and reaped,
// and the remaining deliveries proceed.
func (s *Server) deliver(b broadcast) {
	s.metrics.BroadcastsTotal.WithLabelValues(string(b.msg.Type)).Inc()
	for _, sess := range s.snapshotSessions() {
		switch b.audience {
		case audienceBuyers:
			if sess.role != protocol.RoleBuyer {
				continue
			}
		case audienceSeller:
			if sess.id != b.sellerID {
				continue
			}
		}
		if !sess.enqueue(b.msg) {
			sess.fail("outbound queue overflow")
		}
	}
}

// broadcastStockUpdate sends the current active-sales snapshot to every
// connected buyer.
func (s *Server) broadcastStockUpdate() {
	items := s.manager.ActiveItems()
	s.metrics.SalesActive.Set(float64(len(items)))
	s.enqueueBroadcast(broadcast{
		msg: protocol.NewMessage(protocol.TypeStockUpdate, map[string]any{
			"items": protocol.ItemsPayload(items),
		}, protocol.SenderServer),
		audience: audienceBuyers,
	})
}

// broadcastSaleStart announces a new sale to every session.
func (s *Server) broadcastSaleStart(saleID, sellerID string) {
	s.enqueueBroadcast(broadcast{
		msg: protocol.NewMessage(protocol.TypeSaleStart, map[string]any{
			"itemId":   saleID,
			"sellerId": sellerID,
		}, protocol.SenderServer),
		audience: audienceAll,
	})
}

// broadcastSaleEnd announces closed sales to every session, carrying the
// post-close stock snapshot.
func (s *Server) broadcastSaleEnd() {
	items := s.manager.ActiveItems()
	s.metrics.SalesActive.Set(float64(len(items)))
	s.enqueueBroadcast(broadcast{
		msg: protocol.NewMessage(protocol.TypeSaleEnd, map[string]any{
			"items": protocol.ItemsPayload(items),
		}, protocol.SenderServer),
		audience: audienceAll,
	})
}

// notifySellerOfPurchase targets the owning seller of a purchased sale.
func (s *Server) notifySellerOfPurchase(sellerID, saleID string, quantity float64, buyerID string) {
	s.enqueueBroadcast(broadcast{
		msg: protocol.NewMessage(protocol.TypePurchaseNotification, map[string]any{
			"itemId":   saleID,
			"quantity": quantity,
			"buyerId":  buyerID,
		}, protocol.SenderServer),
		audience: audienceSeller,
		sellerID: sellerID,
	})
}

// SalesExpired implements engine.Notifier: the sweeper reports reclaimed
// sales and the server fans out the resulting state change.
func (s *Server) SalesExpired(closed []domain.SaleSnapshot) {
	s.logger.Info("expired sales reclaimed", slog.Int("count", len(closed)))
	s.broadcastSaleEnd()
	s.broadcastStockUpdate()
}

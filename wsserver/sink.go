package wsserver

import (
	"sync/atomic"

	"github.com/cobaltfleet/fgcore"
	v2 "github.com/cobaltfleet/fgcore/wsprotocol/v2"
	"github.com/cobaltfleet/fgcore/wsprotocol"
)

// ID implements fgcore.Sink.
func (s *Server) ID() fgcore.SinkID { return s.id }

// AutoSubscribe implements fgcore.Sink. The server never auto-
// subscribes; every client must send an explicit Subscribe message
// naming the channels it wants, per the protocol's subscription model.
func (s *Server) AutoSubscribe() bool { return false }

// AddChannels implements fgcore.Sink: it assigns each new channel a
// 32-bit wire id and broadcasts Advertise to every connected client.
// It always returns nil — subscription happens only via explicit
// client Subscribe messages, never automatically.
func (s *Server) AddChannels(channels []fgcore.ChannelDescriptor) []fgcore.ChannelID {
	advertised := make([]wsprotocol.AdvertiseChannel, 0, len(channels))

	s.mu.Lock()
	for _, desc := range channels {
		if _, exists := s.channelsByID[desc.ID]; exists {
			continue
		}
		s.nextServerID++
		wireID := s.nextServerID
		ac := &advertisedChannel{serverID: wireID, desc: desc}
		s.channelsByID[desc.ID] = ac
		s.channelsByWire[wireID] = desc.ID
		s.subsSnapshot[desc.ID] = &atomic.Value{}
		advertised = append(advertised, advertiseChannelFor(ac))
	}
	s.mu.Unlock()

	if len(advertised) > 0 {
		s.broadcastJSON(wsprotocol.Advertise{Op: "advertise", Channels: advertised})
	}
	return nil
}

// RemoveChannel implements fgcore.Sink: it broadcasts Unadvertise and
// drops every client's subscription to the removed channel.
func (s *Server) RemoveChannel(desc fgcore.ChannelDescriptor) {
	s.mu.Lock()
	ac, ok := s.channelsByID[desc.ID]
	if ok {
		delete(s.channelsByID, desc.ID)
		delete(s.channelsByWire, ac.serverID)
		delete(s.subsSnapshot, desc.ID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	s.clients.Range(func(_, v any) bool {
		cl := v.(*client)
		if cl.removeSubscriptionByChannel(desc.ID) {
			s.listenerCb.OnUnsubscribe(cl.id, desc.ID)
		}
		return true
	})

	s.broadcastJSON(wsprotocol.Unadvertise{Op: "unadvertise", ChannelIDs: []uint32{ac.serverID}})
}

// Log implements fgcore.Sink: it fans the message out to every client
// currently subscribed to channel, tagging each copy with that
// client's own subscription id (the wire's MessageData.ChannelID field
// is the subscription id, not the context channel id — this server's
// one channel may be addressed by a different id per client).
func (s *Server) Log(channel *fgcore.Channel, payload []byte, md fgcore.Metadata) error {
	subscribers := s.subscribersOf(channel.ID())
	if len(subscribers) == 0 {
		return nil
	}
	for _, cl := range subscribers {
		subID, ok := cl.subscriptionID(channel.ID())
		if !ok {
			continue
		}
		frame := v2.EncodeMessageData(wsprotocol.MessageData{
			ChannelID: uint64(subID),
			LogTime:   md.LogTime,
			Payload:   payload,
		})
		cl.enqueueBinary(frame, func() {
			s.warnLog.Do(func() {
				s.logger.Warn().Uint32("client_id", uint32(cl.id)).Msg("wsserver: outbound queue full, dropping frame")
			})
		})
	}
	return nil
}

package diffsync

import (
	"sync"

	"github.com/Vishnu2508307/Test-sub032/internal/domain"
	"github.com/Vishnu2508307/Test-sub032/internal/relay"
)

// Session is the runtime aggregate for one (entity, endpoint) pair.
// Its mutex serializes every protocol operation for the pair, which is
// the mutual-exclusion unit the protocol requires: different entities,
// or different endpoints of one entity, proceed fully in parallel.
type Session struct {
	entity   domain.EntityRef
	endpoint domain.EndpointRef

	mu       sync.Mutex
	ended    bool
	channel  relay.Channel
	shadow   *domain.Shadow
	backup   *domain.Backup
	outbound []outboundEntry
}

// outboundEntry tracks a message forwarded to the session's channel and
// the server version the client will hold once it applies it. Acks
// prune entries at or below the confirmed version.
type outboundEntry struct {
	m   uint64
	msg *domain.Message
}

func (s *Session) Entity() domain.EntityRef {
	return s.entity
}

func (s *Session) Endpoint() domain.EndpointRef {
	return s.endpoint
}

// Version returns the session's current version pair, or the zero pair
// once the session has ended.
func (s *Session) Version() domain.VersionPair {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended || s.shadow == nil {
		return domain.VersionPair{}
	}
	return s.shadow.Version
}

// channelRef snapshots the bound channel. Reconnects rebind it under
// the session lock, so readers outside a protocol operation go through
// here.
func (s *Session) channelRef() relay.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channel
}

func (s *Session) recordOutbound(msg *domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ended || s.shadow == nil {
		return
	}
	next := s.shadow.Version.M + uint64(len(s.outbound)) + 1
	s.outbound = append(s.outbound, outboundEntry{m: next, msg: msg})
}

func (s *Session) pruneOutbound(confirmed uint64) {
	kept := s.outbound[:0]
	for _, entry := range s.outbound {
		if entry.m > confirmed {
			kept = append(kept, entry)
		}
	}
	s.outbound = kept
}

// sessionChannel wraps the session's channel for relay registration so
// every forwarded broadcast is recorded for ack-based pruning before it
// goes down the wire.
type sessionChannel struct {
	session *Session
}

func (c *sessionChannel) ID() string {
	return c.session.channelRef().ID()
}

func (c *sessionChannel) Push(msg *domain.Message) error {
	if msg.Type == domain.TypePatch {
		c.session.recordOutbound(msg)
	}
	return c.session.channelRef().Push(msg)
}

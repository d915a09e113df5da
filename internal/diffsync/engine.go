package diffsync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/Vishnu2508307/Test-sub032/internal/domain"
	"github.com/Vishnu2508307/Test-sub032/internal/patch"
	"github.com/Vishnu2508307/Test-sub032/internal/relay"
	"github.com/Vishnu2508307/Test-sub032/internal/repository"
	"github.com/Vishnu2508307/Test-sub032/pkg/hash"
)

// Engine drives the differential-synchronization protocol. It owns the
// active sessions of one server process and wires them to the shadow
// store, the patch engine and the cross-process relay.
type Engine struct {
	shadows   repository.ShadowRepository
	backups   repository.BackupRepository
	documents repository.DocumentRepository
	patcher   patch.Engine
	relay     *relay.Relay
	serverID  string

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewEngine(
	shadows repository.ShadowRepository,
	backups repository.BackupRepository,
	documents repository.DocumentRepository,
	patcher patch.Engine,
	rel *relay.Relay,
	serverID string,
) *Engine {
	return &Engine{
		shadows:   shadows,
		backups:   backups,
		documents: documents,
		patcher:   patcher,
		relay:     rel,
		serverID:  serverID,
		sessions:  make(map[string]*Session),
	}
}

func (e *Engine) ServerID() string {
	return e.serverID
}

func sessionKey(entity domain.EntityRef, endpoint domain.EndpointRef) string {
	return entity.Key() + "|" + endpoint.Key()
}

// Start brings a session to ACTIVE. A first-time start snapshots the
// authoritative content into a fresh {0,0} shadow and mirrors it into a
// backup; a resumed session reuses the stored shadow as-is, versions
// included. The channel is subscribed to the entity's relay topic.
func (e *Engine) Start(ctx context.Context, entity domain.EntityRef, endpoint domain.EndpointRef, ch relay.Channel) (*Session, error) {
	if entity.IsZero() {
		return nil, ErrInvalidEntity
	}

	key := sessionKey(entity, endpoint)

	var session *Session
	for {
		e.mu.Lock()
		s, exists := e.sessions[key]
		if !exists {
			s = &Session{
				entity:   entity,
				endpoint: endpoint,
				channel:  ch,
			}
			e.sessions[key] = s
		}
		e.mu.Unlock()

		s.mu.Lock()
		if s.ended {
			// Lost the race with a concurrent End; that session is
			// dead and already off the map. Take a fresh one.
			s.mu.Unlock()
			e.dropSession(key, s)
			continue
		}
		s.channel = ch
		if s.shadow == nil {
			if err := e.establishShadow(ctx, s); err != nil {
				s.mu.Unlock()
				e.dropSession(key, s)
				return nil, err
			}
		}
		s.mu.Unlock()
		session = s
		break
	}

	if err := e.relay.Subscribe(ctx, entity, endpoint, &sessionChannel{session: session}); err != nil {
		return nil, err
	}

	log.Printf("diffsync: session started for %s as %s (version %+v)",
		entity.Key(), endpoint.Key(), session.Version())

	return session, nil
}

// establishShadow loads the stored shadow/backup pair, or creates both
// from the authoritative content when the pair never synced before.
// Caller holds the session lock.
func (e *Engine) establishShadow(ctx context.Context, s *Session) error {
	shadow, err := e.shadows.Load(ctx, s.entity, s.endpoint)
	if err != nil {
		return fmt.Errorf("failed to load shadow: %w", err)
	}

	if shadow != nil {
		backup, err := e.backups.Load(ctx, s.entity, s.endpoint)
		if err != nil {
			return fmt.Errorf("failed to load backup: %w", err)
		}
		s.shadow = shadow
		s.backup = backup
		return nil
	}

	doc, err := e.documents.Fetch(ctx, s.entity)
	if err != nil {
		return fmt.Errorf("failed to fetch document: %w", err)
	}
	if doc == nil {
		doc = &domain.Document{
			EntityRef: s.entity,
			Content:   "",
			Version:   0,
		}
		if err := e.documents.Save(ctx, doc); err != nil {
			return fmt.Errorf("failed to create document: %w", err)
		}
	}

	shadow = &domain.Shadow{
		EntityRef:   s.entity,
		EndpointRef: s.endpoint,
		Content:     doc.Content,
		Version:     domain.VersionPair{N: 0, M: 0},
		UpdatedAt:   time.Now(),
	}
	if err := e.shadows.Save(ctx, shadow); err != nil {
		return fmt.Errorf("failed to save shadow: %w", err)
	}

	backup := shadow.Snapshot()
	if err := e.backups.Save(ctx, backup); err != nil {
		return fmt.Errorf("failed to save backup: %w", err)
	}

	s.shadow = shadow
	s.backup = backup
	return nil
}

// SyncPatch applies an ordered batch of client patches to the session's
// shadow, merges each accepted patch into the authoritative document,
// and broadcasts the result. Processing is sequential: a hard failure
// aborts the remaining patches. Duplicates and recoverable version
// mismatches never hard-fail.
func (e *Engine) SyncPatch(ctx context.Context, entity domain.EntityRef, endpoint domain.EndpointRef, patches []domain.Patch) (*domain.Ack, error) {
	if entity.IsZero() {
		return nil, ErrInvalidEntity
	}
	if len(patches) == 0 {
		return nil, ErrEmptyPatchList
	}

	session := e.lookup(entity, endpoint)
	if session == nil {
		return nil, ErrSessionNotFound
	}

	session.mu.Lock()
	if session.ended {
		// End won the race after our lookup; the session is gone.
		session.mu.Unlock()
		return nil, ErrSessionNotFound
	}

	var accepted []domain.Patch
	var mergedContent string
	for i := range patches {
		applied, content, err := e.applyPatch(ctx, session, &patches[i])
		if err != nil {
			session.mu.Unlock()
			return nil, err
		}
		if applied {
			accepted = append(accepted, patches[i])
			mergedContent = content
		}
	}

	ack := &domain.Ack{
		ID:       patches[len(patches)-1].ID,
		ClientID: endpoint.ClientID,
		N:        session.shadow.Version.N,
		M:        session.shadow.Version.M,
	}
	version := session.shadow.Version
	session.mu.Unlock()

	// Publishing happens outside the session lock: the relay path must
	// never hold a per-key lock while fanning out.
	if len(accepted) > 0 {
		msg, err := domain.NewBroadcastMessage(domain.TypePatch, entity, endpoint, &domain.PatchBroadcast{
			Patches: accepted,
			Version: version,
			Content: mergedContent,
		})
		if err != nil {
			log.Printf("diffsync: failed to build broadcast for %s: %v", entity.Key(), err)
		} else if err := e.relay.Publish(ctx, entity, msg); err != nil {
			log.Printf("diffsync: dropping broadcast for %s: %v", entity.Key(), err)
		}
	}

	return ack, nil
}

// applyPatch runs one patch through the protocol steps. It reports
// whether the patch advanced the shadow; duplicates and unrecovered
// mismatches return (false, "", nil). Caller holds the session lock.
func (e *Engine) applyPatch(ctx context.Context, s *Session, p *domain.Patch) (bool, string, error) {
	// A patch behind the accepted edit count is a retransmit. Nothing
	// to apply; the ack the caller builds repeats the earlier one.
	if p.N < s.shadow.Version.N {
		log.Printf("diffsync: duplicate patch %s for %s (n=%d, have %d)",
			p.ID, s.entity.Key(), p.N, s.shadow.Version.N)
		return false, "", nil
	}

	if p.M != s.shadow.Version.M {
		if err := e.recoverFromBackup(ctx, s); err != nil {
			return false, "", err
		}
		if p.M != s.shadow.Version.M {
			// The sender is behind even the confirmed-good state; it
			// must resend from there. n does not advance.
			log.Printf("diffsync: patch %s for %s still mismatched after recovery (m=%d, have %d), awaiting resend",
				p.ID, s.entity.Key(), p.M, s.shadow.Version.M)
			return false, "", nil
		}
		if p.N < s.shadow.Version.N {
			return false, "", nil
		}
	}

	patched, clean, err := e.patcher.Apply(s.shadow.Content, p.Edits)
	if err != nil {
		return false, "", fmt.Errorf("failed to apply patch %s to shadow: %w", p.ID, err)
	}
	if !clean {
		log.Printf("diffsync: patch %s applied partially to shadow of %s; next cycle reconciles",
			p.ID, s.entity.Key())
	}

	merged, err := e.mergeDocument(ctx, s.entity, p.Edits)
	if err != nil {
		return false, "", err
	}

	candidate := *s.shadow
	candidate.Content = patched
	candidate.Version.N++
	candidate.UpdatedAt = time.Now()

	if err := e.shadows.Save(ctx, &candidate); err != nil {
		return false, "", fmt.Errorf("failed to persist shadow: %w", err)
	}
	s.shadow = &candidate

	backup := candidate.Snapshot()
	if err := e.backups.Save(ctx, backup); err != nil {
		return false, "", fmt.Errorf("failed to persist backup: %w", err)
	}
	s.backup = backup

	log.Printf("diffsync: accepted patch %s for %s (version %+v, checksum %s)",
		p.ID, s.entity.Key(), candidate.Version, hash.ShortChecksum(candidate.Content))

	return true, merged, nil
}

// recoverFromBackup rewinds the shadow to the last confirmed-good state
// and persists the rewound copy. Missing backup is terminal for the
// call; the session stays ACTIVE for a start-driven resync.
func (e *Engine) recoverFromBackup(ctx context.Context, s *Session) error {
	backup := s.backup
	if backup == nil {
		loaded, err := e.backups.Load(ctx, s.entity, s.endpoint)
		if err != nil {
			return fmt.Errorf("failed to load backup: %w", err)
		}
		backup = loaded
	}
	if backup == nil {
		return ErrBackupMissing
	}

	log.Printf("diffsync: version mismatch for %s as %s, rewinding shadow %+v -> %+v",
		s.entity.Key(), s.endpoint.Key(), s.shadow.Version, backup.Version)

	s.shadow.Restore(backup)
	s.backup = backup

	if err := e.shadows.Save(ctx, s.shadow); err != nil {
		return fmt.Errorf("failed to persist rewound shadow: %w", err)
	}

	return nil
}

// mergeDocument re-applies the accepted edits to the authoritative
// content. Fuzzy application governs conflicting hunks: hunks that no
// longer fit are dropped and flagged, matching the patch contract.
func (e *Engine) mergeDocument(ctx context.Context, entity domain.EntityRef, edits string) (string, error) {
	doc, err := e.documents.Fetch(ctx, entity)
	if err != nil {
		return "", fmt.Errorf("failed to fetch document for merge: %w", err)
	}
	if doc == nil {
		return "", ErrDocumentMissing
	}

	merged, clean, err := e.patcher.Apply(doc.Content, edits)
	if err != nil {
		return "", fmt.Errorf("failed to merge into document: %w", err)
	}
	if !clean {
		log.Printf("diffsync: merge into %s dropped hunks; server content wins until next cycle", entity.Key())
	}

	doc.Content = merged
	doc.Version++
	if err := e.documents.Save(ctx, doc); err != nil {
		return "", fmt.Errorf("failed to save merged document: %w", err)
	}

	return merged, nil
}

// SyncAck advances the server edit counter to what the client has
// confirmed and prunes the outbound buffer. M only moves forward, so
// out-of-order ack delivery is safe.
func (e *Engine) SyncAck(ctx context.Context, entity domain.EntityRef, endpoint domain.EndpointRef, ack domain.Ack) error {
	if entity.IsZero() {
		return ErrInvalidEntity
	}

	session := e.lookup(entity, endpoint)
	if session == nil {
		return ErrSessionNotFound
	}

	session.mu.Lock()
	if session.ended {
		session.mu.Unlock()
		return ErrSessionNotFound
	}
	if ack.M > session.shadow.Version.M {
		candidate := *session.shadow
		candidate.Version.M = ack.M
		candidate.UpdatedAt = time.Now()

		if err := e.shadows.Save(ctx, &candidate); err != nil {
			session.mu.Unlock()
			return fmt.Errorf("failed to persist acked shadow: %w", err)
		}
		session.shadow = &candidate
	}
	session.pruneOutbound(ack.M)
	version := session.shadow.Version
	session.mu.Unlock()

	msg, err := domain.NewBroadcastMessage(domain.TypeAck, entity, endpoint, &domain.AckBroadcast{
		Version: version,
	})
	if err != nil {
		log.Printf("diffsync: failed to build ack broadcast for %s: %v", entity.Key(), err)
		return nil
	}
	if err := e.relay.Publish(ctx, entity, msg); err != nil {
		log.Printf("diffsync: dropping ack broadcast for %s: %v", entity.Key(), err)
	}

	return nil
}

// End tears a session down: shadow and backup rows are deleted, the
// relay subscription released, the session forgotten. Ending a session
// that was never started is a no-op. An operation racing End waits for
// the session lock, observes the ended flag and fails with
// ErrSessionNotFound; teardown never resurrects state.
func (e *Engine) End(ctx context.Context, entity domain.EntityRef, endpoint domain.EndpointRef) error {
	if entity.IsZero() {
		return ErrInvalidEntity
	}

	key := sessionKey(entity, endpoint)

	e.mu.Lock()
	session := e.sessions[key]
	delete(e.sessions, key)
	e.mu.Unlock()

	if session != nil {
		// The flag, not a nil shadow, is what concurrent operations
		// observe: a patch that grabbed the pointer before the map
		// removal takes the session lock, sees ended and reports the
		// session gone instead of touching torn-down state.
		session.mu.Lock()
		session.ended = true
		session.shadow = nil
		session.backup = nil
		session.outbound = nil
		session.mu.Unlock()
	}

	if err := e.relay.Unsubscribe(entity, endpoint); err != nil && !errors.Is(err, relay.ErrNotSubscribed) {
		log.Printf("diffsync: failed to unsubscribe %s from %s: %v", endpoint.Key(), entity.Key(), err)
	}

	if err := e.shadows.Delete(ctx, entity, endpoint); err != nil {
		return fmt.Errorf("failed to delete shadow: %w", err)
	}
	if err := e.backups.Delete(ctx, entity, endpoint); err != nil {
		return fmt.Errorf("failed to delete backup: %w", err)
	}

	log.Printf("diffsync: session ended for %s as %s", entity.Key(), endpoint.Key())
	return nil
}

// ReleaseChannel detaches every session bound to a disconnected
// channel. Shadow and backup rows stay put: a reconnect with the same
// endpoint resumes where it left off.
func (e *Engine) ReleaseChannel(channelID string) {
	e.mu.Lock()
	var released []*Session
	for key, session := range e.sessions {
		if session.channelRef().ID() == channelID {
			released = append(released, session)
			delete(e.sessions, key)
		}
	}
	e.mu.Unlock()

	for _, session := range released {
		if err := e.relay.Unsubscribe(session.entity, session.endpoint); err != nil && !errors.Is(err, relay.ErrNotSubscribed) {
			log.Printf("diffsync: failed to unsubscribe %s on disconnect: %v", session.endpoint.Key(), err)
		}
	}

	if len(released) > 0 {
		log.Printf("diffsync: released %d session(s) for channel %s", len(released), channelID)
	}
}

func (e *Engine) lookup(entity domain.EntityRef, endpoint domain.EndpointRef) *Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessions[sessionKey(entity, endpoint)]
}

func (e *Engine) dropSession(key string, s *Session) {
	e.mu.Lock()
	if e.sessions[key] == s {
		delete(e.sessions, key)
	}
	e.mu.Unlock()
}

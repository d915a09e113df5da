package domain

import "time"

// Shadow is the server's best current copy of what one endpoint holds.
// Exactly one live shadow exists per (entity, endpoint) pair; it is
// overwritten in place on every successful patch cycle.
type Shadow struct {
	EntityRef   EntityRef   `json:"entity_ref"`
	EndpointRef EndpointRef `json:"endpoint_ref"`
	Content     string      `json:"content"`
	Version     VersionPair `json:"version"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Backup is a point-in-time copy of a confirmed-good shadow, kept so a
// version mismatch can be walked back instead of corrupting the shadow.
type Backup struct {
	EntityRef   EntityRef   `json:"entity_ref"`
	EndpointRef EndpointRef `json:"endpoint_ref"`
	Content     string      `json:"content"`
	Version     VersionPair `json:"version"`
}

// Snapshot copies the shadow's current state into a backup. The copy is
// by value so later shadow mutations never leak into the backup.
func (s *Shadow) Snapshot() *Backup {
	return &Backup{
		EntityRef:   s.EntityRef,
		EndpointRef: s.EndpointRef,
		Content:     s.Content,
		Version:     s.Version,
	}
}

// Restore rewinds the shadow to the backup's confirmed-good state.
func (s *Shadow) Restore(b *Backup) {
	s.Content = b.Content
	s.Version = b.Version
	s.UpdatedAt = time.Now()
}

// Document is the authoritative content the shadows approximate. The
// engine merges every accepted patch forward into it.
type Document struct {
	EntityRef EntityRef `json:"entity_ref"`
	Content   string    `json:"content"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

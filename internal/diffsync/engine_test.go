package diffsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/Vishnu2508307/Test-sub032/internal/domain"
	"github.com/Vishnu2508307/Test-sub032/internal/patch"
	"github.com/Vishnu2508307/Test-sub032/internal/relay"
)

type mockShadowRepo struct {
	mu      sync.Mutex
	shadows map[string]domain.Shadow
}

func newMockShadowRepo() *mockShadowRepo {
	return &mockShadowRepo{shadows: make(map[string]domain.Shadow)}
}

func shadowKey(entity domain.EntityRef, endpoint domain.EndpointRef) string {
	return entity.Key() + "|" + endpoint.Key()
}

func (m *mockShadowRepo) Load(_ context.Context, entity domain.EntityRef, endpoint domain.EndpointRef) (*domain.Shadow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.shadows[shadowKey(entity, endpoint)]; ok {
		copied := s
		return &copied, nil
	}
	return nil, nil
}

func (m *mockShadowRepo) Save(_ context.Context, shadow *domain.Shadow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shadows[shadowKey(shadow.EntityRef, shadow.EndpointRef)] = *shadow
	return nil
}

func (m *mockShadowRepo) Delete(_ context.Context, entity domain.EntityRef, endpoint domain.EndpointRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.shadows, shadowKey(entity, endpoint))
	return nil
}

type mockBackupRepo struct {
	mu      sync.Mutex
	backups map[string]domain.Backup
	saveErr error
}

func newMockBackupRepo() *mockBackupRepo {
	return &mockBackupRepo{backups: make(map[string]domain.Backup)}
}

func (m *mockBackupRepo) Load(_ context.Context, entity domain.EntityRef, endpoint domain.EndpointRef) (*domain.Backup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.backups[shadowKey(entity, endpoint)]; ok {
		copied := b
		return &copied, nil
	}
	return nil, nil
}

func (m *mockBackupRepo) Save(_ context.Context, backup *domain.Backup) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.backups[shadowKey(backup.EntityRef, backup.EndpointRef)] = *backup
	return nil
}

func (m *mockBackupRepo) Delete(_ context.Context, entity domain.EntityRef, endpoint domain.EndpointRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.backups, shadowKey(entity, endpoint))
	return nil
}

type mockDocumentRepo struct {
	mu   sync.Mutex
	docs map[string]domain.Document
}

func newMockDocumentRepo() *mockDocumentRepo {
	return &mockDocumentRepo{docs: make(map[string]domain.Document)}
}

func (m *mockDocumentRepo) Fetch(_ context.Context, entity domain.EntityRef) (*domain.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.docs[entity.Key()]; ok {
		copied := d
		return &copied, nil
	}
	return nil, nil
}

func (m *mockDocumentRepo) Save(_ context.Context, document *domain.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[document.EntityRef.Key()] = *document
	return nil
}

func (m *mockDocumentRepo) content(entity domain.EntityRef) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.docs[entity.Key()].Content
}

type nullChannel struct {
	id string

	mu       sync.Mutex
	received []*domain.Message
}

func (c *nullChannel) ID() string {
	return c.id
}

func (c *nullChannel) Push(msg *domain.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.received = append(c.received, msg)
	return nil
}

func (c *nullChannel) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.received)
}

type fixture struct {
	engine    *Engine
	shadows   *mockShadowRepo
	backups   *mockBackupRepo
	documents *mockDocumentRepo
	broker    *relay.MemoryBroker
	patcher   patch.Engine
}

func newFixture() *fixture {
	shadows := newMockShadowRepo()
	backups := newMockBackupRepo()
	documents := newMockDocumentRepo()
	broker := relay.NewMemoryBroker()
	patcher := patch.NewDiffMatchPatch()

	return &fixture{
		engine:    NewEngine(shadows, backups, documents, patcher, relay.New(broker, 0), "server-1"),
		shadows:   shadows,
		backups:   backups,
		documents: documents,
		broker:    broker,
		patcher:   patcher,
	}
}

func (f *fixture) edits(t *testing.T, old, new string) string {
	t.Helper()
	edits, err := f.patcher.Diff(old, new)
	if err != nil {
		t.Fatalf("diff failed: %v", err)
	}
	return edits
}

func TestEngine_StartCreatesShadowAndBackup(t *testing.T) {
	f := newFixture()
	entity := domain.NewEntityRef(domain.EntityTypeDocument, "doc-1")
	endpoint := domain.ClientEndpoint("client-a", "server-1")

	f.documents.Save(context.Background(), &domain.Document{EntityRef: entity, Content: "seed content"})

	session, err := f.engine.Start(context.Background(), entity, endpoint, &nullChannel{id: "conn-a"})
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	if v := session.Version(); v.N != 0 || v.M != 0 {
		t.Errorf("fresh session version = %+v, want {0 0}", v)
	}

	shadow, _ := f.shadows.Load(context.Background(), entity, endpoint)
	if shadow == nil {
		t.Fatal("expected shadow row after Start")
	}
	if shadow.Content != "seed content" {
		t.Errorf("shadow content = %q, want authoritative snapshot", shadow.Content)
	}

	backup, _ := f.backups.Load(context.Background(), entity, endpoint)
	if backup == nil {
		t.Fatal("expected backup row after Start")
	}
	if backup.Content != "seed content" || !backup.Version.Equal(shadow.Version) {
		t.Error("backup is not a snapshot of the fresh shadow")
	}
}

func TestEngine_StartResumesExistingShadow(t *testing.T) {
	f := newFixture()
	entity := domain.NewEntityRef(domain.EntityTypeDocument, "doc-1")
	endpoint := domain.ClientEndpoint("client-a", "server-1")

	f.shadows.Save(context.Background(), &domain.Shadow{
		EntityRef:   entity,
		EndpointRef: endpoint,
		Content:     "prior state",
		Version:     domain.VersionPair{N: 4, M: 2},
	})
	f.backups.Save(context.Background(), &domain.Backup{
		EntityRef:   entity,
		EndpointRef: endpoint,
		Content:     "prior state",
		Version:     domain.VersionPair{N: 4, M: 2},
	})

	session, err := f.engine.Start(context.Background(), entity, endpoint, &nullChannel{id: "conn-a"})
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	if v := session.Version(); v.N != 4 || v.M != 2 {
		t.Errorf("resumed session version = %+v, want {4 2}", v)
	}
}

func TestEngine_SyncPatchAdvancesVersionAndBroadcasts(t *testing.T) {
	f := newFixture()
	entity := domain.NewEntityRef(domain.EntityTypeDocument, "doc-1")
	author := domain.ClientEndpoint("client-a", "server-1")
	listener := domain.ClientEndpoint("client-b", "server-1")

	f.documents.Save(context.Background(), &domain.Document{EntityRef: entity, Content: "hello"})

	if _, err := f.engine.Start(context.Background(), entity, author, &nullChannel{id: "conn-a"}); err != nil {
		t.Fatalf("Start(author) error: %v", err)
	}
	listenerCh := &nullChannel{id: "conn-b"}
	if _, err := f.engine.Start(context.Background(), entity, listener, listenerCh); err != nil {
		t.Fatalf("Start(listener) error: %v", err)
	}

	ack, err := f.engine.SyncPatch(context.Background(), entity, author, []domain.Patch{{
		ID:       "p1",
		ClientID: "client-a",
		N:        0,
		M:        0,
		Edits:    f.edits(t, "hello", "hello world"),
	}})
	if err != nil {
		t.Fatalf("SyncPatch() error: %v", err)
	}

	if ack.N != 1 || ack.M != 0 {
		t.Errorf("ack = {n:%d m:%d}, want {n:1 m:0}", ack.N, ack.M)
	}

	shadow, _ := f.shadows.Load(context.Background(), entity, author)
	if shadow.Version.N != 1 || shadow.Version.M != 0 {
		t.Errorf("shadow version = %+v, want {1 0}", shadow.Version)
	}
	if shadow.Content != "hello world" {
		t.Errorf("shadow content = %q, want %q", shadow.Content, "hello world")
	}

	backup, _ := f.backups.Load(context.Background(), entity, author)
	if backup == nil || backup.Content != "hello world" || backup.Version.N != 1 {
		t.Error("backup was not refreshed after the successful cycle")
	}

	if f.documents.content(entity) != "hello world" {
		t.Errorf("authoritative content = %q, want merged edit", f.documents.content(entity))
	}

	if got := listenerCh.count(); got != 1 {
		t.Errorf("other subscriber received %d broadcast(s), want 1", got)
	}
}

func TestEngine_DuplicatePatchIsIdempotent(t *testing.T) {
	f := newFixture()
	entity := domain.NewEntityRef(domain.EntityTypeDocument, "doc-1")
	author := domain.ClientEndpoint("client-a", "server-1")

	f.documents.Save(context.Background(), &domain.Document{EntityRef: entity, Content: "hello"})

	if _, err := f.engine.Start(context.Background(), entity, author, &nullChannel{id: "conn-a"}); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	p := domain.Patch{
		ID:       "p1",
		ClientID: "client-a",
		N:        0,
		M:        0,
		Edits:    f.edits(t, "hello", "hello world"),
	}

	first, err := f.engine.SyncPatch(context.Background(), entity, author, []domain.Patch{p})
	if err != nil {
		t.Fatalf("first SyncPatch() error: %v", err)
	}

	second, err := f.engine.SyncPatch(context.Background(), entity, author, []domain.Patch{p})
	if err != nil {
		t.Fatalf("retransmitted SyncPatch() error: %v", err)
	}

	if second.N != first.N || second.M != first.M {
		t.Errorf("retransmit ack = {n:%d m:%d}, want identical {n:%d m:%d}",
			second.N, second.M, first.N, first.M)
	}

	shadow, _ := f.shadows.Load(context.Background(), entity, author)
	if shadow.Content != "hello world" {
		t.Errorf("duplicate changed content to %q", shadow.Content)
	}
	if shadow.Version.N != 1 {
		t.Errorf("duplicate advanced n to %d", shadow.Version.N)
	}
}

func TestEngine_VersionMismatchRecoversFromBackup(t *testing.T) {
	f := newFixture()
	entity := domain.NewEntityRef(domain.EntityTypeDocument, "doc-1")
	author := domain.ClientEndpoint("client-a", "server-1")

	f.documents.Save(context.Background(), &domain.Document{EntityRef: entity, Content: "base"})

	if _, err := f.engine.Start(context.Background(), entity, author, &nullChannel{id: "conn-a"}); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	// Put the live shadow ahead of the client's view of m, as if a
	// server edit got lost on the way down.
	session := f.engine.lookup(entity, author)
	session.mu.Lock()
	session.shadow.Content = "base plus lost server edit"
	session.shadow.Version.M = 3
	session.mu.Unlock()

	ack, err := f.engine.SyncPatch(context.Background(), entity, author, []domain.Patch{{
		ID:       "p1",
		ClientID: "client-a",
		N:        0,
		M:        0, // stale: matches the backup, not the live shadow
		Edits:    f.edits(t, "base", "base edited"),
	}})
	if err != nil {
		t.Fatalf("SyncPatch() error: %v", err)
	}

	if ack.N != 1 || ack.M != 0 {
		t.Errorf("ack after recovery = {n:%d m:%d}, want {n:1 m:0}", ack.N, ack.M)
	}

	shadow, _ := f.shadows.Load(context.Background(), entity, author)
	if shadow.Content != "base edited" {
		t.Errorf("shadow after recovery = %q, want clean backup-based merge", shadow.Content)
	}
}

func TestEngine_MismatchWithoutBackupIsTerminal(t *testing.T) {
	f := newFixture()
	entity := domain.NewEntityRef(domain.EntityTypeDocument, "doc-1")
	author := domain.ClientEndpoint("client-a", "server-1")

	f.documents.Save(context.Background(), &domain.Document{EntityRef: entity, Content: "base"})

	if _, err := f.engine.Start(context.Background(), entity, author, &nullChannel{id: "conn-a"}); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	// Drop the backup and diverge the shadow.
	f.backups.Delete(context.Background(), entity, author)
	session := f.engine.lookup(entity, author)
	session.mu.Lock()
	session.backup = nil
	session.shadow.Version.M = 3
	session.mu.Unlock()

	_, err := f.engine.SyncPatch(context.Background(), entity, author, []domain.Patch{{
		ID: "p1", ClientID: "client-a", N: 0, M: 0, Edits: f.edits(t, "base", "base edited"),
	}})
	if !errors.Is(err, ErrBackupMissing) {
		t.Errorf("got %v, want ErrBackupMissing", err)
	}

	// The session survives the hard failure.
	if f.engine.lookup(entity, author) == nil {
		t.Error("session was torn down by a recoverable-path hard failure")
	}
}

func TestEngine_VersionsAreMonotonic(t *testing.T) {
	f := newFixture()
	entity := domain.NewEntityRef(domain.EntityTypeDocument, "doc-1")
	author := domain.ClientEndpoint("client-a", "server-1")

	f.documents.Save(context.Background(), &domain.Document{EntityRef: entity, Content: ""})

	if _, err := f.engine.Start(context.Background(), entity, author, &nullChannel{id: "conn-a"}); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	contents := []string{"a", "ab", "abc"}
	prev := ""
	var lastN uint64
	for i, next := range contents {
		ack, err := f.engine.SyncPatch(context.Background(), entity, author, []domain.Patch{{
			ID: "p", ClientID: "client-a", N: uint64(i), M: 0, Edits: f.edits(t, prev, next),
		}})
		if err != nil {
			t.Fatalf("SyncPatch(%d) error: %v", i, err)
		}
		if ack.N < lastN {
			t.Errorf("n went backwards: %d after %d", ack.N, lastN)
		}
		lastN = ack.N
		prev = next
	}

	if err := f.engine.SyncAck(context.Background(), entity, author, domain.Ack{N: lastN, M: 2}); err != nil {
		t.Fatalf("SyncAck() error: %v", err)
	}
	// A stale ack must not rewind m.
	if err := f.engine.SyncAck(context.Background(), entity, author, domain.Ack{N: lastN, M: 1}); err != nil {
		t.Fatalf("stale SyncAck() error: %v", err)
	}

	shadow, _ := f.shadows.Load(context.Background(), entity, author)
	if shadow.Version.M != 2 {
		t.Errorf("m = %d after stale ack, want 2", shadow.Version.M)
	}
}

func TestEngine_OrderedBatchStopsOnHardFailure(t *testing.T) {
	f := newFixture()
	entity := domain.NewEntityRef(domain.EntityTypeDocument, "doc-1")
	author := domain.ClientEndpoint("client-a", "server-1")

	f.documents.Save(context.Background(), &domain.Document{EntityRef: entity, Content: "base"})

	if _, err := f.engine.Start(context.Background(), entity, author, &nullChannel{id: "conn-a"}); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	goodEdits := f.edits(t, "base", "base one")
	_, err := f.engine.SyncPatch(context.Background(), entity, author, []domain.Patch{
		{ID: "p1", ClientID: "client-a", N: 0, M: 0, Edits: goodEdits},
		{ID: "p2", ClientID: "client-a", N: 1, M: 0, Edits: "garbage edits"},
		{ID: "p3", ClientID: "client-a", N: 2, M: 0, Edits: goodEdits},
	})
	if err == nil {
		t.Fatal("expected hard failure from malformed edits")
	}

	// The first patch landed, the rest did not.
	shadow, _ := f.shadows.Load(context.Background(), entity, author)
	if shadow.Version.N != 1 {
		t.Errorf("n = %d after aborted batch, want 1", shadow.Version.N)
	}
}

func TestEngine_Isolation(t *testing.T) {
	f := newFixture()
	docOne := domain.NewEntityRef(domain.EntityTypeDocument, "doc-1")
	docTwo := domain.NewEntityRef(domain.EntityTypeDocument, "doc-2")
	author := domain.ClientEndpoint("client-a", "server-1")

	f.documents.Save(context.Background(), &domain.Document{EntityRef: docOne, Content: "one"})
	f.documents.Save(context.Background(), &domain.Document{EntityRef: docTwo, Content: "two"})

	if _, err := f.engine.Start(context.Background(), docOne, author, &nullChannel{id: "conn-a"}); err != nil {
		t.Fatalf("Start(doc-1) error: %v", err)
	}
	if _, err := f.engine.Start(context.Background(), docTwo, author, &nullChannel{id: "conn-a"}); err != nil {
		t.Fatalf("Start(doc-2) error: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		f.engine.SyncPatch(context.Background(), docOne, author, []domain.Patch{{
			ID: "p1", ClientID: "client-a", N: 0, M: 0, Edits: f.edits(t, "one", "one edited"),
		}})
	}()
	go func() {
		defer wg.Done()
		f.engine.SyncPatch(context.Background(), docTwo, author, []domain.Patch{{
			ID: "p2", ClientID: "client-a", N: 0, M: 0, Edits: f.edits(t, "two", "two edited"),
		}})
	}()
	wg.Wait()

	one, _ := f.shadows.Load(context.Background(), docOne, author)
	two, _ := f.shadows.Load(context.Background(), docTwo, author)

	if one.Content != "one edited" {
		t.Errorf("doc-1 shadow = %q, cross-contaminated", one.Content)
	}
	if two.Content != "two edited" {
		t.Errorf("doc-2 shadow = %q, cross-contaminated", two.Content)
	}
}

func TestEngine_EndDeletesStateAndIsIdempotent(t *testing.T) {
	f := newFixture()
	entity := domain.NewEntityRef(domain.EntityTypeDocument, "doc-1")
	author := domain.ClientEndpoint("client-a", "server-1")

	f.documents.Save(context.Background(), &domain.Document{EntityRef: entity, Content: "base"})

	if _, err := f.engine.Start(context.Background(), entity, author, &nullChannel{id: "conn-a"}); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	if err := f.engine.End(context.Background(), entity, author); err != nil {
		t.Fatalf("End() error: %v", err)
	}

	shadow, err := f.shadows.Load(context.Background(), entity, author)
	if err != nil || shadow != nil {
		t.Errorf("shadow after End = %+v, want gone", shadow)
	}
	backup, err := f.backups.Load(context.Background(), entity, author)
	if err != nil || backup != nil {
		t.Errorf("backup after End = %+v, want gone", backup)
	}

	// Second End is a no-op, not an error.
	if err := f.engine.End(context.Background(), entity, author); err != nil {
		t.Errorf("repeated End() error: %v", err)
	}
}

func TestEngine_PatchWithoutSession(t *testing.T) {
	f := newFixture()
	entity := domain.NewEntityRef(domain.EntityTypeDocument, "doc-1")
	author := domain.ClientEndpoint("client-a", "server-1")

	_, err := f.engine.SyncPatch(context.Background(), entity, author, []domain.Patch{{
		ID: "p1", ClientID: "client-a", Edits: "",
	}})
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("got %v, want ErrSessionNotFound", err)
	}
}

func TestEngine_ValidationBeforeMutation(t *testing.T) {
	f := newFixture()
	author := domain.ClientEndpoint("client-a", "server-1")

	if _, err := f.engine.Start(context.Background(), domain.EntityRef{}, author, &nullChannel{id: "c"}); !errors.Is(err, ErrInvalidEntity) {
		t.Errorf("Start with zero entity: got %v, want ErrInvalidEntity", err)
	}

	entity := domain.NewEntityRef(domain.EntityTypeDocument, "doc-1")
	if _, err := f.engine.SyncPatch(context.Background(), entity, author, nil); !errors.Is(err, ErrEmptyPatchList) {
		t.Errorf("SyncPatch with no patches: got %v, want ErrEmptyPatchList", err)
	}

	if len(f.shadows.shadows) != 0 {
		t.Error("validation failure left state behind")
	}
}

func TestEngine_ReleaseChannelKeepsRows(t *testing.T) {
	f := newFixture()
	entity := domain.NewEntityRef(domain.EntityTypeDocument, "doc-1")
	author := domain.ClientEndpoint("client-a", "server-1")

	f.documents.Save(context.Background(), &domain.Document{EntityRef: entity, Content: "base"})

	if _, err := f.engine.Start(context.Background(), entity, author, &nullChannel{id: "conn-a"}); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	f.engine.ReleaseChannel("conn-a")

	if f.engine.lookup(entity, author) != nil {
		t.Error("session survived channel release")
	}

	shadow, _ := f.shadows.Load(context.Background(), entity, author)
	if shadow == nil {
		t.Error("shadow row deleted on disconnect; resume is impossible")
	}

	// Reconnect picks the session back up with versions intact.
	session, err := f.engine.Start(context.Background(), entity, author, &nullChannel{id: "conn-a2"})
	if err != nil {
		t.Fatalf("resumed Start() error: %v", err)
	}
	if v := session.Version(); !v.Equal(shadow.Version) {
		t.Errorf("resumed version = %+v, want %+v", v, shadow.Version)
	}
}

func TestEngine_EndRacingPatchFailsCleanly(t *testing.T) {
	f := newFixture()
	entity := domain.NewEntityRef(domain.EntityTypeDocument, "doc-1")
	endpoint := domain.ClientEndpoint("client-a", "server-1")

	f.documents.Save(context.Background(), &domain.Document{EntityRef: entity, Content: ""})
	edits := f.edits(t, "", "x")

	if _, err := f.engine.Start(context.Background(), entity, endpoint, &nullChannel{id: "conn-0"}); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	// Patches and acks race a Start/End churn loop on the same key. An
	// operation that loses the race must come back with a clean
	// session-not-found, never touch torn-down state.
	const iterations = 200
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= iterations; i++ {
			_, err := f.engine.Start(context.Background(), entity, endpoint, &nullChannel{id: fmt.Sprintf("conn-%d", i)})
			if err != nil && !errors.Is(err, relay.ErrAlreadySubscribed) {
				t.Errorf("Start() error: %v", err)
				return
			}
			if err := f.engine.End(context.Background(), entity, endpoint); err != nil {
				t.Errorf("End() error: %v", err)
				return
			}
		}
	}()

	for g := 0; g < 3; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				_, err := f.engine.SyncPatch(context.Background(), entity, endpoint, []domain.Patch{{
					ID:       "p1",
					ClientID: "client-a",
					N:        0,
					M:        0,
					Edits:    edits,
				}})
				if err != nil && !errors.Is(err, ErrSessionNotFound) {
					t.Errorf("SyncPatch() error: %v", err)
					return
				}
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < iterations; i++ {
			err := f.engine.SyncAck(context.Background(), entity, endpoint, domain.Ack{ClientID: "client-a"})
			if err != nil && !errors.Is(err, ErrSessionNotFound) {
				t.Errorf("SyncAck() error: %v", err)
				return
			}
		}
	}()

	wg.Wait()
}

func TestEngine_ListenerReconnectDuringBroadcasts(t *testing.T) {
	f := newFixture()
	entity := domain.NewEntityRef(domain.EntityTypeDocument, "doc-1")
	author := domain.ClientEndpoint("client-a", "server-1")
	listener := domain.ClientEndpoint("client-b", "server-1")

	f.documents.Save(context.Background(), &domain.Document{EntityRef: entity, Content: ""})

	if _, err := f.engine.Start(context.Background(), entity, author, &nullChannel{id: "conn-a"}); err != nil {
		t.Fatalf("Start(author) error: %v", err)
	}
	if _, err := f.engine.Start(context.Background(), entity, listener, &nullChannel{id: "conn-b-0"}); err != nil {
		t.Fatalf("Start(listener) error: %v", err)
	}

	const iterations = 100
	edits := make([]string, iterations)
	for i := range edits {
		old := strings.Repeat("a", i)
		edits[i] = f.edits(t, old, old+"a")
	}

	var wg sync.WaitGroup

	// The listener churns through channels while the author's accepted
	// patches fan out to it through the relay.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= iterations; i++ {
			f.engine.ReleaseChannel(fmt.Sprintf("conn-b-%d", i-1))
			_, err := f.engine.Start(context.Background(), entity, listener, &nullChannel{id: fmt.Sprintf("conn-b-%d", i)})
			if err != nil && !errors.Is(err, relay.ErrAlreadySubscribed) {
				t.Errorf("Start(listener) error: %v", err)
				return
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < iterations; i++ {
			ack, err := f.engine.SyncPatch(context.Background(), entity, author, []domain.Patch{{
				ID:       fmt.Sprintf("p%d", i),
				ClientID: "client-a",
				N:        uint64(i),
				M:        0,
				Edits:    edits[i],
			}})
			if err != nil {
				t.Errorf("SyncPatch() error: %v", err)
				return
			}
			if ack.N != uint64(i+1) {
				t.Errorf("ack.N = %d, want %d", ack.N, i+1)
				return
			}
		}
	}()

	wg.Wait()
}

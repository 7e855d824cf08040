// Package fusion manages per-client TSDF reconstruction sessions: one volume
// per session token, serialized access to it, and chunk-at-a-time integration
// with best-effort mesh previews.
package fusion

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"github.com/viam-labs/roomscan/tsdf"
)

// ErrNotInitialized is returned by Finalize when a session has no volume yet,
// i.e. its token was never initialized and never received a chunk.
var ErrNotInitialized = errors.New("session not initialized; process chunks first")

// ChunkResult reports the outcome of integrating one chunk of frames.
type ChunkResult struct {
	// Processed and Failed count this chunk's frames.
	Processed int
	Failed    int
	// TotalFrames is the session's cumulative count of successfully
	// integrated frames, across all chunks so far.
	TotalFrames int
}

// FinalizeResult carries the extracted mesh and its statistics.
type FinalizeResult struct {
	Vertices    int
	Triangles   int
	TotalFrames int
	Mesh        *tsdf.Mesh
}

// MeshObserver receives the best-effort preview mesh extracted after each
// chunk. It runs inside the session's critical section and must not call back
// into the manager for the same token.
type MeshObserver func(token string, mesh *tsdf.Mesh)

// Session is the fusion state for one client token. Its mutex admits at most
// one in-flight integrate or extract at a time; a concurrent pair would read a
// torn volume.
type Session struct {
	token string

	mu         sync.Mutex
	volume     *tsdf.Volume
	chunkCount int
	lastActive time.Time
}

// Manager owns all sessions, keyed by opaque client token. Sessions are
// created on first reference and never destroyed by the manager itself; an
// external supervisor may drive eviction off IdleSince.
type Manager struct {
	cfg      tsdf.VolumeConfig
	logger   golog.Logger
	clock    clock.Clock
	observer MeshObserver

	mu       sync.Mutex
	sessions map[string]*Session
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock substitutes the clock used for session idle tracking.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) {
		m.clock = c
	}
}

// WithMeshObserver installs a callback for post-chunk preview meshes.
func WithMeshObserver(obs MeshObserver) Option {
	return func(m *Manager) {
		m.observer = obs
	}
}

// NewManager creates a session manager whose sessions all use the given volume
// parameters.
func NewManager(cfg tsdf.VolumeConfig, logger golog.Logger, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Manager{
		cfg:      cfg,
		logger:   logger,
		clock:    clock.New(),
		sessions: map[string]*Session{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// tokenTag shortens a token for log lines.
func tokenTag(token string) string {
	if len(token) > 8 {
		return token[:8]
	}
	return token
}

// getOrCreate returns the session for a token, creating it on first reference.
// The registry lock is held only for this step, never during fusion work.
func (m *Manager) getOrCreate(token string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[token]
	if !ok {
		s = &Session{token: token, lastActive: m.clock.Now()}
		m.sessions[token] = s
		m.logger.Infof("[%s] created new session", tokenTag(token))
	}
	return s
}

// ensureVolumeLocked constructs the session's volume if it does not exist yet.
// The session mutex must be held.
func (m *Manager) ensureVolumeLocked(s *Session) error {
	if s.volume != nil {
		return nil
	}
	volume, err := tsdf.NewVolume(m.cfg, m.logger)
	if err != nil {
		return err
	}
	s.volume = volume
	m.logger.Infof("[%s] TSDF volume initialized", tokenTag(s.token))
	return nil
}

// InitSession prepares a session for a token. It is idempotent: initializing
// an already-ready session succeeds and changes nothing.
func (m *Manager) InitSession(token string) error {
	if token == "" {
		return errors.New("session token required")
	}
	s := m.getOrCreate(token)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.volume != nil {
		m.logger.Infof("[%s] session already initialized", tokenTag(token))
		return nil
	}
	if err := m.ensureVolumeLocked(s); err != nil {
		return err
	}
	s.lastActive = m.clock.Now()
	return nil
}

// SessionExists reports whether a token has a session, without creating one.
func (m *Manager) SessionExists(token string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[token]
	return ok
}

// Sessions returns the tokens of all live sessions.
func (m *Manager) Sessions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	tokens := make([]string, 0, len(m.sessions))
	for token := range m.sessions {
		tokens = append(tokens, token)
	}
	return tokens
}

// IdleSince reports when a session last finished work, for use by an external
// lifecycle supervisor. ok is false when the token has no session.
func (m *Manager) IdleSince(token string) (time.Time, bool) {
	m.mu.Lock()
	s, ok := m.sessions[token]
	m.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive, true
}

// IntegrateChunk fuses an ordered chunk of frames into the token's volume,
// creating session and volume lazily. Frames are processed strictly in the
// supplied order. A failing frame is logged, counted, and skipped; it never
// aborts its siblings. After the chunk, a preview mesh is extracted
// best-effort for the observer; preview failure never fails the chunk.
func (m *Manager) IntegrateChunk(token string, frames []*tsdf.Frame) (ChunkResult, error) {
	if token == "" {
		return ChunkResult{}, errors.New("session token required")
	}
	s := m.getOrCreate(token)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := m.ensureVolumeLocked(s); err != nil {
		return ChunkResult{}, err
	}

	var processed, failed int
	for i, frame := range frames {
		if err := s.volume.Integrate(frame); err != nil {
			m.logger.Warnf("[%s] frame %d of chunk %d skipped: %s",
				tokenTag(token), i, s.chunkCount, err)
			failed++
			continue
		}
		processed++
	}
	s.chunkCount++
	s.lastActive = m.clock.Now()
	m.logger.Infof("[%s] chunk %d processed: %d frames, %d failed",
		tokenTag(token), s.chunkCount, processed, failed)

	if m.observer != nil {
		m.previewLocked(s)
	}

	return ChunkResult{
		Processed:   processed,
		Failed:      failed,
		TotalFrames: s.volume.FrameCount(),
	}, nil
}

// previewLocked extracts and publishes a preview mesh, swallowing any panic
// from the observer. The session mutex must be held.
func (m *Manager) previewLocked(s *Session) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Warnf("[%s] preview mesh after chunk failed: %v", tokenTag(s.token), r)
		}
	}()
	mesh := s.volume.ExtractMesh()
	mesh.ComputeNormals()
	m.observer(s.token, mesh)
	m.logger.Debugf("[%s] preview mesh updated after chunk: %d vertices, %d triangles",
		tokenTag(s.token), mesh.VertexCount(), mesh.TriangleCount())
}

// Finalize extracts the session's mesh and reports its statistics. It fails
// with ErrNotInitialized when the token has no volume. It is not terminal:
// further chunks may be integrated afterwards and Finalize called again.
func (m *Manager) Finalize(token string) (FinalizeResult, error) {
	m.mu.Lock()
	s, ok := m.sessions[token]
	m.mu.Unlock()
	if !ok {
		return FinalizeResult{}, errors.Wrapf(ErrNotInitialized, "token %q", tokenTag(token))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.volume == nil {
		return FinalizeResult{}, errors.Wrapf(ErrNotInitialized, "token %q", tokenTag(token))
	}
	m.logger.Infof("[%s] finalizing mesh extraction", tokenTag(token))
	mesh := s.volume.ExtractMesh()
	mesh.ComputeNormals()
	s.lastActive = m.clock.Now()
	m.logger.Infof("[%s] mesh finalized: %d vertices, %d triangles",
		tokenTag(token), mesh.VertexCount(), mesh.TriangleCount())
	return FinalizeResult{
		Vertices:    mesh.VertexCount(),
		Triangles:   mesh.TriangleCount(),
		TotalFrames: s.volume.FrameCount(),
		Mesh:        mesh,
	}, nil
}

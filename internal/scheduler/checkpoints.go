package scheduler

import (
	"context"
	"errors"
	"sync"

	"agentcore/internal/storage"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
)

// CheckpointStore is the part of storage.DB the resolver reads and writes.
type CheckpointStore interface {
	GetSessionBinding(ctx context.Context, sessionID string) (*storage.SessionBinding, error)
	SaveSessionBinding(ctx context.Context, b storage.SessionBinding) error
	ResumeCheckpoint(ctx context.Context, ref storage.CheckpointRef) (*storage.Checkpoint, error)
	LatestResumable(ctx context.Context, agentID string) (*storage.Checkpoint, error)
}

const defaultResolverCacheSize = 256

// CheckpointResolver finds the checkpoint a session resumes from. It keeps
// an LRU of session refs on top of the persisted session bindings.
type CheckpointResolver struct {
	store CheckpointStore
	mu    sync.Mutex
	cache *lru.Cache[string, storage.CheckpointRef]
}

// NewCheckpointResolver creates a resolver. A nil store keeps refs in memory
// only; size <= 0 uses a default cache size.
func NewCheckpointResolver(store CheckpointStore, size int) *CheckpointResolver {
	if size <= 0 {
		size = defaultResolverCacheSize
	}
	cache, err := lru.New[string, storage.CheckpointRef](size)
	if err != nil {
		// Only returned for a non-positive size.
		panic(err)
	}
	return &CheckpointResolver{store: store, cache: cache}
}

// Ref returns the session's cached ref, falling back to its binding.
func (r *CheckpointResolver) Ref(ctx context.Context, sessionID string) (storage.CheckpointRef, bool) {
	if ref, ok := r.cache.Get(sessionID); ok {
		return ref, true
	}
	if r.store == nil {
		return storage.CheckpointRef{}, false
	}
	b, err := r.store.GetSessionBinding(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			log.Warn().Err(err).Str("session", sessionID).Msg("failed to read session binding")
		}
		return storage.CheckpointRef{}, false
	}
	ref := b.Ref()
	r.cache.Add(sessionID, ref)
	return ref, true
}

// Resolve returns the checkpoint to seed the session's next run with, or nil
// to start fresh. Read errors are logged and treated as no checkpoint.
func (r *CheckpointResolver) Resolve(ctx context.Context, sessionID string) *storage.Checkpoint {
	ref, ok := r.Ref(ctx, sessionID)
	if !ok || ref.AgentID == "" || r.store == nil {
		return nil
	}

	var (
		cp  *storage.Checkpoint
		err error
	)
	if ref.CheckpointID != "" {
		cp, err = r.store.ResumeCheckpoint(ctx, ref)
	} else {
		cp, err = r.store.LatestResumable(ctx, ref.AgentID)
	}
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			log.Warn().Err(err).Str("session", sessionID).Str("agent", ref.AgentID).
				Msg("checkpoint lookup failed; starting without resumption")
		}
		return nil
	}
	return cp
}

// Remember caches ref for the session and persists the binding. Zero refs
// are ignored.
func (r *CheckpointResolver) Remember(ctx context.Context, sessionID string, ref storage.CheckpointRef) {
	if ref.AgentID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.cache.Peek(sessionID); ok && cur == ref {
		return
	}
	r.cache.Add(sessionID, ref)
	if r.store == nil {
		return
	}
	err := r.store.SaveSessionBinding(ctx, storage.SessionBinding{
		SessionID:    sessionID,
		AgentID:      ref.AgentID,
		CheckpointID: ref.CheckpointID,
	})
	if err != nil {
		log.Warn().Err(err).Str("session", sessionID).Msg("failed to save session binding")
	}
}

// Forget drops the cached ref. The persisted binding stays, so a session
// with the same id resumes later.
func (r *CheckpointResolver) Forget(sessionID string) {
	r.cache.Remove(sessionID)
}

// Len returns the number of cached refs.
func (r *CheckpointResolver) Len() int {
	return r.cache.Len()
}

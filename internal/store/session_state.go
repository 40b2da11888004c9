package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"workout-engine/internal/models"

	"go.uber.org/zap"
)

// key names on the persistence surface
const (
	KeySetup   = "setup"
	KeyPlan    = "plan"
	KeySession = "session"
)

// SessionStore JSON documents for setup, plan and session, namespaced per venue
type SessionStore struct {
	kv       KV
	location string
	logger   *zap.Logger
}

func NewSessionStore(kv KV, location string, logger *zap.Logger) *SessionStore {
	return &SessionStore{kv: kv, location: location, logger: logger}
}

// Key the full key of name for this venue
func (s *SessionStore) Key(name string) string {
	return fmt.Sprintf("workout:%s:%s", s.location, name)
}

func (s *SessionStore) SaveSetup(ctx context.Context, cfg models.SessionConfig) error {
	return s.save(ctx, KeySetup, cfg)
}

// LoadSetup returns ErrMiss when no setup was stored
func (s *SessionStore) LoadSetup(ctx context.Context) (models.SessionConfig, error) {
	var cfg models.SessionConfig
	err := s.load(ctx, KeySetup, &cfg)
	return cfg, err
}

func (s *SessionStore) SavePlan(ctx context.Context, plan models.StationPlan) error {
	return s.save(ctx, KeyPlan, plan)
}

// LoadPlan returns an empty plan when none was stored
func (s *SessionStore) LoadPlan(ctx context.Context) (models.StationPlan, error) {
	var plan models.StationPlan
	if err := s.load(ctx, KeyPlan, &plan); err != nil && !errors.Is(err, ErrMiss) {
		return plan, err
	}
	return plan, nil
}

func (s *SessionStore) SaveSession(ctx context.Context, session models.Session) error {
	return s.save(ctx, KeySession, session)
}

// LoadSession returns ErrMiss when no session was stored
func (s *SessionStore) LoadSession(ctx context.Context) (models.Session, error) {
	var session models.Session
	err := s.load(ctx, KeySession, &session)
	return session, err
}

// ClearSession overwrites the session key with an empty document
func (s *SessionStore) ClearSession(ctx context.Context) error {
	return s.kv.Set(ctx, s.Key(KeySession), "{}", 0)
}

// WatchPlan delivers station plans written by the host app until ctx ends
func (s *SessionStore) WatchPlan(ctx context.Context) (<-chan models.StationPlan, error) {
	changes, err := s.kv.Subscribe(ctx, s.Key(KeyPlan))
	if err != nil {
		return nil, err
	}

	out := make(chan models.StationPlan)
	go func() {
		defer close(out)
		for change := range changes {
			var plan models.StationPlan
			if err := json.Unmarshal([]byte(change.Value), &plan); err != nil {
				s.logger.Warn("Ignoring malformed station plan", zap.String("key", change.Key), zap.Error(err))
				continue
			}
			select {
			case out <- plan:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (s *SessionStore) save(ctx context.Context, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", name, err)
	}
	if err := s.kv.Set(ctx, s.Key(name), string(data), 0); err != nil {
		return &models.PersistenceError{Op: "save " + name, Err: err}
	}
	return nil
}

func (s *SessionStore) load(ctx context.Context, name string, out any) error {
	raw, err := s.kv.Get(ctx, s.Key(name))
	if err != nil {
		return err
	}
	if raw == "" || raw == "{}" {
		return ErrMiss
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", name, err)
	}
	return nil
}

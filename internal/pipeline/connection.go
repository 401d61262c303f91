package pipeline

import (
	"context"
	"fmt"

	"github.com/olgasafonova/confluence-spec-mcp-server/internal/confluence"
	apierrors "github.com/olgasafonova/confluence-spec-mcp-server/internal/errors"
	"github.com/olgasafonova/confluence-spec-mcp-server/internal/sanitize"
)

// ConnectionSettings are the user-editable connection fields.
type ConnectionSettings struct {
	BaseURL string
	Email   string
	Enabled bool
}

// Configure sets the site and account. Changing either invalidates the
// last validation.
func (s *Service) Configure(settings ConnectionSettings) (confluence.ConnectionConfig, error) {
	if err := sanitize.ValidateBaseURL(settings.BaseURL); err != nil {
		return s.Connection(), err
	}
	if err := sanitize.ValidateEmail(settings.Email); err != nil {
		return s.Connection(), err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.conn
	next.BaseURL = sanitize.BaseURL(settings.BaseURL)
	next.Email = settings.Email
	next.Enabled = settings.Enabled
	next = next.Normalized()
	if next.BaseURL != s.conn.BaseURL || next.Email != s.conn.Email {
		next.IsValid = false
		next.LastValidated = nil
	}
	return s.commit(next)
}

// SetToken seals token, points the connection at the new reference and
// discards the previous secret. The connection must be re-validated.
func (s *Service) SetToken(ctx context.Context, token string) (confluence.ConnectionConfig, error) {
	if s.creds == nil {
		return s.Connection(), apierrors.New(apierrors.KindValidation, "secure credential storage is not available")
	}
	ref, err := s.creds.Store(ctx, token)
	if err != nil {
		return s.Connection(), err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.conn.TokenRef
	conn, err := s.commit(s.conn.UpdateSecureToken(ref))
	if err != nil {
		_ = s.creds.Invalidate(ctx, ref)
		return conn, err
	}
	if old != "" && old != ref {
		if err := s.creds.Invalidate(ctx, old); err != nil {
			s.logger.Warn("Could not remove previous token", "error", err)
		}
	}
	s.logger.Info("API token updated")
	return conn, nil
}

// ClearToken removes the stored token and leaves the connection incomplete.
func (s *Service) ClearToken(ctx context.Context) (confluence.ConnectionConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.conn.TokenRef
	if old != "" && s.creds != nil {
		if err := s.creds.Invalidate(ctx, old); err != nil {
			return s.conn, err
		}
	}
	conn, err := s.commit(s.conn.UpdateSecureToken(""))
	if err == nil {
		s.logger.Info("API token cleared")
	}
	return conn, err
}

// ValidateConnection checks the stored credentials against the server and
// persists the outcome.
func (s *Service) ValidateConnection(ctx context.Context) (confluence.ConnectionConfig, *confluence.User, error) {
	c, err := s.connected()
	if err != nil {
		return c.conn, nil, err
	}

	checked, user, verr := c.client.ValidateConnection(ctx)
	if checked.LastValidated == nil || (c.conn.LastValidated != nil && checked.LastValidated.Equal(*c.conn.LastValidated)) {
		return checked, user, verr
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Another change won the race; the stamp belongs to stale settings.
	if s.conn.TokenRef != c.conn.TokenRef || s.conn.BaseURL != c.conn.BaseURL || s.conn.Email != c.conn.Email {
		return s.conn, user, verr
	}
	conn, err := s.commit(checked)
	if err != nil {
		return conn, user, err
	}
	return conn, user, verr
}

// commit persists next and rebuilds around it. Callers hold mu.
func (s *Service) commit(next confluence.ConnectionConfig) (confluence.ConnectionConfig, error) {
	if err := s.save(next); err != nil {
		return s.conn, apierrors.Wrap(apierrors.KindValidation, err, "could not save the connection settings").
			WithDetails(fmt.Sprintf("save: %v", err))
	}
	s.rebuild(next)
	return s.conn, nil
}

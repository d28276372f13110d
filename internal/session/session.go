// Package session enforces roles at the operator connection boundary
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/versatilecz/evac/internal/logging"
	"github.com/versatilecz/evac/internal/message"
	"github.com/versatilecz/evac/internal/models"
	"github.com/versatilecz/evac/internal/services"
)

// MaxViolations is the number of refused commands after which a session is closed
const MaxViolations = 3

// ErrClosed is returned once a session exhausted its violations
var ErrClosed = errors.New("session closed after repeated violations")

// Session is the state of one operator connection
type Session struct {
	op  services.Operator
	log *logrus.Entry

	mu         sync.RWMutex
	principal  services.Principal
	violations int
}

// New creates an anonymous session
func New(op services.Operator, remote string) *Session {
	return &Session{
		op:        op,
		log:       logging.Component("session").WithField("remote", remote),
		principal: services.Anonymous,
	}
}

// Principal returns who the session acts as
func (s *Session) Principal() services.Principal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.principal
}

func (s *Session) roles() []models.Role {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.principal.Roles
}

// Allowed reports whether an outbound message may be forwarded to this session
func (s *Session) Allowed(m message.WebMessage) bool {
	return message.Outbound(m.Kind)(s.roles())
}

// Filter drops the messages the session may not see
func (s *Session) Filter(msgs []message.WebMessage) []message.WebMessage {
	out := msgs[:0:0]
	for _, m := range msgs {
		if s.Allowed(m) {
			out = append(out, m)
		}
	}
	return out
}

// Receive handles one client message and returns the replies for this
// session. ErrClosed means the connection must be dropped.
func (s *Session) Receive(ctx context.Context, m message.WebMessage) ([]message.WebMessage, error) {
	switch m.Kind {
	case message.KindLogin:
		return s.login(ctx, m)
	case message.KindLogout:
		s.mu.Lock()
		s.principal = services.Anonymous
		s.mu.Unlock()
		return []message.WebMessage{message.New(message.KindLogout, nil)}, nil
	}

	if !message.Inbound(m.Kind)(s.roles()) {
		s.log.WithField("kind", m.Kind).Warn("Refused command")
		return s.refuse(message.Errorf("%s is not allowed", m.Kind))
	}

	replies, err := s.op.Handle(ctx, s.Principal(), m)
	if err != nil {
		s.log.WithError(err).WithField("kind", m.Kind).Warn("Command failed")
		reply := message.Errorf("%s: %v", m.Kind, err)
		if errors.Is(err, services.ErrForbidden) || errors.Is(err, services.ErrIntegrity) {
			return s.refuse(reply)
		}
		return []message.WebMessage{reply}, nil
	}
	return s.Filter(replies), nil
}

func (s *Session) login(ctx context.Context, m message.WebMessage) ([]message.WebMessage, error) {
	var req message.Login
	if err := m.Decode(&req); err != nil {
		return []message.WebMessage{message.Errorf("login: %v", err)}, nil
	}

	p, err := s.op.Login(ctx, req)
	if err != nil {
		s.log.WithError(err).Warn("Login failed")
		return s.refuse(message.Errorf("login failed"))
	}

	s.mu.Lock()
	s.principal = p
	s.violations = 0
	s.mu.Unlock()

	replies := []message.WebMessage{message.New(message.KindUserInfo, message.UserInfo{
		Username: p.Username,
		Roles:    p.Roles,
	})}
	return append(replies, s.Filter(s.op.Snapshot(p))...), nil
}

func (s *Session) refuse(reply message.WebMessage) ([]message.WebMessage, error) {
	s.mu.Lock()
	s.violations++
	n := s.violations
	s.mu.Unlock()

	if n >= MaxViolations {
		return []message.WebMessage{reply}, ErrClosed
	}
	return []message.WebMessage{reply}, nil
}

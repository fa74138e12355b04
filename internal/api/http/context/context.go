package context

import (
	"context"
)

type subjectKey struct{}

// Manager stores the authenticated admin subject in request contexts.
type Manager struct{}

// NewManager creates a new context manager instance.
func NewManager() *Manager {
	return &Manager{}
}

// SetSubjectToContext returns a copy of ctx carrying subject.
func (m *Manager) SetSubjectToContext(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, subjectKey{}, subject)
}

// GetSubjectFromContext returns the subject set by SetSubjectToContext.
func (m *Manager) GetSubjectFromContext(ctx context.Context) (string, bool) {
	subject, ok := ctx.Value(subjectKey{}).(string)
	if !ok || subject == "" {
		return "", false
	}
	return subject, true
}

package model

import "context"

type ContextManager interface {
	SetSubjectToContext(ctx context.Context, subject string) context.Context
	GetSubjectFromContext(ctx context.Context) (string, bool)
}

package core

import (
	"context"

	"github.com/dkeye/collabhub/internal/domain"
)

// Authenticator validates the credential presented at upgrade time.
type Authenticator interface {
	Authenticate(ctx context.Context, credential string) (domain.Identity, error)
}

// TargetDirectory answers whether a target id names a real list or recipe.
type TargetDirectory interface {
	Exists(ctx context.Context, target domain.Target) (bool, error)
}

// Recorder is the persistence collaborator. Record is called after acceptance,
// off the broadcast path; retries are the recorder's business.
type Recorder interface {
	Record(ctx context.Context, op domain.Operation) error
}

// SyntaxDirectory accepts every syntactically valid target of a known kind.
type SyntaxDirectory struct{}

func (SyntaxDirectory) Exists(_ context.Context, t domain.Target) (bool, error) {
	return t.Kind.Valid() && domain.ValidTargetID(t.ID), nil
}

// NopRecorder drops operations. Used when no store is configured.
type NopRecorder struct{}

func (NopRecorder) Record(context.Context, domain.Operation) error { return nil }

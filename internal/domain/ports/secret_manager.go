package ports

import "context"

// Secret holds a resolved secret value and its metadata
type Secret struct {
	Value    string
	Version  string
	Metadata map[string]string
}

// SecretManager resolves secrets (gateway credentials, DB password) from a
// backing store. Implementations exist for AWS Secrets Manager, Vault, and
// the local filesystem (development only).
type SecretManager interface {
	GetSecret(ctx context.Context, path string) (*Secret, error)
}

package access

import (
	"crypto/rand"
	"encoding/base64"

	"github.com/unipanel/backend/core/logger"
	"github.com/unipanel/backend/core/registry"
)

// EnsureJwtSecret returns the token signing secret. A configured secret
// wins; otherwise the secret is read from the registry, generated and
// persisted on first start. All instances sharing the database share the
// secret.
func EnsureJwtSecret(reg registry.Registry, configured string) ([]byte, error) {
	if configured != "" {
		return []byte(configured), nil
	}

	accessor := reg.Accessor("access")
	var encoded string
	if _, err := accessor.Read("jwt_secret", &encoded); err != nil {
		return nil, err
	}
	if encoded != "" {
		return base64.StdEncoding.DecodeString(encoded)
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	encoded = base64.StdEncoding.EncodeToString(secret)
	if err := accessor.Write("jwt_secret", encoded); err != nil {
		return nil, err
	}
	logger.Default().Infoln("generated a new token signing secret")
	return secret, nil
}

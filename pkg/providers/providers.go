// Package providers holds the contracts shared by the reference providers
// shipped with pluginhost. Each provider lives in its own sub-package and
// registers itself with the discovery builtin index from init; import
// providers/all to get every one of them.
package providers

import (
	"errors"
	"fmt"

	"github.com/platinummonkey/pluginhost/pkg/plugins"
)

// ModulePrefix is the module part of every reference provider's loader reference
const ModulePrefix = "pluginhost.providers."

// ErrSecretNotFound is returned by a SecretStore that has no value for a key
var ErrSecretNotFound = errors.New("secret not found")

// SecretStore is implemented by SECRETS providers
type SecretStore interface {
	Secret(key string) (string, error)
}

// SecretStoreFrom returns the started SECRETS dependency named name
func SecretStoreFrom(env *plugins.Environment, name string) (SecretStore, error) {
	p, ok := env.Dependency(plugins.CategorySecrets, name)
	if !ok {
		return nil, fmt.Errorf("secrets provider %q was not provided", name)
	}
	store, ok := p.(SecretStore)
	if !ok {
		return nil, fmt.Errorf("secrets provider %q (%T) does not implement SecretStore", name, p)
	}
	return store, nil
}

// LookupSecret resolves key through store. An empty key yields an empty value.
func LookupSecret(store SecretStore, key string) (string, error) {
	if key == "" {
		return "", nil
	}
	v, err := store.Secret(key)
	if err != nil {
		return "", fmt.Errorf("failed to read secret %s: %w", key, err)
	}
	return v, nil
}

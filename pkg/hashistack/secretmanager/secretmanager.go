package secretmanager

import (
	"os"

	vault "github.com/hashicorp/vault-client-go"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module provides a vault client configured from VAULT_ADDR and VAULT_TOKEN. Without
// VAULT_ADDR nothing is provided and config falls back to plain environment secrets.
var Module = fx.Module("secretmanager", fx.Provide(ProvideVault))

func ProvideVault() (*vault.Client, error) {
	if _, ok := os.LookupEnv("VAULT_ADDR"); !ok {
		zap.L().Info("[Vault] VAULT_ADDR not set, secrets come from the environment")
		return nil, nil
	}

	client, err := vault.New(
		vault.WithEnvironment(),
	)
	if err != nil {
		return nil, err
	}

	return client, nil
}

package authn

import "os"

// resolveSecret reads a secret from the environment variable named by
// envVar. Plugin configuration is only ever allowed to name the variable,
// never carry the secret value itself.
func resolveSecret(envVar string) string {
	if envVar == "" {
		return ""
	}
	return os.Getenv(envVar)
}

// Package builtins registers every in-process plugin constructor under
// its builtin:// name. Importing this package for its side effect (an
// init()) is what makes builtin://cors, builtin://jwt-auth, and so on
// resolvable by the loader; nothing here is called directly.
package builtins

import (
	ipg "github.com/goatkit/beamhost/internal/plugin"

	"github.com/goatkit/beamhost/internal/authn"
	"github.com/goatkit/beamhost/internal/authz"
	"github.com/goatkit/beamhost/internal/broadcast"
	"github.com/goatkit/beamhost/internal/leaf"
	"github.com/goatkit/beamhost/internal/store"
)

func init() {
	r := ipg.Default()

	r.Register("file-handler", store.NewFileHandlerPlugin)
	r.Register("selector-handler", store.NewSelectorHandlerPlugin)
	r.Register("websocket", broadcast.NewPlugin)

	r.Register("basic-auth", authn.NewBasicAuthPlugin)
	r.Register("ldap-auth", authn.NewLDAPAuthPlugin)
	r.Register("jwt-auth", authn.NewJWTAuthPlugin)
	r.Register("authorization", authz.NewPlugin)

	r.Register("cors", leaf.NewCORSPlugin)
	r.Register("security-headers", leaf.NewSecurityHeadersPlugin)
	r.Register("compression", leaf.NewCompressionPlugin)
	r.Register("rate-limit", leaf.NewRateLimitPlugin)
	r.Register("access-log", leaf.NewAccessLogPlugin)
	r.Register("health-check", leaf.NewHealthCheckPlugin)
	r.Register("redirect", leaf.NewRedirectPlugin)
	r.Register("error-handler", leaf.NewErrorHandlerPlugin)
	r.Register("directory", leaf.NewDirectoryPlugin)
	r.Register("config-reload", leaf.NewConfigReloadPlugin)
	r.Register("javascript-engine", leaf.NewJavaScriptPlugin)
	r.Register("metrics", leaf.NewMetricsPlugin)
}

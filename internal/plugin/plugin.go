// Package plugin re-exports the public plugin contract so internal
// packages can depend on a stable internal import path while pkg/plugin
// stays the externally documented API surface.
package plugin

import pkgplugin "github.com/goatkit/beamhost/pkg/plugin"

type (
	Plugin      = pkgplugin.Plugin
	Request     = pkgplugin.Request
	Response    = pkgplugin.Response
	Context     = pkgplugin.Context
	UpgradeFunc = pkgplugin.UpgradeFunc
	Logger      = pkgplugin.Logger
	Manifest    = pkgplugin.Manifest
	Constructor = pkgplugin.Constructor
)

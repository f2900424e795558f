// Package ui embeds the compiled web shell from ui/dist.
// The shell's welcome banner is driven by the /api/v1/banners endpoints.
package ui

import "embed"

// FS holds the embedded web shell assets.
//
//go:embed dist
var FS embed.FS

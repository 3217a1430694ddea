package httpserver

import "embed"

// webAssets holds the browser demo client served at / and /static/.
//
//go:embed web
var webAssets embed.FS

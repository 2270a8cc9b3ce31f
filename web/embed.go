// Package web holds the browser front end served at / and /static.
package web

import "embed"

//go:embed index.html static
var Files embed.FS

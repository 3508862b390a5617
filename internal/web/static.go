package web

import (
	"embed"
)

// staticFiles holds the status page served at / and /static/.
//
//go:embed static/*
var staticFiles embed.FS

package server

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	gmhtml "github.com/yuin/goldmark/renderer/html"

	"github.com/avolkov/personaclone/internal/styleprofile"
)

var markdown = goldmark.New(
	goldmark.WithExtensions(
		extension.GFM,
		highlighting.NewHighlighting(
			highlighting.WithStyle("github"),
		),
	),
	goldmark.WithParserOptions(
		parser.WithAutoHeadingID(),
	),
	goldmark.WithRendererOptions(
		gmhtml.WithUnsafe(),
	),
)

func (s *Server) latestProfile(r *http.Request) (*styleprofile.Profile, error) {
	artifact, err := s.artifacts.Latest(r.Context(), s.cfg.TargetUser)
	if err != nil {
		return nil, err
	}
	return s.artifacts.LoadProfile(artifact)
}

// handleProfilePage renders the markdown style report as HTML.
func (s *Server) handleProfilePage(w http.ResponseWriter, r *http.Request) {
	profile, err := s.latestProfile(r)
	if err != nil {
		http.Error(w, "no trained persona artifact; run train first", http.StatusNotFound)
		return
	}

	var body bytes.Buffer
	if err := markdown.Convert([]byte(profile.Report()), &body); err != nil {
		http.Error(w, "rendering report failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, profilePageShell, profile.UserID, body.String())
}

const profilePageShell = `<!doctype html>
<html>
<head>
<meta charset="utf-8">
<title>Style profile: %s</title>
<style>
body { font-family: system-ui, sans-serif; max-width: 48rem; margin: 2rem auto; padding: 0 1rem; color: #222; }
table { border-collapse: collapse; }
th, td { border: 1px solid #ccc; padding: 0.3rem 0.6rem; }
</style>
</head>
<body>
%s
</body>
</html>
`

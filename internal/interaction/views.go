package interaction

import (
	"bytes"
	"embed"
	"html/template"
	"log"
	"net/http"
)

//go:embed views/*.html
var viewFS embed.FS

var views = template.Must(template.ParseFS(viewFS, "views/*.html"))

type providerLink struct {
	Label string
	URL   string
}

type loginView struct {
	Title     string
	State     State
	Email     string
	Error     string
	Action    string
	AbortURL  string
	Providers []providerLink
}

type repostView struct {
	Nonce    string
	Mount    string
	Upstream string
	Fields   map[string]string
}

type errorView struct {
	Title   string
	Message string
}

func render(w http.ResponseWriter, status int, name string, data any) {
	var buf bytes.Buffer
	if err := views.ExecuteTemplate(&buf, name, data); err != nil {
		log.Printf("[Interaction] ❌ render %s: %v", name, err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	w.Write(buf.Bytes())
}

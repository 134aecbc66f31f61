package web

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/a-h/templ"
)

// statusView is the data shown on the status page.
type statusView struct {
	Healthy       bool
	ActiveImports int
	MaxImports    int
	Subscribers   int
	Timezone      string
	Now           string
}

// statusPage renders the service status as a small HTML document.
func statusPage(v statusView) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		state := "operativo"
		if !v.Healthy {
			state = "sin conexión con la base de datos"
		}
		_, err := fmt.Fprintf(w, `<!DOCTYPE html>
<html lang="es">
<head><meta charset="utf-8"><title>Campa</title></head>
<body>
<h1>Campa</h1>
<dl>
<dt>Estado</dt><dd>%s</dd>
<dt>Importaciones en curso</dt><dd>%d / %d</dd>
<dt>Suscriptores en vivo</dt><dd>%d</dd>
<dt>Zona horaria</dt><dd>%s</dd>
<dt>Hora del servidor</dt><dd>%s</dd>
</dl>
</body>
</html>
`,
			templ.EscapeString(state),
			v.ActiveImports, v.MaxImports,
			v.Subscribers,
			templ.EscapeString(v.Timezone),
			templ.EscapeString(v.Now),
		)
		return err
	})
}

// handleStatusPage renders the status page.
func (s *Server) handleStatusPage(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	view := statusView{Healthy: true}
	if s.store != nil {
		view.Healthy = s.store.Ping(ctx) == nil
	}
	limiter := s.service.Limiter().Status()
	view.ActiveImports, view.MaxImports = limiter.Active, limiter.MaxConcurrent
	if s.hub != nil {
		view.Subscribers = s.hub.SubscriberCount()
	}
	loc := s.service.Location()
	view.Timezone = loc.String()
	view.Now = time.Now().In(loc).Format("02/01/2006 15:04")

	templ.Handler(statusPage(view)).ServeHTTP(w, r)
}

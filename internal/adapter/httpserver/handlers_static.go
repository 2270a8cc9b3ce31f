package httpserver

import (
	"github.com/labstack/echo/v4"
	"github.com/tripph/promptfeed/web"
)

func (s *Server) registerStaticRoutes() {
	s.echo.FileFS("/", "index.html", web.Files)
	s.echo.StaticFS("/static", echo.MustSubFS(web.Files, "static"))
}

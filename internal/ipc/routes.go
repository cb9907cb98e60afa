package ipc

import (
	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo, s *Server) {
	e.GET("/status", s.statusHandler)
	e.GET("/get", s.getHandler)
	e.POST("/set", s.setHandler)
	e.POST("/shutdown", s.shutdownHandler)
}

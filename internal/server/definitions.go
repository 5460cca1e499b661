package server

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/weftworks/weft/pkg/api"
)

func (s *Server) listDefinitions(c *gin.Context) {
	defs := s.catalog.Definitions()
	c.JSON(http.StatusOK, api.DefinitionListResponse{
		Definitions: defs,
		Count:       len(defs),
	})
}

func (s *Server) createDefinition(c *gin.Context) {
	var def api.Definition
	if err := c.ShouldBindJSON(&def); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{
			Error:  fmt.Sprintf("invalid definition: %v", err),
			Status: http.StatusBadRequest,
		})
		return
	}

	if err := s.catalog.Register(&def); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{
			Error:  err.Error(),
			Status: http.StatusBadRequest,
		})
		return
	}

	c.JSON(http.StatusCreated, &def)
}

func (s *Server) getDefinition(c *gin.Context) {
	t := api.NodeType(c.Param("type"))
	def, ok := s.catalog.Definition(t)
	if !ok {
		c.JSON(http.StatusNotFound, api.ErrorResponse{
			Error:  fmt.Sprintf("definition not found: %s", t),
			Status: http.StatusNotFound,
		})
		return
	}
	c.JSON(http.StatusOK, def)
}

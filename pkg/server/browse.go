package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"repofs/pkg/browse"
	"repofs/pkg/db"
	"repofs/pkg/log"
	"repofs/pkg/models"
	"repofs/pkg/storage"
)

type browseNodeResponse struct {
	Name      string `json:"name"`
	Leaf      bool   `json:"leaf"`
	Component bool   `json:"component"`
	Asset     bool   `json:"asset"`
}

func (srv *Server) browsePath(ctx echo.Context) error {
	repoName := ctx.Param("repo")

	var path []string
	if raw := strings.Trim(ctx.Param("*"), "/"); raw != "" {
		path = strings.Split(raw, "/")
	}

	maxNodes := 0
	if raw := ctx.QueryParam("max"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return ctx.JSON(http.StatusBadRequest, map[string]string{
				"error": "max must be an integer",
			})
		}
		maxNodes = parsed
	}

	// Keyword search over leaves: matches against the lowercase asset
	// name recorded on each node.
	var filter browse.Filter
	if keyword := strings.ToLower(ctx.QueryParam("q")); keyword != "" {
		filter = func(node *models.BrowseNode) bool {
			return strings.Contains(node.AssetNameLowercase, keyword)
		}
	}

	var nodes []*models.BrowseNode
	err := storage.RetryLoop(ctx.Request().Context(), srv.storage, 0, func(tx *storage.Tx) error {
		bucket, err := tx.FindBucket(repoName)
		if err != nil {
			return err
		}
		nodes, err = tx.BrowseNodesByPath(bucket, path, maxNodes, filter)
		if err != nil || len(nodes) > 0 || len(path) == 0 {
			return err
		}
		// Nothing below the path: it may name a leaf itself.
		node, err := tx.BrowseNodeByPath(bucket, path)
		if errors.Is(err, browse.ErrNodeNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		nodes = []*models.BrowseNode{node}
		return nil
	})
	if errors.Is(err, db.ErrNotFound) {
		return ctx.JSON(http.StatusNotFound, map[string]string{
			"error": "repository not found",
		})
	}
	if err != nil {
		log.Error().Err(err).Str("repository", repoName).Msg("Failed to browse path")
		return ctx.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to browse path",
		})
	}

	response := make([]browseNodeResponse, 0, len(nodes))
	for _, node := range nodes {
		response = append(response, browseNodeResponse{
			Name:      node.Name,
			Leaf:      node.Leaf,
			Component: node.HasComponent(),
			Asset:     node.HasAsset(),
		})
	}
	return ctx.JSON(http.StatusOK, response)
}

package server

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"repofs/pkg/db"
	"repofs/pkg/log"
	"repofs/pkg/models"
	"repofs/pkg/storage"
)

type repositoryRequest struct {
	Name string `json:"name"`
}

type repositoryResponse struct {
	Name string `json:"name"`
}

func (srv *Server) createRepository(ctx echo.Context) error {
	var req repositoryRequest
	if err := ctx.Bind(&req); err != nil || req.Name == "" {
		return ctx.JSON(http.StatusBadRequest, map[string]string{
			"error": "repository name is required",
		})
	}

	err := storage.RetryLoop(ctx.Request().Context(), srv.storage, 0, func(tx *storage.Tx) error {
		_, err := tx.CreateBucket(req.Name)
		return err
	})
	if errors.Is(err, db.ErrUniqueViolation) {
		return ctx.JSON(http.StatusConflict, map[string]string{
			"error": "repository already exists",
		})
	}
	if err != nil {
		log.Error().Err(err).Str("repository", req.Name).Msg("Failed to create repository")
		return ctx.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to create repository",
		})
	}

	log.Info().Str("repository", req.Name).Msg("Repository created")
	return ctx.JSON(http.StatusCreated, repositoryResponse{Name: req.Name})
}

func (srv *Server) listRepositories(ctx echo.Context) error {
	var buckets []*models.Bucket
	err := storage.RetryLoop(ctx.Request().Context(), srv.storage, 0, func(tx *storage.Tx) error {
		var err error
		buckets, err = tx.ListBuckets()
		return err
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to list repositories")
		return ctx.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to list repositories",
		})
	}

	names := make([]repositoryResponse, 0, len(buckets))
	for _, bucket := range buckets {
		names = append(names, repositoryResponse{Name: bucket.RepositoryName})
	}
	return ctx.JSON(http.StatusOK, names)
}

func (srv *Server) deleteRepository(ctx echo.Context) error {
	repoName := ctx.Param("repo")

	err := storage.RetryLoop(ctx.Request().Context(), srv.storage, 0, func(tx *storage.Tx) error {
		bucket, err := tx.FindBucket(repoName)
		if err != nil {
			return err
		}
		return tx.DeleteBucket(bucket)
	})
	if errors.Is(err, db.ErrNotFound) {
		return ctx.JSON(http.StatusNotFound, map[string]string{
			"error": "repository not found",
		})
	}
	if err != nil {
		log.Error().Err(err).Str("repository", repoName).Msg("Failed to delete repository")
		return ctx.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to delete repository",
		})
	}

	log.Info().Str("repository", repoName).Msg("Repository deleted")
	return ctx.NoContent(http.StatusNoContent)
}

package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"repofs/pkg/blob"
	"repofs/pkg/db"
	"repofs/pkg/log"
	"repofs/pkg/models"
	"repofs/pkg/storage"
)

type uploadResponse struct {
	Repository  string            `json:"repository"`
	Name        string            `json:"name"`
	Size        int64             `json:"size"`
	ContentType string            `json:"content_type"`
	Checksums   map[string]string `json:"checksums"`
	Duplicate   bool              `json:"duplicate"`
}

func (srv *Server) uploadAsset(ctx echo.Context) error {
	repoName := ctx.Param("repo")
	name := strings.Trim(ctx.Param("*"), "/")
	if name == "" {
		return ctx.JSON(http.StatusBadRequest, map[string]string{
			"error": "asset path is required",
		})
	}

	contentType := ctx.Request().Header.Get(echo.HeaderContentType)
	body := ctx.Request().Body
	defer func() {
		if err := body.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close request body")
		}
	}()

	var (
		asset     *models.Asset
		duplicate bool
	)
	// Single attempt: the request body can only stream once.
	err := storage.RetryLoop(ctx.Request().Context(), srv.storage, 1, func(tx *storage.Tx) error {
		bucket, err := tx.FindBucket(repoName)
		if err != nil {
			return err
		}

		asset, err = tx.FindAsset(bucket, nil, name)
		if errors.Is(err, db.ErrNotFound) {
			asset = tx.CreateAsset(bucket, "raw")
			asset.Name = name
		} else if err != nil {
			return err
		}

		assetBlob, err := tx.BlobTx().Create(body, map[string]string{
			blob.HeaderBlobName:    name,
			blob.HeaderContentType: contentType,
			blob.HeaderRepoName:    repoName,
			blob.HeaderCreatedBy:   ctx.RealIP(),
		})
		if err != nil {
			return err
		}
		if err := tx.AttachBlob(asset, assetBlob); err != nil {
			return err
		}
		duplicate = assetBlob.IsDuplicate()
		return tx.SaveAsset(asset)
	})
	if err != nil {
		return srv.contentError(ctx, err, repoName, name, "upload")
	}

	checksums := map[string]string{}
	for algorithm := range asset.Attributes.Child("checksum") {
		if digest := asset.Attributes.Child("checksum").GetString(algorithm); digest != "" {
			checksums[algorithm] = digest
		}
	}
	return ctx.JSON(http.StatusCreated, uploadResponse{
		Repository:  repoName,
		Name:        asset.Name,
		Size:        asset.Size,
		ContentType: asset.ContentType,
		Checksums:   checksums,
		Duplicate:   duplicate,
	})
}

func (srv *Server) downloadAsset(ctx echo.Context) error {
	repoName := ctx.Param("repo")
	name := strings.Trim(ctx.Param("*"), "/")

	var asset *models.Asset
	err := storage.RetryLoop(ctx.Request().Context(), srv.storage, 0, func(tx *storage.Tx) error {
		bucket, err := tx.FindBucket(repoName)
		if err != nil {
			return err
		}
		asset, err = tx.FindAsset(bucket, nil, name)
		if err != nil {
			return err
		}
		if _, err := tx.MaybeTouchLastAccessed(asset); err != nil {
			return err
		}
		if asset.MarkDownloaded(time.Now()) {
			return tx.SaveAsset(asset)
		}
		return nil
	})
	if err != nil {
		return srv.contentError(ctx, err, repoName, name, "download")
	}
	if asset.BlobRef == nil {
		return ctx.JSON(http.StatusNotFound, map[string]string{
			"error": "asset has no content",
		})
	}

	reader, err := srv.storage.BlobStore().Open(asset.BlobRef.ID)
	if err != nil {
		var notFound blob.NotFoundError
		if errors.As(err, &notFound) {
			log.Error().Str("blob", asset.BlobRef.ID).Msg("Asset references missing blob")
		}
		return srv.contentError(ctx, err, repoName, name, "download")
	}
	defer func() {
		if err := reader.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close blob reader")
		}
	}()

	contentType := asset.ContentType
	if contentType == "" {
		contentType = echo.MIMEOctetStream
	}
	return ctx.Stream(http.StatusOK, contentType, reader)
}

func (srv *Server) deleteAsset(ctx echo.Context) error {
	repoName := ctx.Param("repo")
	name := strings.Trim(ctx.Param("*"), "/")

	err := storage.RetryLoop(ctx.Request().Context(), srv.storage, 0, func(tx *storage.Tx) error {
		bucket, err := tx.FindBucket(repoName)
		if err != nil {
			return err
		}
		asset, err := tx.FindAsset(bucket, nil, name)
		if err != nil {
			return err
		}
		return tx.DeleteAsset(asset, true)
	})
	if err != nil {
		return srv.contentError(ctx, err, repoName, name, "delete")
	}

	log.Info().Str("repository", repoName).Str("asset", name).Msg("Asset deleted")
	return ctx.NoContent(http.StatusNoContent)
}

func (srv *Server) contentError(ctx echo.Context, err error, repoName, name, action string) error {
	switch {
	case errors.Is(err, db.ErrNotFound):
		return ctx.JSON(http.StatusNotFound, map[string]string{
			"error": "not found",
		})
	case errors.Is(err, models.ErrWritePolicy):
		return ctx.JSON(http.StatusForbidden, map[string]string{
			"error": err.Error(),
		})
	case isInvalidContent(err):
		return ctx.JSON(http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
	default:
		log.Error().Err(err).Str("repository", repoName).Str("asset", name).Msgf("Failed to %s asset", action)
		return ctx.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to " + action + " asset",
		})
	}
}

func isInvalidContent(err error) bool {
	var invalid blob.InvalidContentError
	return errors.As(err, &invalid)
}

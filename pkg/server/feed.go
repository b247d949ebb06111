package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"repofs/pkg/log"
	"repofs/pkg/models"
	"repofs/pkg/storage"
)

// ChangeRecord is one replication feed entry. Peers re-create the asset
// locally and fetch the content through the regular download endpoint.
type ChangeRecord struct {
	Repository     string            `json:"repository"`
	Name           string            `json:"name"`
	Size           int64             `json:"size"`
	ContentType    string            `json:"content_type"`
	BlobRef        string            `json:"blob_ref,omitempty"`
	Attributes     models.Attributes `json:"attributes"`
	LastUpdated    time.Time         `json:"last_updated"`
	LastDownloaded *time.Time        `json:"last_downloaded,omitempty"`
}

func (srv *Server) replicationChanges(ctx echo.Context) error {
	since := time.Time{}
	if raw := ctx.QueryParam("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return ctx.JSON(http.StatusBadRequest, map[string]string{
				"error": "since must be RFC3339",
			})
		}
		since = parsed
	}
	limit := 0
	if raw := ctx.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return ctx.JSON(http.StatusBadRequest, map[string]string{
				"error": "limit must be an integer",
			})
		}
		limit = parsed
	}

	var changed []*storage.ChangedAsset
	err := storage.RetryLoop(ctx.Request().Context(), srv.storage, 0, func(tx *storage.Tx) error {
		var err error
		changed, err = tx.AssetsChangedSince(since, limit)
		return err
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to read replication changes")
		return ctx.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to read replication changes",
		})
	}

	records := make([]ChangeRecord, 0, len(changed))
	for _, change := range changed {
		record := ChangeRecord{
			Repository:  change.RepositoryName,
			Name:        change.Asset.Name,
			Size:        change.Asset.Size,
			ContentType: change.Asset.ContentType,
			Attributes:  change.Asset.Attributes,
			LastUpdated: change.Asset.LastUpdated,
		}
		if change.Asset.BlobRef != nil {
			record.BlobRef = change.Asset.BlobRef.String()
		}
		if !change.Asset.LastDownloaded.IsZero() {
			downloaded := change.Asset.LastDownloaded
			record.LastDownloaded = &downloaded
		}
		records = append(records, record)
	}
	return ctx.JSON(http.StatusOK, records)
}

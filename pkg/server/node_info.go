package server

import (
	"net/http"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/labstack/echo/v4"

	"repofs/pkg/log"
)

// NodeInfo reports what an operator wants at a glance: how long the node
// has been up, how much content it holds, and how full the disk is.
type NodeInfo struct {
	Version       string   `json:"version"`
	Uptime        string   `json:"uptime"`
	UptimeSeconds int64    `json:"uptime_seconds"`
	Blobs         BlobInfo `json:"blobs"`
	Disk          DiskInfo `json:"disk"`
}

// BlobInfo summarizes the blob store population.
type BlobInfo struct {
	Live    int `json:"live"`
	Deleted int `json:"deleted"`
}

// DiskInfo reports usage of the filesystem holding the data directory.
type DiskInfo struct {
	Total          uint64 `json:"total"`
	Available      uint64 `json:"available"`
	TotalHuman     string `json:"total_human"`
	AvailableHuman string `json:"available_human"`
}

func (srv *Server) getNodeInfo(ctx echo.Context) error {
	info, err := srv.collectNodeInfo()
	if err != nil {
		log.Error().Err(err).Msg("Failed to collect node information")
		return ctx.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to collect node information",
		})
	}
	return ctx.JSON(http.StatusOK, info)
}

func (srv *Server) collectNodeInfo() (*NodeInfo, error) {
	live, err := srv.storage.BlobStore().LiveIDs()
	if err != nil {
		return nil, err
	}
	deleted, err := srv.storage.BlobStore().DeletedIDs()
	if err != nil {
		return nil, err
	}
	disk, err := getDiskInfo(srv.dataDir)
	if err != nil {
		return nil, err
	}

	uptime := time.Since(srv.started)
	return &NodeInfo{
		Version:       srv.version,
		Uptime:        uptime.Round(time.Second).String(),
		UptimeSeconds: int64(uptime.Seconds()),
		Blobs: BlobInfo{
			Live:    len(live),
			Deleted: len(deleted),
		},
		Disk: *disk,
	}, nil
}

func getDiskInfo(path string) (*DiskInfo, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return nil, err
	}

	total := stat.Blocks * uint64(stat.Bsize)
	available := stat.Bavail * uint64(stat.Bsize)
	return &DiskInfo{
		Total:          total,
		Available:      available,
		TotalHuman:     humanize.Bytes(total),
		AvailableHuman: humanize.Bytes(available),
	}, nil
}

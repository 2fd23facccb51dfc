// Package storage provides local and S3 storage for generated videos.
// Local storage holds the videos the gateway serves back as base64;
// S3 is used when a job asks for its video to be pushed.
package storage

import (
	"context"
	"io"
)

// Storage defines the interface for local and object storage of videos.
type Storage interface {
	// SaveTemp saves data to a new file and returns its path.
	// The name is used as a hint for the filename; its extension is kept.
	SaveTemp(ctx context.Context, name string, data io.Reader) (path string, err error)

	// LoadTemp opens a file previously returned by SaveTemp.
	// The caller is responsible for closing the returned ReadCloser.
	LoadTemp(ctx context.Context, path string) (io.ReadCloser, error)

	// CleanupTemp removes the specified files.
	// It continues cleanup even if some files fail to delete.
	CleanupTemp(ctx context.Context, paths []string) error

	// UploadToS3 uploads data under key and returns the object URL.
	// Returns ErrS3NotConfigured if S3 is not configured.
	UploadToS3(ctx context.Context, key string, data io.Reader) (url string, err error)

	// DeleteFromS3 removes the object stored under key.
	// Returns ErrS3NotConfigured if S3 is not configured.
	DeleteFromS3(ctx context.Context, key string) error
}

// VideoKey returns the object key used for a job's video.
func VideoKey(jobID string) string {
	return "videos/" + jobID + ".mp4"
}

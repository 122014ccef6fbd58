// Package filestore archives uploaded audio files and generated tracks.
package filestore

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/igolaizola/sunoprompt/pkg/filestore/local"
	"github.com/igolaizola/sunoprompt/pkg/filestore/s3"
)

type fs interface {
	Upload(ctx context.Context, path, name string) error
	Download(ctx context.Context, path, name string) error
}

type Store struct {
	fs fs
}

// SetUpload archives an uploaded audio file and returns its name in the
// store.
func (s *Store) SetUpload(ctx context.Context, path, id, ext string) (string, error) {
	name := Upload(id, ext)
	if err := s.fs.Upload(ctx, path, name); err != nil {
		return "", err
	}
	return name, nil
}

// SetTrack archives a generated track and returns its name in the store.
func (s *Store) SetTrack(ctx context.Context, path, id string) (string, error) {
	name := Track(id)
	if err := s.fs.Upload(ctx, path, name); err != nil {
		return "", err
	}
	return name, nil
}

// Get downloads the file stored under name to path.
func (s *Store) Get(ctx context.Context, path, name string) error {
	return s.fs.Download(ctx, path, name)
}

// New creates a file store. Supported types are local, with a directory as
// connection string, and s3, with key:secret@bucket.region[@endpoint].
func New(typ, conn string, debug bool) (*Store, error) {
	var fs fs
	switch typ {
	case "s3":
		split := strings.SplitN(conn, "@", 3)
		if len(split) < 2 {
			return nil, fmt.Errorf("filestore: invalid s3 connection string %q", conn)
		}
		auth := strings.Split(split[0], ":")
		if len(auth) != 2 {
			return nil, fmt.Errorf("filestore: invalid s3 auth string %q", conn)
		}
		loc := strings.Split(split[1], ".")
		if len(loc) != 2 {
			return nil, fmt.Errorf("filestore: invalid s3 location string %q", conn)
		}
		var endpoint string
		if len(split) == 3 {
			endpoint = split[2]
		}
		candidate, err := s3.New(&s3.Config{
			Key:      auth[0],
			Secret:   auth[1],
			Bucket:   loc[0],
			Region:   loc[1],
			Endpoint: endpoint,
			Debug:    debug,
		})
		if err != nil {
			return nil, fmt.Errorf("filestore: %w", err)
		}
		fs = candidate
	case "local":
		if conn == "" {
			return nil, fmt.Errorf("filestore: local directory is required")
		}
		fs = local.New(conn, debug)
	default:
		return nil, fmt.Errorf("filestore: unknown file storage type %q", typ)
	}
	return &Store{fs: fs}, nil
}

func Upload(id, ext string) string {
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	return path.Join("uploads", id+"."+ext)
}

func Track(id string) string {
	return path.Join("tracks", id+".mp3")
}

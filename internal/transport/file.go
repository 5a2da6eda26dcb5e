package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"

	"github.com/spf13/afero"
)

// File serves file:// URIs from a filesystem, typically a mounted update
// medium.
type File struct {
	fs        afero.Fs
	chunkSize int
}

// NewFile returns a file backend over fsys (nil means the OS filesystem).
func NewFile(fsys afero.Fs, chunkSize int) *File {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	return &File{fs: fsys, chunkSize: chunkSize}
}

// Download implements Transport.
func (f *File) Download(ctx context.Context, uri string, onChunk ChunkFunc, resumeOffset int64) (Response, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return Response{}, fmt.Errorf("parse uri %q: %w", uri, err)
	}

	src, err := f.fs.Open(u.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Response{StatusCode: http.StatusNotFound}, nil
		}
		return Response{}, fmt.Errorf("open %s: %w", u.Path, err)
	}
	defer src.Close()

	if resumeOffset > 0 {
		if _, err := src.Seek(resumeOffset, io.SeekStart); err != nil {
			return Response{}, fmt.Errorf("seek %s to %d: %w", u.Path, resumeOffset, err)
		}
	}

	n, err := stream(ctx, src, f.chunkSize, onChunk)
	return Response{StatusCode: successStatus(resumeOffset), Bytes: n}, err
}

package telegram

import (
	"context"
	"fmt"
	"io"

	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
)

// ChunkStream iterates a remote document as fixed-size byte chunks via
// upload.getFile. The stream is restartable only from the beginning; local
// pause/resume of an open stream is the caller's concern.
type ChunkStream struct {
	api       *tg.Client
	location  tg.InputFileLocationClass
	chunkSize int
	offset    int64
	done      bool
}

// OpenChunkedDownload opens a chunked byte stream for a downloadable
// document. chunkSize must be a multiple of 4 KiB per API rules.
func (c *Client) OpenChunkedDownload(media *MediaInfo, chunkSize int) (*ChunkStream, error) {
	if media == nil || !media.Downloadable {
		return nil, ErrUnsupportedMedia
	}

	api, err := c.api()
	if err != nil {
		return nil, err
	}

	return &ChunkStream{
		api: api,
		location: &tg.InputDocumentFileLocation{
			ID:            media.DocumentID,
			AccessHash:    media.AccessHash,
			FileReference: media.FileReference,
		},
		chunkSize: chunkSize,
	}, nil
}

// Next returns the next chunk, or io.EOF at end of stream. A short chunk
// marks the stream as drained. FLOOD_WAIT responses surface as
// *FloodWaitError and leave the offset untouched so the same chunk can be
// re-requested after the wait.
func (s *ChunkStream) Next(ctx context.Context) ([]byte, error) {
	if s.done {
		return nil, io.EOF
	}

	res, err := s.api.UploadGetFile(ctx, &tg.UploadGetFileRequest{
		Location: s.location,
		Offset:   s.offset,
		Limit:    s.chunkSize,
	})
	if err != nil {
		if wait, ok := tgerr.AsFloodWait(err); ok {
			return nil, &FloodWaitError{Wait: wait}
		}
		return nil, fmt.Errorf("get file chunk at offset %d: %w", s.offset, err)
	}

	file, ok := res.(*tg.UploadFile)
	if !ok {
		return nil, fmt.Errorf("unexpected upload response %T", res)
	}

	if len(file.Bytes) == 0 {
		s.done = true
		return nil, io.EOF
	}
	if len(file.Bytes) < s.chunkSize {
		s.done = true
	}

	s.offset += int64(len(file.Bytes))
	return file.Bytes, nil
}

package mcpserver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	syncerrors "github.com/alexjbarnes/replica-sync/internal/errors"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sergi/go-diff/diffmatchpatch"
)

const (
	// maxDiffBytes caps each side of a conflict diff.
	maxDiffBytes = 1 << 20

	// diffContextLines is how many unchanged lines surround each change.
	diffContextLines = 2
)

var errTooLarge = errors.New("content too large to diff")

// ContentFetcher downloads server content. *remote.Client implements it.
type ContentFetcher interface {
	Download(ctx context.Context, remotePath, account, spaceID string, w io.Writer) (string, error)
}

// ConflictDiffInput holds parameters for sync_conflict_diff.
type ConflictDiffInput struct {
	FileID int64 `json:"file_id" jsonschema:"required,id of the file in conflict"`
}

// ConflictDiffResult is returned by sync_conflict_diff. Diff is a line
// diff from the local version to the server version; it is empty for
// binary content.
type ConflictDiffResult struct {
	FileID     int64  `json:"file_id"`
	Path       string `json:"path"`
	ServerEtag string `json:"server_etag"`
	Binary     bool   `json:"binary,omitempty"`
	Added      int    `json:"lines_added"`
	Removed    int    `json:"lines_removed"`
	Diff       string `json:"diff,omitempty"`
}

func conflictDiffHandler(d *Deps) mcp.ToolHandlerFor[ConflictDiffInput, *ConflictDiffResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input ConflictDiffInput) (*mcp.CallToolResult, *ConflictDiffResult, error) {
		f, err := d.Store.GetFileByID(input.FileID)
		if err != nil {
			return nil, nil, err
		}

		if f == nil {
			return nil, nil, fmt.Errorf("file %d: %w", input.FileID, syncerrors.ErrFileNotFound)
		}

		if !f.InConflict() {
			return nil, nil, fmt.Errorf("file %d (%s) is not in conflict", f.ID, f.RemotePath)
		}

		local, err := readCapped(f.StoragePath)
		if err != nil {
			return nil, nil, fmt.Errorf("reading local version of %s: %w", f.RemotePath, err)
		}

		server := &cappedBuffer{max: maxDiffBytes}

		etag, err := d.Remote.Download(ctx, f.RemotePath, f.AccountName, f.SpaceID, server)
		if err != nil {
			return nil, nil, fmt.Errorf("fetching server version of %s: %w", f.RemotePath, err)
		}

		result := &ConflictDiffResult{FileID: f.ID, Path: f.RemotePath, ServerEtag: etag}

		if !utf8.Valid(local) || !utf8.Valid(server.Bytes()) {
			result.Binary = true
			return textResult(result), result, nil
		}

		result.Diff, result.Added, result.Removed = lineDiff(string(local), server.String())

		return textResult(result), result, nil
	}
}

func readCapped(p string) ([]byte, error) {
	if p == "" {
		return nil, syncerrors.ErrNoLocalBytes
	}

	in, err := os.Open(p) //nolint:gosec // G304: p is a storage path recorded by the store
	if err != nil {
		return nil, err
	}
	defer in.Close()

	data, err := io.ReadAll(io.LimitReader(in, maxDiffBytes+1))
	if err != nil {
		return nil, err
	}

	if len(data) > maxDiffBytes {
		return nil, errTooLarge
	}

	return data, nil
}

// cappedBuffer fails writes past max bytes. The buffer is a named field
// so io.Copy cannot bypass Write through a promoted ReadFrom.
type cappedBuffer struct {
	buf bytes.Buffer
	max int
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if b.buf.Len()+len(p) > b.max {
		return 0, errTooLarge
	}

	return b.buf.Write(p)
}

func (b *cappedBuffer) Bytes() []byte  { return b.buf.Bytes() }
func (b *cappedBuffer) String() string { return b.buf.String() }

// lineDiff renders a line diff from a to b with a few lines of context
// around each change. It returns the rendering and the number of lines
// added and removed.
func lineDiff(a, b string) (string, int, int) {
	dmp := diffmatchpatch.New()

	ca, cb, lines := dmp.DiffLinesToChars(a, b)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(ca, cb, false), lines)

	var (
		out            strings.Builder
		added, removed int
	)

	for i, diff := range diffs {
		chunk := splitLines(diff.Text)

		switch diff.Type {
		case diffmatchpatch.DiffInsert:
			added += len(chunk)
			writeLines(&out, "+", chunk)
		case diffmatchpatch.DiffDelete:
			removed += len(chunk)
			writeLines(&out, "-", chunk)
		case diffmatchpatch.DiffEqual:
			writeContext(&out, chunk, i == 0, i == len(diffs)-1)
		}
	}

	return out.String(), added, removed
}

// writeContext writes the unchanged lines next to a change and elides the
// rest.
func writeContext(out *strings.Builder, chunk []string, first, last bool) {
	n := diffContextLines

	switch {
	case first && last:
		return
	case first:
		if len(chunk) > n {
			out.WriteString("...\n")
			chunk = chunk[len(chunk)-n:]
		}

		writeLines(out, " ", chunk)
	case last:
		if len(chunk) > n {
			writeLines(out, " ", chunk[:n])
			out.WriteString("...\n")

			return
		}

		writeLines(out, " ", chunk)
	default:
		if len(chunk) > 2*n {
			writeLines(out, " ", chunk[:n])
			out.WriteString("...\n")
			writeLines(out, " ", chunk[len(chunk)-n:])

			return
		}

		writeLines(out, " ", chunk)
	}
}

func writeLines(out *strings.Builder, prefix string, chunk []string) {
	for _, line := range chunk {
		out.WriteString(prefix)
		out.WriteString(line)

		if !strings.HasSuffix(line, "\n") {
			out.WriteString("\n")
		}
	}
}

func splitLines(s string) []string {
	parts := strings.SplitAfter(s, "\n")
	if len(parts) > 0 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}

	return parts
}

// Package mcpserver registers MCP tools that expose sync and conflict
// operations. It stands in for a user interface: an agent can list
// conflicts, decide them and trigger syncs.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	syncerrors "github.com/alexjbarnes/replica-sync/internal/errors"
	"github.com/alexjbarnes/replica-sync/internal/models"
	"github.com/alexjbarnes/replica-sync/internal/synchronizer"
	"github.com/alexjbarnes/replica-sync/internal/transfer"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Store is the part of the state store the tools read and write.
type Store interface {
	synchronizer.ConflictStore
	GetFileByPath(account, space, remotePath string) (*models.File, error)
	Conflicts() ([]models.File, error)
	SetAvailableOffline(id int64, offline bool) error
}

// FolderSyncer runs a folder synchronization. *synchronizer.Orchestrator
// implements it.
type FolderSyncer interface {
	SynchronizeFolder(ctx context.Context, remotePath, account, spaceID string, mode synchronizer.Mode) error
}

// FileReconciler reconciles one file by id. *synchronizer.Reconciler
// implements it.
type FileReconciler interface {
	ReconcileFile(ctx context.Context, id int64) (synchronizer.Outcome, error)
}

// JobLister reports transfer jobs. *transfer.Queue implements it.
type JobLister interface {
	Jobs() []transfer.Job
}

// Deps bundles what the tools operate on. Account and SpaceID scope the
// paths tools accept.
type Deps struct {
	Store      Store
	Syncer     FolderSyncer
	Reconciler FileReconciler
	Downloads  synchronizer.DownloadEnqueuer
	Uploads    synchronizer.UploadEnqueuer
	Jobs       JobLister
	Remote     ContentFetcher
	Account    string
	SpaceID    string
	Logger     *slog.Logger
}

// RegisterTools adds all sync tools to the given MCP server.
func RegisterTools(server *mcp.Server, d *Deps) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "sync_list_conflicts",
		Description: "List every file whose local and server versions both changed since the last sync. Each entry carries the file id needed by sync_resolve_conflict.",
	}, listConflictsHandler(d))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "sync_resolve_conflict",
		Description: "Apply a decision to a file in conflict. KEEP_LOCAL uploads the local version over the server's, KEEP_SERVER downloads the server version, KEEP_BOTH uploads the local version as a new sibling file and downloads the server version into the original, CANCEL leaves the conflict in place.",
	}, resolveConflictHandler(d))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "sync_folder",
		Description: "Synchronize a remote folder. Modes: REFRESH_FOLDER (one level, metadata only), REFRESH_FOLDER_RECURSIVELY, SYNC_CONTENTS (sync local files, descend into offline folders), SYNC_FOLDER_RECURSIVELY (sync everything).",
	}, syncFolderHandler(d))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "sync_reconcile_file",
		Description: "Compare one file with the server and enqueue whatever transfer it needs. Returns the outcome.",
	}, reconcileFileHandler(d))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "sync_conflict_diff",
		Description: "Show a line diff from the local version of a file in conflict to the current server version. Use it before choosing a decision for sync_resolve_conflict. Binary content is reported without a diff.",
	}, conflictDiffHandler(d))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "sync_file_info",
		Description: "Show the local sync record for a remote path: etag, conflict marker, timestamps and whether the bytes are stored locally.",
	}, fileInfoHandler(d))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "sync_set_offline",
		Description: "Mark a file or folder as available offline, so SYNC_CONTENTS keeps it and its children downloaded.",
	}, setOfflineHandler(d))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "sync_transfers",
		Description: "List pending, running and recently finished downloads and uploads.",
	}, transfersHandler(d))
}

// --- Input types ---
// The MCP SDK infers JSON schema from these struct types via jsonschema tags.

// ListConflictsInput has no parameters.
type ListConflictsInput struct{}

// ResolveConflictInput holds parameters for sync_resolve_conflict.
type ResolveConflictInput struct {
	FileID   int64  `json:"file_id" jsonschema:"required,id of the file in conflict"`
	Decision string `json:"decision" jsonschema:"required,one of KEEP_LOCAL, KEEP_BOTH, KEEP_SERVER, CANCEL"`
}

// SyncFolderInput holds parameters for sync_folder.
type SyncFolderInput struct {
	Path string `json:"path,omitempty" jsonschema:"remote folder path, defaults to /"`
	Mode string `json:"mode,omitempty" jsonschema:"orchestration mode, defaults to SYNC_CONTENTS"`
}

// ReconcileFileInput holds parameters for sync_reconcile_file.
type ReconcileFileInput struct {
	FileID int64 `json:"file_id" jsonschema:"required,id of the file to reconcile"`
}

// FileInfoInput holds parameters for sync_file_info.
type FileInfoInput struct {
	Path string `json:"path" jsonschema:"required,remote path of the file or folder"`
}

// SetOfflineInput holds parameters for sync_set_offline.
type SetOfflineInput struct {
	Path    string `json:"path" jsonschema:"required,remote path of the file or folder"`
	Offline bool   `json:"offline" jsonschema:"keep the file downloaded"`
}

// TransfersInput has no parameters.
type TransfersInput struct{}

// --- Results ---

// ConflictEntry describes one file in conflict.
type ConflictEntry struct {
	FileID     int64  `json:"file_id"`
	Path       string `json:"path"`
	Space      string `json:"space,omitempty"`
	LocalEtag  string `json:"local_etag"`
	ServerEtag string `json:"server_etag"`
}

// ListConflictsResult is returned by sync_list_conflicts.
type ListConflictsResult struct {
	Total     int             `json:"total"`
	Conflicts []ConflictEntry `json:"conflicts"`
}

// ResolveConflictResult is returned by sync_resolve_conflict.
type ResolveConflictResult struct {
	FileID   int64  `json:"file_id"`
	Decision string `json:"decision"`
	Skipped  bool   `json:"skipped,omitempty"`
	Download string `json:"download_job,omitempty"`
	Upload   string `json:"upload_job,omitempty"`
}

// SyncFolderResult is returned by sync_folder.
type SyncFolderResult struct {
	Path string `json:"path"`
	Mode string `json:"mode"`
}

// ReconcileFileResult is returned by sync_reconcile_file.
type ReconcileFileResult struct {
	FileID  int64  `json:"file_id"`
	Outcome string `json:"outcome"`
}

// FileInfoResult is returned by sync_file_info and sync_set_offline.
type FileInfoResult struct {
	File models.File `json:"file"`
}

// TransferEntry describes one transfer job.
type TransferEntry struct {
	ID       string `json:"id"`
	Kind     string `json:"kind"`
	FileID   int64  `json:"file_id"`
	Path     string `json:"path"`
	Mode     string `json:"mode,omitempty"`
	Status   string `json:"status"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error,omitempty"`
}

// TransfersResult is returned by sync_transfers.
type TransfersResult struct {
	Total int             `json:"total"`
	Jobs  []TransferEntry `json:"jobs"`
}

// --- Handlers ---

func listConflictsHandler(d *Deps) mcp.ToolHandlerFor[ListConflictsInput, *ListConflictsResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, _ ListConflictsInput) (*mcp.CallToolResult, *ListConflictsResult, error) {
		files, err := d.Store.Conflicts()
		if err != nil {
			return nil, nil, err
		}

		result := &ListConflictsResult{Conflicts: make([]ConflictEntry, 0, len(files))}
		for _, f := range files {
			result.Conflicts = append(result.Conflicts, ConflictEntry{
				FileID:     f.ID,
				Path:       f.RemotePath,
				Space:      f.SpaceID,
				LocalEtag:  f.Etag,
				ServerEtag: f.EtagInConflict,
			})
		}

		sort.Slice(result.Conflicts, func(i, j int) bool {
			return result.Conflicts[i].Path < result.Conflicts[j].Path
		})
		result.Total = len(result.Conflicts)

		return textResult(result), result, nil
	}
}

func resolveConflictHandler(d *Deps) mcp.ToolHandlerFor[ResolveConflictInput, *ResolveConflictResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input ResolveConflictInput) (*mcp.CallToolResult, *ResolveConflictResult, error) {
		decision, err := synchronizer.ParseDecision(input.Decision)
		if err != nil {
			return nil, nil, err
		}

		c := synchronizer.NewConflictCoordinator(input.FileID, d.Store, d.Downloads, d.Uploads, d.Logger)

		res, err := c.Apply(ctx, decision)
		if err != nil {
			return nil, nil, err
		}

		result := &ResolveConflictResult{
			FileID:   input.FileID,
			Decision: res.Decision.String(),
			Skipped:  res.Skipped,
			Download: jobString(res.Download),
			Upload:   jobString(res.Upload),
		}

		return textResult(result), result, nil
	}
}

func syncFolderHandler(d *Deps) mcp.ToolHandlerFor[SyncFolderInput, *SyncFolderResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input SyncFolderInput) (*mcp.CallToolResult, *SyncFolderResult, error) {
		mode := synchronizer.ModeSyncContents
		if input.Mode != "" {
			m, err := synchronizer.ParseMode(input.Mode)
			if err != nil {
				return nil, nil, err
			}

			mode = m
		}

		p := input.Path
		if p == "" {
			p = "/"
		}

		if err := d.Syncer.SynchronizeFolder(ctx, p, d.Account, d.SpaceID, mode); err != nil {
			return nil, nil, err
		}

		result := &SyncFolderResult{Path: p, Mode: mode.String()}

		return textResult(result), result, nil
	}
}

func reconcileFileHandler(d *Deps) mcp.ToolHandlerFor[ReconcileFileInput, *ReconcileFileResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input ReconcileFileInput) (*mcp.CallToolResult, *ReconcileFileResult, error) {
		outcome, err := d.Reconciler.ReconcileFile(ctx, input.FileID)
		if err != nil {
			return nil, nil, err
		}

		result := &ReconcileFileResult{FileID: input.FileID, Outcome: outcome.String()}

		return textResult(result), result, nil
	}
}

func fileInfoHandler(d *Deps) mcp.ToolHandlerFor[FileInfoInput, *FileInfoResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, input FileInfoInput) (*mcp.CallToolResult, *FileInfoResult, error) {
		f, err := d.lookup(input.Path)
		if err != nil {
			return nil, nil, err
		}

		result := &FileInfoResult{File: *f}

		return textResult(result), result, nil
	}
}

func setOfflineHandler(d *Deps) mcp.ToolHandlerFor[SetOfflineInput, *FileInfoResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, input SetOfflineInput) (*mcp.CallToolResult, *FileInfoResult, error) {
		f, err := d.lookup(input.Path)
		if err != nil {
			return nil, nil, err
		}

		if err := d.Store.SetAvailableOffline(f.ID, input.Offline); err != nil {
			return nil, nil, err
		}

		f.AvailableOffline = input.Offline
		result := &FileInfoResult{File: *f}

		return textResult(result), result, nil
	}
}

func transfersHandler(d *Deps) mcp.ToolHandlerFor[TransfersInput, *TransfersResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, _ TransfersInput) (*mcp.CallToolResult, *TransfersResult, error) {
		jobs := d.Jobs.Jobs()

		result := &TransfersResult{Jobs: make([]TransferEntry, 0, len(jobs))}
		for _, j := range jobs {
			entry := TransferEntry{
				ID:       string(j.ID),
				Kind:     string(j.Kind),
				FileID:   j.FileID,
				Path:     j.RemotePath,
				Status:   string(j.Status),
				Attempts: j.Attempts,
				Error:    j.Error,
			}
			if j.Kind == transfer.KindUpload {
				entry.Mode = j.Mode.String()
			}

			result.Jobs = append(result.Jobs, entry)
		}

		sort.Slice(result.Jobs, func(i, j int) bool {
			return result.Jobs[i].ID < result.Jobs[j].ID
		})
		result.Total = len(result.Jobs)

		return textResult(result), result, nil
	}
}

func (d *Deps) lookup(remotePath string) (*models.File, error) {
	f, err := d.Store.GetFileByPath(d.Account, d.SpaceID, remotePath)
	if err != nil {
		return nil, err
	}

	if f == nil {
		return nil, fmt.Errorf("%w: %s", syncerrors.ErrFileNotFound, remotePath)
	}

	return f, nil
}

func jobString(id *models.JobID) string {
	if id == nil {
		return ""
	}

	return string(*id)
}

// textResult builds a CallToolResult with JSON text content from any value.
// This provides the unstructured content alongside the structured output
// that the SDK populates automatically.
func textResult(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("error marshaling result: %v", err)}},
			IsError: true,
		}
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}
}

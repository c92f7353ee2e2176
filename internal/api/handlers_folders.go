package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/joltmail/jolt/internal/folders"
	"github.com/joltmail/jolt/internal/store"
)

// FolderNode represents a folder and its children in tree responses.
type FolderNode struct {
	ID       int64        `json:"id"`
	Name     string       `json:"name"`
	Kind     string       `json:"kind"`
	Position int          `json:"position"`
	Children []FolderNode `json:"children,omitempty"`
}

func toFolderNodes(nodes []*folders.Node) []FolderNode {
	result := make([]FolderNode, len(nodes))
	for i, n := range nodes {
		result[i] = FolderNode{
			ID:       n.Folder.ID,
			Name:     n.Folder.Name,
			Kind:     n.Folder.Kind,
			Position: n.Folder.Position,
			Children: toFolderNodes(n.Children),
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

// writeFolderError maps folder manager errors to HTTP statuses.
func (s *Server) writeFolderError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, folders.ErrImmutableFolder):
		writeError(w, http.StatusForbidden, "immutable_folder", err.Error())
	case errors.Is(err, folders.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, folders.ErrCycle):
		writeError(w, http.StatusConflict, "cycle", err.Error())
	default:
		s.logger.Error("folder operation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Folder operation failed")
	}
}

// handleFolderTree returns an account's folder forest.
func (s *Server) handleFolderTree(w http.ResponseWriter, r *http.Request) {
	accountID, ok := urlID(w, r, "id")
	if !ok {
		return
	}
	tree, err := s.deps.Folders.Tree(accountID)
	if err != nil {
		s.logger.Error("failed to build folder tree", "account", accountID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to retrieve folders")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"folders": toFolderNodes(tree)})
}

// handleCreateFolder creates a custom folder.
func (s *Server) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	accountID, ok := urlID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Name     string `json:"name"`
		ParentID int64  `json:"parent_id"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "missing_name", "Folder name is required")
		return
	}

	f, err := s.deps.Folders.Create(accountID, req.Name, req.ParentID)
	if err != nil {
		s.writeFolderError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, FolderNode{ID: f.ID, Name: f.Name, Kind: f.Kind, Position: f.Position})
}

// handleRenameFolder renames a custom folder.
func (s *Server) handleRenameFolder(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "missing_name", "Folder name is required")
		return
	}
	if err := s.deps.Folders.Rename(id, req.Name); err != nil {
		s.writeFolderError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDeleteFolder deletes a custom folder.
func (s *Server) handleDeleteFolder(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r, "id")
	if !ok {
		return
	}
	if err := s.deps.Folders.Delete(id); err != nil {
		s.writeFolderError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleMoveFolder reparents a custom folder. parent_id 0 moves it to the
// root level.
func (s *Server) handleMoveFolder(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		ParentID int64 `json:"parent_id"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.deps.Folders.Move(id, req.ParentID); err != nil {
		s.writeFolderError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleReorderFolder places a folder before or after a sibling.
func (s *Server) handleReorderFolder(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		TargetID int64  `json:"target_id"`
		Position string `json:"position"` // "before" or "after"
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.deps.Folders.ReorderRelative(id, req.TargetID, req.Position); err != nil {
		s.writeFolderError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleMarkFolderRead marks every message in a folder read.
func (s *Server) handleMarkFolderRead(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r, "id")
	if !ok {
		return
	}
	affected, err := s.deps.Store.MarkFolderRead(id)
	if err != nil {
		s.logger.Error("failed to mark folder read", "folder", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to mark folder read")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"marked_read": affected})
}

// handleListFolderMessages returns one page of a folder's messages.
func (s *Server) handleListFolderMessages(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r, "id")
	if !ok {
		return
	}
	offset, pageSize, page := pageParams(r)

	messages, total, err := s.deps.Store.ListMessagesByFolder(id, offset, pageSize)
	if err != nil {
		s.logger.Error("failed to list messages", "folder", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to retrieve messages")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total":     total,
		"page":      page,
		"page_size": pageSize,
		"messages":  toSummaries(messages),
	})
}

// ThreadInfo represents a thread summary in list responses.
type ThreadInfo struct {
	ThreadID     string   `json:"thread_id"`
	Subject      string   `json:"subject"`
	LatestAt     string   `json:"latest_at,omitempty"`
	MessageCount int64    `json:"message_count"`
	UnreadCount  int64    `json:"unread_count"`
	AnyStarred   bool     `json:"any_starred"`
	HasAttach    bool     `json:"has_attachments"`
	Participants []string `json:"participants,omitempty"`
}

func toThreadInfo(t *store.ThreadSummary) ThreadInfo {
	info := ThreadInfo{
		ThreadID:     t.ThreadID,
		Subject:      t.Subject,
		MessageCount: t.MessageCount,
		UnreadCount:  t.UnreadCount,
		AnyStarred:   t.AnyStarred,
		HasAttach:    t.HasAttachments,
	}
	if !t.LatestAt.IsZero() {
		info.LatestAt = t.LatestAt.UTC().Format(time.RFC3339)
	}
	for _, p := range t.Participants {
		info.Participants = append(info.Participants, p.String())
	}
	return info
}

// handleListFolderThreads returns one page of thread summaries for threads
// with at least one member in the folder. Counts cover the whole thread, not
// just the members in this folder.
func (s *Server) handleListFolderThreads(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r, "id")
	if !ok {
		return
	}
	folder, err := s.deps.Store.GetFolder(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to retrieve folder")
		return
	}
	if folder == nil {
		writeError(w, http.StatusNotFound, "not_found", "Folder not found")
		return
	}

	offset, pageSize, page := pageParams(r)
	threads, total, err := s.deps.Store.ListThreadsByFolder(folder.AccountID, id, offset, pageSize)
	if err != nil {
		s.logger.Error("failed to list threads", "folder", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to retrieve threads")
		return
	}

	infos := make([]ThreadInfo, len(threads))
	for i, t := range threads {
		infos[i] = toThreadInfo(t)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total":     total,
		"page":      page,
		"page_size": pageSize,
		"threads":   infos,
	})
}

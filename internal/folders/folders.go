// Package folders maintains the per-account folder forest: stable ordering,
// nesting, and reconciliation of remote folder names with local custom folders.
package folders

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/joltmail/jolt/internal/remote"
	"github.com/joltmail/jolt/internal/store"
)

var (
	// ErrImmutableFolder is returned when a rename/move/delete targets a
	// system-kind folder. System folders are reconciled from the remote side
	// only.
	ErrImmutableFolder = errors.New("system folders cannot be renamed, moved or deleted")

	// ErrNotFound is returned when a folder does not exist.
	ErrNotFound = errors.New("folder not found")

	// ErrCycle is returned when a move would make a folder its own ancestor.
	ErrCycle = errors.New("folder move would create a cycle")
)

// Positions before/after a reorder target.
const (
	Before = "before"
	After  = "after"
)

// Manager maintains an account's folder forest.
type Manager struct {
	store  *store.Store
	logger *slog.Logger
}

// New creates a folder manager.
func New(st *store.Store) *Manager {
	return &Manager{store: st, logger: slog.Default()}
}

// WithLogger sets the logger.
func (m *Manager) WithLogger(logger *slog.Logger) *Manager {
	m.logger = logger
	return m
}

// Node is one folder with its computed children, ordered by position.
type Node struct {
	Folder   *store.Folder
	Children []*Node
}

// Create adds a custom folder under parentID (0 = root), appended to the end
// of its sibling set.
func (m *Manager) Create(accountID int64, name string, parentID int64) (*store.Folder, error) {
	if parentID != 0 {
		parent, err := m.store.GetFolder(parentID)
		if err != nil {
			return nil, err
		}
		if parent == nil || parent.AccountID != accountID {
			return nil, fmt.Errorf("parent folder %d: %w", parentID, ErrNotFound)
		}
	}

	siblings, err := m.store.SiblingFolders(accountID, parentID)
	if err != nil {
		return nil, err
	}

	f := &store.Folder{
		AccountID: accountID,
		Name:      name,
		Kind:      store.FolderCustom,
		Position:  len(siblings),
	}
	if parentID != 0 {
		f.ParentID.Int64 = parentID
		f.ParentID.Valid = true
	}

	id, err := m.store.CreateFolder(f)
	if err != nil {
		return nil, err
	}
	f.ID = id
	return f, nil
}

// Rename changes the display name of a custom folder.
func (m *Manager) Rename(folderID int64, name string) error {
	f, err := m.mutableFolder(folderID)
	if err != nil {
		return err
	}
	return m.store.RenameFolder(f.ID, name)
}

// Delete removes a custom folder. Its messages are deleted with it, not
// reparented.
func (m *Manager) Delete(folderID int64) error {
	f, err := m.mutableFolder(folderID)
	if err != nil {
		return err
	}
	if err := m.store.DeleteFolder(f.ID); err != nil {
		return err
	}
	// Close the gap in the old sibling set.
	return m.resequence(f.AccountID, parentKey(f))
}

// Move reparents a custom folder. newParentID 0 moves it to the root set.
// The folder is appended to the end of the new sibling set.
func (m *Manager) Move(folderID int64, newParentID int64) error {
	f, err := m.mutableFolder(folderID)
	if err != nil {
		return err
	}
	if newParentID == folderID {
		return ErrCycle
	}
	if newParentID != 0 {
		parent, err := m.store.GetFolder(newParentID)
		if err != nil {
			return err
		}
		if parent == nil || parent.AccountID != f.AccountID {
			return fmt.Errorf("parent folder %d: %w", newParentID, ErrNotFound)
		}
		if err := m.checkNoCycle(folderID, parent); err != nil {
			return err
		}
	}

	oldParent := parentKey(f)
	if err := m.store.SetFolderParent(f.ID, newParentID); err != nil {
		return err
	}
	if err := m.resequence(f.AccountID, newParentID); err != nil {
		return err
	}
	if oldParent != newParentID {
		return m.resequence(f.AccountID, oldParent)
	}
	return nil
}

// ReorderRelative places a folder immediately before or after a target
// folder, recomputing contiguous sort keys for the affected sibling sets.
// Reordering does not require a custom folder, but moving into a different
// parent does.
func (m *Manager) ReorderRelative(folderID, targetID int64, position string) error {
	if position != Before && position != After {
		return fmt.Errorf("invalid position %q", position)
	}
	if folderID == targetID {
		return fmt.Errorf("cannot reorder folder relative to itself")
	}

	f, err := m.store.GetFolder(folderID)
	if err != nil {
		return err
	}
	if f == nil {
		return fmt.Errorf("folder %d: %w", folderID, ErrNotFound)
	}
	target, err := m.store.GetFolder(targetID)
	if err != nil {
		return err
	}
	if target == nil || target.AccountID != f.AccountID {
		return fmt.Errorf("target folder %d: %w", targetID, ErrNotFound)
	}

	newParent := parentKey(target)
	oldParent := parentKey(f)
	if newParent != oldParent {
		if f.IsSystem() {
			return ErrImmutableFolder
		}
		if newParent != 0 {
			parent, err := m.store.GetFolder(newParent)
			if err != nil {
				return err
			}
			if err := m.checkNoCycle(folderID, parent); err != nil {
				return err
			}
		}
		if err := m.store.SetFolderParent(f.ID, newParent); err != nil {
			return err
		}
	}

	siblings, err := m.store.SiblingFolders(f.AccountID, newParent)
	if err != nil {
		return err
	}

	ordered := make([]int64, 0, len(siblings))
	for _, sib := range siblings {
		if sib.ID == folderID {
			continue
		}
		if sib.ID == targetID && position == Before {
			ordered = append(ordered, folderID)
		}
		ordered = append(ordered, sib.ID)
		if sib.ID == targetID && position == After {
			ordered = append(ordered, folderID)
		}
	}

	if err := m.store.SetFolderPositions(ordered); err != nil {
		return err
	}
	if oldParent != newParent {
		return m.resequence(f.AccountID, oldParent)
	}
	return nil
}

// Tree returns the account's folder forest. Children are computed from
// parent pointers, never stored.
func (m *Manager) Tree(accountID int64) ([]*Node, error) {
	folders, err := m.store.ListFolders(accountID)
	if err != nil {
		return nil, err
	}

	nodes := make(map[int64]*Node, len(folders))
	for _, f := range folders {
		nodes[f.ID] = &Node{Folder: f}
	}

	var roots []*Node
	for _, f := range folders {
		node := nodes[f.ID]
		if f.ParentID.Valid {
			if parent, ok := nodes[f.ParentID.Int64]; ok {
				parent.Children = append(parent.Children, node)
				continue
			}
		}
		roots = append(roots, node)
	}
	return roots, nil
}

// EnsureRemote reconciles one remote folder against the local tree. It
// creates unseen folders (including missing ancestors implied by the
// hierarchy delimiter), updates the display name and remote watermarks, and
// reports whether the folder's UIDVALIDITY changed - a discontinuity that
// forces a full refetch of the folder.
func (m *Manager) EnsureRemote(accountID int64, rf remote.Folder) (*store.Folder, bool, error) {
	f, err := m.store.GetFolderByRemoteName(accountID, rf.Name)
	if err != nil {
		return nil, false, err
	}

	leafName := rf.Name
	var parentID int64
	if rf.Delimiter != "" {
		if idx := strings.LastIndex(rf.Name, rf.Delimiter); idx >= 0 {
			leafName = rf.Name[idx+len(rf.Delimiter):]
			parentID, err = m.ensureAncestors(accountID, rf.Name[:idx], rf.Delimiter)
			if err != nil {
				return nil, false, err
			}
		}
	}

	if f == nil {
		siblings, err := m.store.SiblingFolders(accountID, parentID)
		if err != nil {
			return nil, false, err
		}
		f = &store.Folder{
			AccountID:   accountID,
			Name:        leafName,
			RemoteName:  rf.Name,
			Kind:        rf.Kind,
			Position:    len(siblings),
			UIDValidity: rf.UIDValidity,
			UIDNext:     rf.UIDNext,
		}
		if parentID != 0 {
			f.ParentID.Int64 = parentID
			f.ParentID.Valid = true
		}
		id, err := m.store.CreateFolder(f)
		if err != nil {
			return nil, false, err
		}
		f.ID = id
		m.logger.Debug("created folder from remote", "account", accountID, "folder", rf.Name)
		return f, false, nil
	}

	discontinuity := f.UIDValidity != 0 && rf.UIDValidity != 0 && f.UIDValidity != rf.UIDValidity
	if discontinuity {
		m.logger.Warn("remote folder generation changed, forcing full refetch",
			"account", accountID, "folder", rf.Name,
			"old_uidvalidity", f.UIDValidity, "new_uidvalidity", rf.UIDValidity)
		if err := m.store.ResetFolderWatermark(f.ID, rf.UIDValidity); err != nil {
			return nil, false, err
		}
		f.UIDValidity = rf.UIDValidity
		f.LastSeenUID = 0
	}

	if err := m.store.UpdateFolderRemote(f.ID, leafName, rf.UIDValidity, rf.UIDNext); err != nil {
		return nil, false, err
	}
	f.Name = leafName
	f.UIDNext = rf.UIDNext
	return f, discontinuity, nil
}

// ensureAncestors creates any missing ancestor folders for a delimited
// remote path and returns the immediate parent's ID.
func (m *Manager) ensureAncestors(accountID int64, path, delimiter string) (int64, error) {
	parts := strings.Split(path, delimiter)
	var parentID int64
	prefix := ""
	for _, part := range parts {
		if prefix == "" {
			prefix = part
		} else {
			prefix = prefix + delimiter + part
		}
		f, err := m.store.GetFolderByRemoteName(accountID, prefix)
		if err != nil {
			return 0, err
		}
		if f == nil {
			siblings, err := m.store.SiblingFolders(accountID, parentID)
			if err != nil {
				return 0, err
			}
			f = &store.Folder{
				AccountID:  accountID,
				Name:       part,
				RemoteName: prefix,
				Kind:       store.FolderCustom,
				Position:   len(siblings),
			}
			if parentID != 0 {
				f.ParentID.Int64 = parentID
				f.ParentID.Valid = true
			}
			id, err := m.store.CreateFolder(f)
			if err != nil {
				return 0, err
			}
			f.ID = id
		}
		parentID = f.ID
	}
	return parentID, nil
}

// mutableFolder loads a folder and rejects system kinds.
func (m *Manager) mutableFolder(folderID int64) (*store.Folder, error) {
	f, err := m.store.GetFolder(folderID)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, fmt.Errorf("folder %d: %w", folderID, ErrNotFound)
	}
	if f.IsSystem() {
		return nil, ErrImmutableFolder
	}
	return f, nil
}

// checkNoCycle walks up from parent and fails if folderID is an ancestor.
func (m *Manager) checkNoCycle(folderID int64, parent *store.Folder) error {
	for parent != nil {
		if parent.ID == folderID {
			return ErrCycle
		}
		if !parent.ParentID.Valid {
			return nil
		}
		next, err := m.store.GetFolder(parent.ParentID.Int64)
		if err != nil {
			return err
		}
		parent = next
	}
	return nil
}

// resequence rewrites contiguous positions for a sibling set.
func (m *Manager) resequence(accountID int64, parentID int64) error {
	siblings, err := m.store.SiblingFolders(accountID, parentID)
	if err != nil {
		return err
	}
	ordered := make([]int64, len(siblings))
	for i, sib := range siblings {
		ordered[i] = sib.ID
	}
	return m.store.SetFolderPositions(ordered)
}

// parentKey normalizes a folder's parent to an int64 key (0 = root).
func parentKey(f *store.Folder) int64 {
	if f.ParentID.Valid {
		return f.ParentID.Int64
	}
	return 0
}

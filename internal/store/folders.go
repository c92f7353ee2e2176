package store

import (
	"database/sql"
	"fmt"
)

// Folder kinds. System kinds are reconciled from the remote side and are
// immutable through the folder manager; only custom folders are user-managed.
const (
	FolderInbox   = "inbox"
	FolderSent    = "sent"
	FolderDrafts  = "drafts"
	FolderTrash   = "trash"
	FolderSpam    = "spam"
	FolderArchive = "archive"
	FolderCustom  = "custom"
)

// Folder is one node in an account's folder forest.
type Folder struct {
	ID          int64
	AccountID   int64
	ParentID    sql.NullInt64
	Name        string
	RemoteName  string
	Kind        string
	Position    int
	UIDValidity uint32
	UIDNext     uint32
	LastSeenUID uint32
}

// IsSystem reports whether the folder kind is remote-managed.
func (f *Folder) IsSystem() bool {
	return f.Kind != FolderCustom
}

const folderColumns = `id, account_id, parent_id, name, remote_name, kind, position,
	uidvalidity, uidnext, last_seen_uid`

func scanFolder(row interface{ Scan(...interface{}) error }) (*Folder, error) {
	var f Folder
	err := row.Scan(&f.ID, &f.AccountID, &f.ParentID, &f.Name, &f.RemoteName,
		&f.Kind, &f.Position, &f.UIDValidity, &f.UIDNext, &f.LastSeenUID)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// CreateFolder inserts a folder and returns its ID.
func (s *Store) CreateFolder(f *Folder) (int64, error) {
	result, err := s.db.Exec(`
		INSERT INTO folders (account_id, parent_id, name, remote_name, kind, position,
			uidvalidity, uidnext, last_seen_uid)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.AccountID, f.ParentID, f.Name, f.RemoteName, f.Kind, f.Position,
		f.UIDValidity, f.UIDNext, f.LastSeenUID)
	if err != nil {
		return 0, fmt.Errorf("insert folder: %w", err)
	}
	return result.LastInsertId()
}

// GetFolder returns a folder by ID, or nil if it does not exist.
func (s *Store) GetFolder(id int64) (*Folder, error) {
	row := s.db.QueryRow(`SELECT `+folderColumns+` FROM folders WHERE id = ?`, id)
	f, err := scanFolder(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get folder %d: %w", id, err)
	}
	return f, nil
}

// GetFolderByRemoteName returns the folder mapped to a remote mailbox name.
func (s *Store) GetFolderByRemoteName(accountID int64, remoteName string) (*Folder, error) {
	row := s.db.QueryRow(`SELECT `+folderColumns+` FROM folders WHERE account_id = ? AND remote_name = ?`,
		accountID, remoteName)
	f, err := scanFolder(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get folder %q: %w", remoteName, err)
	}
	return f, nil
}

// GetFolderByKind returns the first folder of the given system kind.
func (s *Store) GetFolderByKind(accountID int64, kind string) (*Folder, error) {
	row := s.db.QueryRow(`SELECT `+folderColumns+` FROM folders WHERE account_id = ? AND kind = ? ORDER BY id LIMIT 1`,
		accountID, kind)
	f, err := scanFolder(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s folder: %w", kind, err)
	}
	return f, nil
}

// ListFolders returns all folders for an account ordered by parent then position.
func (s *Store) ListFolders(accountID int64) ([]*Folder, error) {
	rows, err := s.db.Query(`SELECT `+folderColumns+` FROM folders
		WHERE account_id = ? ORDER BY parent_id IS NOT NULL, parent_id, position`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list folders: %w", err)
	}
	defer rows.Close()

	var folders []*Folder
	for rows.Next() {
		f, err := scanFolder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan folder: %w", err)
		}
		folders = append(folders, f)
	}
	return folders, rows.Err()
}

// SiblingFolders returns the ordered children of parentID (0 = roots).
func (s *Store) SiblingFolders(accountID int64, parentID int64) ([]*Folder, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if parentID == 0 {
		rows, err = s.db.Query(`SELECT `+folderColumns+` FROM folders
			WHERE account_id = ? AND parent_id IS NULL ORDER BY position`, accountID)
	} else {
		rows, err = s.db.Query(`SELECT `+folderColumns+` FROM folders
			WHERE account_id = ? AND parent_id = ? ORDER BY position`, accountID, parentID)
	}
	if err != nil {
		return nil, fmt.Errorf("list siblings: %w", err)
	}
	defer rows.Close()

	var folders []*Folder
	for rows.Next() {
		f, err := scanFolder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan folder: %w", err)
		}
		folders = append(folders, f)
	}
	return folders, rows.Err()
}

// RenameFolder updates the display name of a folder.
func (s *Store) RenameFolder(id int64, name string) error {
	if _, err := s.db.Exec(`UPDATE folders SET name = ? WHERE id = ?`, name, id); err != nil {
		return fmt.Errorf("rename folder %d: %w", id, err)
	}
	return nil
}

// SetFolderParent reparents a folder. parentID 0 makes it a root.
func (s *Store) SetFolderParent(id int64, parentID int64) error {
	var parent sql.NullInt64
	if parentID != 0 {
		parent = sql.NullInt64{Int64: parentID, Valid: true}
	}
	if _, err := s.db.Exec(`UPDATE folders SET parent_id = ? WHERE id = ?`, parent, id); err != nil {
		return fmt.Errorf("set folder parent: %w", err)
	}
	return nil
}

// SetFolderPositions rewrites the sort keys for an ordered sibling set in a
// single transaction, assigning contiguous positions 0..n-1.
func (s *Store) SetFolderPositions(orderedIDs []int64) error {
	return s.withTx(func(tx *sql.Tx) error {
		for pos, id := range orderedIDs {
			if _, err := tx.Exec(`UPDATE folders SET position = ? WHERE id = ?`, pos, id); err != nil {
				return fmt.Errorf("set position of folder %d: %w", id, err)
			}
		}
		return nil
	})
}

// DeleteFolder removes a folder. Its messages and child folders cascade.
func (s *Store) DeleteFolder(id int64) error {
	if _, err := s.db.Exec(`DELETE FROM folders WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete folder %d: %w", id, err)
	}
	return nil
}

// UpdateFolderRemote reconciles remote metadata onto a folder row.
func (s *Store) UpdateFolderRemote(id int64, name string, uidValidity, uidNext uint32) error {
	_, err := s.db.Exec(`UPDATE folders SET name = ?, uidvalidity = ?, uidnext = ? WHERE id = ?`,
		name, uidValidity, uidNext, id)
	if err != nil {
		return fmt.Errorf("update folder remote state: %w", err)
	}
	return nil
}

// ResetFolderWatermark clears the incremental-fetch cursor, forcing the next
// sync of this folder to refetch everything.
func (s *Store) ResetFolderWatermark(id int64, uidValidity uint32) error {
	_, err := s.db.Exec(`UPDATE folders SET uidvalidity = ?, last_seen_uid = 0 WHERE id = ?`,
		uidValidity, id)
	if err != nil {
		return fmt.Errorf("reset folder watermark: %w", err)
	}
	return nil
}

// AdvanceFolderWatermark moves the last-seen UID forward. It never moves the
// watermark backwards.
func (s *Store) AdvanceFolderWatermark(id int64, lastSeenUID uint32) error {
	_, err := s.db.Exec(`UPDATE folders SET last_seen_uid = ? WHERE id = ? AND last_seen_uid < ?`,
		lastSeenUID, id, lastSeenUID)
	if err != nil {
		return fmt.Errorf("advance folder watermark: %w", err)
	}
	return nil
}

// MarkFolderRead marks every unread message in a folder as read and returns
// the number of rows updated.
func (s *Store) MarkFolderRead(folderID int64) (int64, error) {
	result, err := s.db.Exec(`UPDATE messages SET is_read = 1 WHERE folder_id = ? AND is_read = 0`, folderID)
	if err != nil {
		return 0, fmt.Errorf("mark folder read: %w", err)
	}
	return result.RowsAffected()
}

// Package database implements metadata storage on SQLite.
package database

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"rcm-go/internal/model"
	"rcm-go/internal/rcm"
)

// SQLiteRepository implements the Repository interface using SQLite.
type SQLiteRepository struct {
	db   *sql.DB
	path string
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// path can be a file path or ":memory:" for an in-memory database.
func NewSQLiteRepository(path string) (*SQLiteRepository, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	return &SQLiteRepository{db: db, path: path}, nil
}

// NewSQLiteRepositoryFromDB wraps an existing database connection.
// The caller is responsible for ensuring the connection is properly
// configured.
func NewSQLiteRepositoryFromDB(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// OpenConnection opens and configures a SQLite connection with the PRAGMAs
// the repository relies on. Exported for tools and tests.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Each pooled connection to ":memory:" would get its own database.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// Foreign keys are off by default in SQLite; membership and link
	// cascades depend on them.
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// DB exposes the underlying connection for migrations.
func (s *SQLiteRepository) DB() *sql.DB { return s.db }

func (s *SQLiteRepository) Close() error { return s.db.Close() }

func isUniqueViolation(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			serr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

type rowScanner interface {
	Scan(dest ...any) error
}

// FileInfo operations

const fileInfoColumns = "id, sha1, size, archive_name, file_type, created_at"

func scanFileInfo(row rowScanner) (*model.FileInfo, error) {
	var fi model.FileInfo
	var fileType string
	if err := row.Scan(&fi.ID, &fi.SHA1, &fi.Size, &fi.ArchiveName, &fileType, &fi.CreatedAt); err != nil {
		return nil, err
	}
	fi.FileType = model.FileType(fileType)
	return &fi, nil
}

func (s *SQLiteRepository) FindFileInfoByID(id int64) (*model.FileInfo, error) {
	row := s.db.QueryRow("SELECT "+fileInfoColumns+" FROM file_infos WHERE id = ?", id)
	fi, err := scanFileInfo(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding file info by id: %w", err)
	}
	return fi, nil
}

func (s *SQLiteRepository) FindFileInfoByChecksum(sha1 []byte, fileType model.FileType) (*model.FileInfo, error) {
	row := s.db.QueryRow("SELECT "+fileInfoColumns+" FROM file_infos WHERE sha1 = ? AND file_type = ?",
		sha1, string(fileType))
	fi, err := scanFileInfo(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding file info by checksum: %w", err)
	}
	return fi, nil
}

func (s *SQLiteRepository) DeleteFileInfo(id int64) error {
	if _, err := s.db.Exec("DELETE FROM file_infos WHERE id = ?", id); err != nil {
		return fmt.Errorf("deleting file info %d: %w", id, err)
	}
	return nil
}

// FileSet operations

const fileSetColumns = "id, name, canonical_name, file_type, source, created_at"

func scanFileSet(row rowScanner) (*model.FileSet, error) {
	var fs model.FileSet
	var fileType string
	var canonicalName, source sql.NullString
	if err := row.Scan(&fs.ID, &fs.Name, &canonicalName, &fileType, &source, &fs.CreatedAt); err != nil {
		return nil, err
	}
	fs.CanonicalName = canonicalName.String
	fs.FileType = model.FileType(fileType)
	fs.Source = source.String
	return &fs, nil
}

func (s *SQLiteRepository) FindFileSetByID(id int64) (*model.FileSet, error) {
	row := s.db.QueryRow("SELECT "+fileSetColumns+" FROM file_sets WHERE id = ?", id)
	fs, err := scanFileSet(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding file set by id: %w", err)
	}
	return fs, nil
}

func (s *SQLiteRepository) ListFileSets(fileType model.FileType) ([]*model.FileSet, error) {
	query := "SELECT " + fileSetColumns + " FROM file_sets"
	var args []any
	if fileType != "" {
		query += " WHERE file_type = ?"
		args = append(args, string(fileType))
	}
	query += " ORDER BY name, id"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing file sets: %w", err)
	}
	defer rows.Close()

	var sets []*model.FileSet
	for rows.Next() {
		fs, err := scanFileSet(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning file set: %w", err)
		}
		sets = append(sets, fs)
	}
	return sets, rows.Err()
}

func (s *SQLiteRepository) FindFileSetMembers(fileSetID int64) ([]*model.FileSetMember, error) {
	rows, err := s.db.Query(
		"SELECT file_set_id, file_info_id, member_name, position FROM file_set_members WHERE file_set_id = ? ORDER BY position",
		fileSetID)
	if err != nil {
		return nil, fmt.Errorf("finding file set members: %w", err)
	}
	defer rows.Close()

	var members []*model.FileSetMember
	for rows.Next() {
		var m model.FileSetMember
		if err := rows.Scan(&m.FileSetID, &m.FileInfoID, &m.MemberName, &m.Position); err != nil {
			return nil, fmt.Errorf("scanning file set member: %w", err)
		}
		members = append(members, &m)
	}
	return members, rows.Err()
}

func (s *SQLiteRepository) FindFileSetsReferencingFileInfo(fileInfoID int64) ([]*model.FileSet, error) {
	rows, err := s.db.Query(
		"SELECT s.id, s.name, s.canonical_name, s.file_type, s.source, s.created_at"+
			" FROM file_sets s JOIN file_set_members m ON m.file_set_id = s.id"+
			" WHERE m.file_info_id = ? ORDER BY s.id",
		fileInfoID)
	if err != nil {
		return nil, fmt.Errorf("finding referencing file sets: %w", err)
	}
	defer rows.Close()

	var sets []*model.FileSet
	for rows.Next() {
		fs, err := scanFileSet(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning file set: %w", err)
		}
		sets = append(sets, fs)
	}
	return sets, rows.Err()
}

func (s *SQLiteRepository) RemoveFileSetMember(fileSetID, fileInfoID int64) error {
	if _, err := s.db.Exec(
		"DELETE FROM file_set_members WHERE file_set_id = ? AND file_info_id = ?",
		fileSetID, fileInfoID); err != nil {
		return fmt.Errorf("removing file set member: %w", err)
	}
	return nil
}

func (s *SQLiteRepository) DeleteFileSet(id int64) error {
	if _, err := s.db.Exec("DELETE FROM file_sets WHERE id = ?", id); err != nil {
		return fmt.Errorf("deleting file set %d: %w", id, err)
	}
	return nil
}

// System operations

func (s *SQLiteRepository) FindSystemByID(id int64) (*model.System, error) {
	var sys model.System
	err := s.db.QueryRow("SELECT id, name, created_at FROM systems WHERE id = ?", id).
		Scan(&sys.ID, &sys.Name, &sys.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding system by id: %w", err)
	}
	return &sys, nil
}

func (s *SQLiteRepository) FindOrCreateSystem(name string) (*model.System, error) {
	var sys model.System
	err := s.db.QueryRow("SELECT id, name, created_at FROM systems WHERE name = ?", name).
		Scan(&sys.ID, &sys.Name, &sys.CreatedAt)
	if err == nil {
		return &sys, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("finding system by name: %w", err)
	}

	now := time.Now()
	res, err := s.db.Exec("INSERT INTO systems (name, created_at) VALUES (?, ?)", name, now)
	if err != nil {
		return nil, fmt.Errorf("creating system %q: %w", name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("creating system %q: %w", name, err)
	}
	return &model.System{ID: id, Name: name, CreatedAt: now}, nil
}

func (s *SQLiteRepository) ListSystems() ([]*model.System, error) {
	rows, err := s.db.Query("SELECT id, name, created_at FROM systems ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("listing systems: %w", err)
	}
	defer rows.Close()

	var systems []*model.System
	for rows.Next() {
		var sys model.System
		if err := rows.Scan(&sys.ID, &sys.Name, &sys.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning system: %w", err)
		}
		systems = append(systems, &sys)
	}
	return systems, rows.Err()
}

// Release operations

func (s *SQLiteRepository) FindReleaseByID(id int64) (*model.Release, error) {
	var r model.Release
	err := s.db.QueryRow("SELECT id, name, created_at FROM releases WHERE id = ?", id).
		Scan(&r.ID, &r.Name, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding release by id: %w", err)
	}
	return &r, nil
}

func (s *SQLiteRepository) ListReleases() ([]*model.Release, error) {
	rows, err := s.db.Query("SELECT id, name, created_at FROM releases ORDER BY name, id")
	if err != nil {
		return nil, fmt.Errorf("listing releases: %w", err)
	}
	defer rows.Close()

	var releases []*model.Release
	for rows.Next() {
		var r model.Release
		if err := rows.Scan(&r.ID, &r.Name, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning release: %w", err)
		}
		releases = append(releases, &r)
	}
	return releases, rows.Err()
}

func (s *SQLiteRepository) FindReleasesReferencingFileSet(fileSetID int64) ([]*model.Release, error) {
	rows, err := s.db.Query(
		"SELECT r.id, r.name, r.created_at FROM releases r"+
			" JOIN release_file_sets l ON l.release_id = r.id"+
			" WHERE l.file_set_id = ? ORDER BY r.id",
		fileSetID)
	if err != nil {
		return nil, fmt.Errorf("finding referencing releases: %w", err)
	}
	defer rows.Close()

	var releases []*model.Release
	for rows.Next() {
		var r model.Release
		if err := rows.Scan(&r.ID, &r.Name, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning release: %w", err)
		}
		releases = append(releases, &r)
	}
	return releases, rows.Err()
}

func (s *SQLiteRepository) DeleteRelease(id int64) error {
	if _, err := s.db.Exec("DELETE FROM releases WHERE id = ?", id); err != nil {
		return fmt.Errorf("deleting release %d: %w", id, err)
	}
	return nil
}

func (s *SQLiteRepository) AddReleaseItem(item *model.ReleaseItem) error {
	res, err := s.db.Exec(
		"INSERT INTO release_items (release_id, item_type, description) VALUES (?, ?, ?)",
		item.ReleaseID, item.ItemType, item.Description)
	if err != nil {
		return fmt.Errorf("adding release item: %w", err)
	}
	item.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("adding release item: %w", err)
	}
	return nil
}

func (s *SQLiteRepository) ListReleaseItems(releaseID int64) ([]*model.ReleaseItem, error) {
	rows, err := s.db.Query(
		"SELECT id, release_id, item_type, description FROM release_items WHERE release_id = ? ORDER BY id",
		releaseID)
	if err != nil {
		return nil, fmt.Errorf("listing release items: %w", err)
	}
	defer rows.Close()

	var items []*model.ReleaseItem
	for rows.Next() {
		var item model.ReleaseItem
		if err := rows.Scan(&item.ID, &item.ReleaseID, &item.ItemType, &item.Description); err != nil {
			return nil, fmt.Errorf("scanning release item: %w", err)
		}
		items = append(items, &item)
	}
	return items, rows.Err()
}

// Sync log operations

const syncLogColumns = "id, file_info_id, created_at, status, message, cloud_key"

func scanSyncLogEntry(row rowScanner) (*model.FileSyncLogEntry, error) {
	var e model.FileSyncLogEntry
	var status string
	var message sql.NullString
	if err := row.Scan(&e.ID, &e.FileInfoID, &e.CreatedAt, &status, &message, &e.CloudKey); err != nil {
		return nil, err
	}
	e.Status = model.SyncStatus(status)
	e.Message = message.String
	return &e, nil
}

func appendSyncLogTx(tx *sql.Tx, entry *model.FileSyncLogEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	res, err := tx.Exec(
		"INSERT INTO file_sync_log (file_info_id, created_at, status, message, cloud_key) VALUES (?, ?, ?, ?, ?)",
		entry.FileInfoID, entry.CreatedAt, string(entry.Status), entry.Message, entry.CloudKey)
	if err != nil {
		return fmt.Errorf("appending sync log: %w", err)
	}
	entry.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("appending sync log: %w", err)
	}
	return nil
}

func (s *SQLiteRepository) AppendSyncLog(entry *model.FileSyncLogEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	res, err := s.db.Exec(
		"INSERT INTO file_sync_log (file_info_id, created_at, status, message, cloud_key) VALUES (?, ?, ?, ?, ?)",
		entry.FileInfoID, entry.CreatedAt, string(entry.Status), entry.Message, entry.CloudKey)
	if err != nil {
		return fmt.Errorf("appending sync log: %w", err)
	}
	entry.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("appending sync log: %w", err)
	}
	return nil
}

func (s *SQLiteRepository) LatestSyncLog(fileInfoID int64) (*model.FileSyncLogEntry, error) {
	row := s.db.QueryRow(
		"SELECT "+syncLogColumns+" FROM file_sync_log WHERE file_info_id = ? ORDER BY id DESC LIMIT 1",
		fileInfoID)
	entry, err := scanSyncLogEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding latest sync log: %w", err)
	}
	return entry, nil
}

func (s *SQLiteRepository) ListSyncLog(fileInfoID int64) ([]*model.FileSyncLogEntry, error) {
	rows, err := s.db.Query(
		"SELECT "+syncLogColumns+" FROM file_sync_log WHERE file_info_id = ? ORDER BY id DESC",
		fileInfoID)
	if err != nil {
		return nil, fmt.Errorf("listing sync log: %w", err)
	}
	defer rows.Close()

	var entries []*model.FileSyncLogEntry
	for rows.Next() {
		e, err := scanSyncLogEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning sync log entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SQLiteRepository) MarkForCloudSync(entries []*model.FileSyncLogEntry) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, entry := range entries {
		if err := appendSyncLogTx(tx, entry); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing sync marks: %w", err)
	}
	return nil
}

func (s *SQLiteRepository) PageFileInfosWithoutSyncLog(limit, offset int) ([]*model.FileInfo, error) {
	rows, err := s.db.Query(
		"SELECT f.id, f.sha1, f.size, f.archive_name, f.file_type, f.created_at"+
			" FROM file_infos f LEFT JOIN file_sync_log l ON l.file_info_id = f.id"+
			" WHERE l.id IS NULL ORDER BY f.id LIMIT ? OFFSET ?",
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("paging unjournalled file infos: %w", err)
	}
	defer rows.Close()

	var infos []*model.FileInfo
	for rows.Next() {
		fi, err := scanFileInfo(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning file info: %w", err)
		}
		infos = append(infos, fi)
	}
	return infos, rows.Err()
}

// statusArgs builds an IN clause placeholder list and its arguments.
func statusArgs(statuses []model.SyncStatus) (string, []any) {
	placeholders := make([]string, len(statuses))
	args := make([]any, len(statuses))
	for i, st := range statuses {
		placeholders[i] = "?"
		args[i] = string(st)
	}
	return strings.Join(placeholders, ", "), args
}

// latestEntryJoin selects each file's newest journal row.
const latestEntryJoin = " JOIN (SELECT file_info_id, MAX(id) AS max_id FROM file_sync_log GROUP BY file_info_id) latest ON l.id = latest.max_id"

func (s *SQLiteRepository) PageFileInfosByLatestStatus(statuses []model.SyncStatus, limit, offset int) ([]*rcm.SyncCandidate, error) {
	in, args := statusArgs(statuses)
	query := "SELECT f.id, f.sha1, f.size, f.archive_name, f.file_type, f.created_at, " +
		"l.id, l.file_info_id, l.created_at, l.status, l.message, l.cloud_key" +
		" FROM file_sync_log l" + latestEntryJoin +
		" JOIN file_infos f ON f.id = l.file_info_id" +
		" WHERE l.status IN (" + in + ") ORDER BY l.id LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("paging file infos by status: %w", err)
	}
	defer rows.Close()

	var candidates []*rcm.SyncCandidate
	for rows.Next() {
		var fi model.FileInfo
		var e model.FileSyncLogEntry
		var fileType, status string
		var message sql.NullString
		if err := rows.Scan(
			&fi.ID, &fi.SHA1, &fi.Size, &fi.ArchiveName, &fileType, &fi.CreatedAt,
			&e.ID, &e.FileInfoID, &e.CreatedAt, &status, &message, &e.CloudKey); err != nil {
			return nil, fmt.Errorf("scanning sync candidate: %w", err)
		}
		fi.FileType = model.FileType(fileType)
		e.Status = model.SyncStatus(status)
		e.Message = message.String
		candidates = append(candidates, &rcm.SyncCandidate{FileInfo: &fi, Entry: &e})
	}
	return candidates, rows.Err()
}

func (s *SQLiteRepository) PageSyncEntriesByLatestStatus(statuses []model.SyncStatus, limit, offset int) ([]*model.FileSyncLogEntry, error) {
	in, args := statusArgs(statuses)
	query := "SELECT l.id, l.file_info_id, l.created_at, l.status, l.message, l.cloud_key" +
		" FROM file_sync_log l" + latestEntryJoin +
		" WHERE l.status IN (" + in + ") ORDER BY l.id LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("paging sync entries by status: %w", err)
	}
	defer rows.Close()

	var entries []*model.FileSyncLogEntry
	for rows.Next() {
		e, err := scanSyncLogEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning sync log entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SQLiteRepository) CountByLatestStatus(statuses []model.SyncStatus) (int, error) {
	in, args := statusArgs(statuses)
	query := "SELECT COUNT(*) FROM file_sync_log l" + latestEntryJoin +
		" WHERE l.status IN (" + in + ")"

	var count int
	if err := s.db.QueryRow(query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting by status: %w", err)
	}
	return count, nil
}

// Catalogue operations

func (s *SQLiteRepository) SaveDatFile(df *model.DatFile) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if df.CreatedAt.IsZero() {
		df.CreatedAt = time.Now()
	}
	res, err := tx.Exec(
		"INSERT INTO dat_files (name, description, version, created_at) VALUES (?, ?, ?, ?)",
		df.Name, df.Description, df.Version, df.CreatedAt)
	if err != nil {
		return fmt.Errorf("saving dat file: %w", err)
	}
	if df.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("saving dat file: %w", err)
	}

	for _, game := range df.Games {
		game.DatFileID = df.ID
		res, err := tx.Exec(
			"INSERT INTO dat_games (dat_file_id, name, description) VALUES (?, ?, ?)",
			game.DatFileID, game.Name, game.Description)
		if err != nil {
			return fmt.Errorf("saving dat game %q: %w", game.Name, err)
		}
		if game.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("saving dat game %q: %w", game.Name, err)
		}

		for _, rom := range game.Roms {
			rom.DatGameID = game.ID
			res, err := tx.Exec(
				"INSERT INTO dat_roms (dat_game_id, name, size, crc, sha1) VALUES (?, ?, ?, ?, ?)",
				rom.DatGameID, rom.Name, rom.Size, rom.CRC, rom.SHA1)
			if err != nil {
				return fmt.Errorf("saving dat rom %q: %w", rom.Name, err)
			}
			if rom.ID, err = res.LastInsertId(); err != nil {
				return fmt.Errorf("saving dat rom %q: %w", rom.Name, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing dat file: %w", err)
	}
	return nil
}

func (s *SQLiteRepository) FindDatRomsByChecksum(sha1 []byte) ([]*model.DatRom, error) {
	rows, err := s.db.Query(
		"SELECT id, dat_game_id, name, size, crc, sha1 FROM dat_roms WHERE sha1 = ? ORDER BY id",
		sha1)
	if err != nil {
		return nil, fmt.Errorf("finding dat roms by checksum: %w", err)
	}
	defer rows.Close()

	var roms []*model.DatRom
	for rows.Next() {
		var rom model.DatRom
		var crc sql.NullString
		if err := rows.Scan(&rom.ID, &rom.DatGameID, &rom.Name, &rom.Size, &crc, &rom.SHA1); err != nil {
			return nil, fmt.Errorf("scanning dat rom: %w", err)
		}
		rom.CRC = crc.String
		roms = append(roms, &rom)
	}
	return roms, rows.Err()
}

func (s *SQLiteRepository) FindDatGameByID(id int64) (*model.DatGame, error) {
	var game model.DatGame
	var description sql.NullString
	err := s.db.QueryRow("SELECT id, dat_file_id, name, description FROM dat_games WHERE id = ?", id).
		Scan(&game.ID, &game.DatFileID, &game.Name, &description)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding dat game by id: %w", err)
	}
	game.Description = description.String
	return &game, nil
}

// Counts

func (s *SQLiteRepository) count(table string) (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting %s: %w", table, err)
	}
	return n, nil
}

func (s *SQLiteRepository) CountFileInfos() (int, error) { return s.count("file_infos") }
func (s *SQLiteRepository) CountFileSets() (int, error)  { return s.count("file_sets") }
func (s *SQLiteRepository) CountReleases() (int, error)  { return s.count("releases") }

// Begin opens a transaction for the import pipeline.
func (s *SQLiteRepository) Begin() (rcm.Tx, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	return &sqliteTx{tx: tx}, nil
}

// sqliteTx implements the import transaction surface.
type sqliteTx struct {
	tx   *sql.Tx
	done bool
}

func (t *sqliteTx) InsertFileInfo(fi *model.FileInfo) error {
	if fi.CreatedAt.IsZero() {
		fi.CreatedAt = time.Now()
	}
	res, err := t.tx.Exec(
		"INSERT INTO file_infos (sha1, size, archive_name, file_type, created_at) VALUES (?, ?, ?, ?, ?)",
		fi.SHA1, fi.Size, fi.ArchiveName, string(fi.FileType), fi.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: file info %x (%s)", rcm.ErrConflict, fi.SHA1, fi.FileType)
		}
		return fmt.Errorf("inserting file info: %w", err)
	}
	if fi.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("inserting file info: %w", err)
	}
	return nil
}

func (t *sqliteTx) FindFileInfoByChecksum(sha1 []byte, fileType model.FileType) (*model.FileInfo, error) {
	row := t.tx.QueryRow("SELECT "+fileInfoColumns+" FROM file_infos WHERE sha1 = ? AND file_type = ?",
		sha1, string(fileType))
	fi, err := scanFileInfo(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding file info by checksum: %w", err)
	}
	return fi, nil
}

func (t *sqliteTx) FindFileSetByID(id int64) (*model.FileSet, error) {
	row := t.tx.QueryRow("SELECT "+fileSetColumns+" FROM file_sets WHERE id = ?", id)
	fs, err := scanFileSet(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding file set by id: %w", err)
	}
	return fs, nil
}

func (t *sqliteTx) FindFileSetMembers(fileSetID int64) ([]*model.FileSetMember, error) {
	rows, err := t.tx.Query(
		"SELECT file_set_id, file_info_id, member_name, position FROM file_set_members WHERE file_set_id = ? ORDER BY position",
		fileSetID)
	if err != nil {
		return nil, fmt.Errorf("finding file set members: %w", err)
	}
	defer rows.Close()

	var members []*model.FileSetMember
	for rows.Next() {
		var m model.FileSetMember
		if err := rows.Scan(&m.FileSetID, &m.FileInfoID, &m.MemberName, &m.Position); err != nil {
			return nil, fmt.Errorf("scanning file set member: %w", err)
		}
		members = append(members, &m)
	}
	return members, rows.Err()
}

func (t *sqliteTx) LinkFileInfoSystem(fileInfoID, systemID int64) error {
	if _, err := t.tx.Exec(
		"INSERT OR IGNORE INTO file_info_systems (file_info_id, system_id) VALUES (?, ?)",
		fileInfoID, systemID); err != nil {
		return fmt.Errorf("linking file info to system: %w", err)
	}
	return nil
}

func (t *sqliteTx) InsertFileSet(fs *model.FileSet) error {
	if fs.CreatedAt.IsZero() {
		fs.CreatedAt = time.Now()
	}
	res, err := t.tx.Exec(
		"INSERT INTO file_sets (name, canonical_name, file_type, source, created_at) VALUES (?, ?, ?, ?, ?)",
		fs.Name, fs.CanonicalName, string(fs.FileType), fs.Source, fs.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting file set: %w", err)
	}
	if fs.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("inserting file set: %w", err)
	}
	return nil
}

func (t *sqliteTx) AddFileSetMember(m *model.FileSetMember) error {
	if _, err := t.tx.Exec(
		"INSERT INTO file_set_members (file_set_id, file_info_id, member_name, position) VALUES (?, ?, ?, ?)",
		m.FileSetID, m.FileInfoID, m.MemberName, m.Position); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: member %q in set %d", rcm.ErrConflict, m.MemberName, m.FileSetID)
		}
		return fmt.Errorf("adding file set member: %w", err)
	}
	return nil
}

func (t *sqliteTx) FindOrCreateSoftwareTitle(name string) (*model.SoftwareTitle, error) {
	var title model.SoftwareTitle
	err := t.tx.QueryRow("SELECT id, name, created_at FROM software_titles WHERE name = ?", name).
		Scan(&title.ID, &title.Name, &title.CreatedAt)
	if err == nil {
		return &title, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("finding software title: %w", err)
	}

	now := time.Now()
	res, err := t.tx.Exec("INSERT INTO software_titles (name, created_at) VALUES (?, ?)", name, now)
	if err != nil {
		return nil, fmt.Errorf("creating software title %q: %w", name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("creating software title %q: %w", name, err)
	}
	return &model.SoftwareTitle{ID: id, Name: name, CreatedAt: now}, nil
}

func (t *sqliteTx) InsertRelease(r *model.Release) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	res, err := t.tx.Exec("INSERT INTO releases (name, created_at) VALUES (?, ?)", r.Name, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting release: %w", err)
	}
	if r.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("inserting release: %w", err)
	}
	return nil
}

func (t *sqliteTx) LinkReleaseFileSet(releaseID, fileSetID int64) error {
	if _, err := t.tx.Exec(
		"INSERT OR IGNORE INTO release_file_sets (release_id, file_set_id) VALUES (?, ?)",
		releaseID, fileSetID); err != nil {
		return fmt.Errorf("linking release to file set: %w", err)
	}
	return nil
}

func (t *sqliteTx) LinkReleaseSystem(releaseID, systemID int64) error {
	if _, err := t.tx.Exec(
		"INSERT OR IGNORE INTO release_systems (release_id, system_id) VALUES (?, ?)",
		releaseID, systemID); err != nil {
		return fmt.Errorf("linking release to system: %w", err)
	}
	return nil
}

func (t *sqliteTx) LinkReleaseSoftwareTitle(releaseID, softwareTitleID int64) error {
	if _, err := t.tx.Exec(
		"INSERT OR IGNORE INTO release_software_titles (release_id, software_title_id) VALUES (?, ?)",
		releaseID, softwareTitleID); err != nil {
		return fmt.Errorf("linking release to software title: %w", err)
	}
	return nil
}

func (t *sqliteTx) InsertReleaseItem(item *model.ReleaseItem) error {
	res, err := t.tx.Exec(
		"INSERT INTO release_items (release_id, item_type, description) VALUES (?, ?, ?)",
		item.ReleaseID, item.ItemType, item.Description)
	if err != nil {
		return fmt.Errorf("inserting release item: %w", err)
	}
	if item.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("inserting release item: %w", err)
	}
	return nil
}

func (t *sqliteTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	t.done = true
	return nil
}

func (t *sqliteTx) Rollback() error {
	if t.done {
		return nil
	}
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rolling back transaction: %w", err)
	}
	return nil
}

// Compile-time checks.
var (
	_ rcm.Repository = (*SQLiteRepository)(nil)
	_ rcm.Tx         = (*sqliteTx)(nil)
)

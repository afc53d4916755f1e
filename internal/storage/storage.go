// Package storage is the persistence layer (§4.5): a sqlite-backed
// key/value store keyed by file path and content hash, with one writer
// during build and many concurrent readers once a project is sealed.
package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/cespare/xxhash/v2"
	_ "github.com/mattn/go-sqlite3"

	csgerrors "github.com/csgraph/provider/internal/errors"
	"github.com/csgraph/provider/internal/graph"
	"github.com/csgraph/provider/internal/pathsolver"
	"github.com/csgraph/provider/internal/types"
)

const schemaVersion = 2

const schemaDDL = `
CREATE TABLE IF NOT EXISTS schema_meta (
	version INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS files (
	id INTEGER PRIMARY KEY,
	path TEXT NOT NULL UNIQUE,
	hash TEXT NOT NULL,
	source_type TEXT NOT NULL,
	span_start INTEGER NOT NULL,
	span_end INTEGER NOT NULL,
	usings_json TEXT NOT NULL DEFAULT '[]'
);
CREATE TABLE IF NOT EXISTS symbols (
	handle INTEGER PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS nodes (
	handle INTEGER PRIMARY KEY,
	file_id INTEGER NOT NULL,
	kind INTEGER NOT NULL,
	start_byte INTEGER NOT NULL,
	end_byte INTEGER NOT NULL,
	start_line INTEGER NOT NULL,
	start_col INTEGER NOT NULL,
	end_line INTEGER NOT NULL,
	end_col INTEGER NOT NULL,
	attrs_json TEXT NOT NULL,
	checksum INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS edges (
	src INTEGER NOT NULL,
	dst INTEGER NOT NULL,
	precedence INTEGER NOT NULL,
	label TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS partial_paths (
	file_id INTEGER NOT NULL,
	node_handle INTEGER NOT NULL,
	fqdn TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_nodes_file ON nodes(file_id);
CREATE INDEX IF NOT EXISTS idx_edges_src ON edges(src);
CREATE INDEX IF NOT EXISTS idx_partial_paths_file ON partial_paths(file_id);
`

// Store wraps the sqlite database backing one project's persisted graph.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the sqlite database at path, in WAL
// mode so build writes do not block concurrent evaluate reads (§5 Shared
// resources).
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=off", path))
	if err != nil {
		return nil, csgerrors.PersistenceIO("open", err)
	}
	if _, err := db.Exec(schemaDDL); err != nil {
		db.Close()
		return nil, csgerrors.PersistenceIO("migrate", err)
	}
	if err := ensureSchemaVersion(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func ensureSchemaVersion(db *sql.DB) error {
	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM schema_meta`).Scan(&count); err != nil {
		return csgerrors.PersistenceIO("read schema_meta", err)
	}
	if count == 0 {
		_, err := db.Exec(`INSERT INTO schema_meta(version) VALUES (?)`, schemaVersion)
		if err != nil {
			return csgerrors.PersistenceIO("init schema_meta", err)
		}
		return nil
	}
	var version int
	if err := db.QueryRow(`SELECT version FROM schema_meta LIMIT 1`).Scan(&version); err != nil {
		return csgerrors.PersistenceIO("read schema version", err)
	}
	if version != schemaVersion {
		return csgerrors.GraphCorrupt("<database>", fmt.Errorf("schema version %d, want %d", version, schemaVersion))
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveFile atomically persists one file's slice of the graph: its record
// row, owned nodes, their outgoing edges, and precomputed partial paths
// (§4.5 save is atomic per file record). Any prior slice for the same
// path is replaced.
func (s *Store) SaveFile(g *graph.Graph, fileID types.FileID, idx pathsolver.Index) (err error) {
	rec, ok := g.File(fileID)
	if !ok {
		return csgerrors.PersistenceIO("save", fmt.Errorf("file %d not registered", fileID))
	}

	tx, err := s.db.Begin()
	if err != nil {
		return csgerrors.PersistenceIO("begin save", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.Exec(`DELETE FROM files WHERE path = ?`, rec.AbsPath); err != nil {
		return csgerrors.PersistenceIO("delete stale file row", err)
	}
	if _, err = tx.Exec(`DELETE FROM edges WHERE src IN (SELECT handle FROM nodes WHERE file_id = ?)`, fileID); err != nil {
		return csgerrors.PersistenceIO("delete stale edges", err)
	}
	if _, err = tx.Exec(`DELETE FROM nodes WHERE file_id = ?`, fileID); err != nil {
		return csgerrors.PersistenceIO("delete stale nodes", err)
	}
	if _, err = tx.Exec(`DELETE FROM partial_paths WHERE file_id = ?`, fileID); err != nil {
		return csgerrors.PersistenceIO("delete stale partial paths", err)
	}

	usingsJSON, err := json.Marshal(rec.Usings)
	if err != nil {
		return csgerrors.PersistenceIO("marshal usings", err)
	}
	_, err = tx.Exec(
		`INSERT INTO files(id, path, hash, source_type, span_start, span_end, usings_json) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		fileID, rec.AbsPath, rec.ContentHash, string(rec.SourceType), rec.TreeSpan.StartByte, rec.TreeSpan.EndByte, string(usingsJSON),
	)
	if err != nil {
		return csgerrors.PersistenceIO("insert file row", err)
	}

	nodeStmt, err := tx.Prepare(`INSERT INTO nodes(handle, file_id, kind, start_byte, end_byte, start_line, start_col, end_line, end_col, attrs_json, checksum) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return csgerrors.PersistenceIO("prepare node insert", err)
	}
	defer nodeStmt.Close()

	edgeStmt, err := tx.Prepare(`INSERT INTO edges(src, dst, precedence, label) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return csgerrors.PersistenceIO("prepare edge insert", err)
	}
	defer edgeStmt.Close()

	pathStmt, err := tx.Prepare(`INSERT INTO partial_paths(file_id, node_handle, fqdn) VALUES (?, ?, ?)`)
	if err != nil {
		return csgerrors.PersistenceIO("prepare partial path insert", err)
	}
	defer pathStmt.Close()

	for _, h := range rec.NodeHandles {
		node, ok := g.Node(h)
		if !ok {
			continue
		}
		attrsJSON, mErr := json.Marshal(node.Attrs)
		if mErr != nil {
			err = csgerrors.PersistenceIO("marshal attrs", mErr)
			return err
		}
		checksum := nodeChecksum(node, attrsJSON)
		if _, err = nodeStmt.Exec(h, fileID, uint8(node.Kind), node.Span.StartByte, node.Span.EndByte, node.Span.StartLine, node.Span.StartCol, node.Span.EndLine, node.Span.EndCol, string(attrsJSON), int64(checksum)); err != nil {
			return csgerrors.PersistenceIO("insert node", err)
		}

		for _, e := range g.Outgoing(h) {
			if _, err = edgeStmt.Exec(e.From, e.To, e.Precedence, string(e.Label)); err != nil {
				return csgerrors.PersistenceIO("insert edge", err)
			}
		}

		if fqdn, ok := idx[h]; ok {
			if _, err = pathStmt.Exec(fileID, h, fqdn); err != nil {
				return csgerrors.PersistenceIO("insert partial path", err)
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return csgerrors.PersistenceIO("commit save", err)
	}
	return nil
}

// SaveSymbols dumps the graph's whole intern table into the symbols table.
// Called once after a build completes rather than per-file, since the intern
// table is shared by every file in the graph and a symbol referenced by file
// A may be introduced while walking file B.
func (s *Store) SaveSymbols(g *graph.Graph) error {
	symbols := g.Symbols()
	tx, err := s.db.Begin()
	if err != nil {
		return csgerrors.PersistenceIO("begin save symbols", err)
	}
	stmt, err := tx.Prepare(`INSERT INTO symbols(handle, value) VALUES (?, ?) ON CONFLICT(handle) DO UPDATE SET value = excluded.value`)
	if err != nil {
		tx.Rollback()
		return csgerrors.PersistenceIO("prepare symbol insert", err)
	}
	for h, v := range symbols {
		if _, err := stmt.Exec(h, v); err != nil {
			stmt.Close()
			tx.Rollback()
			return csgerrors.PersistenceIO("insert symbol", err)
		}
	}
	stmt.Close()
	if err := tx.Commit(); err != nil {
		return csgerrors.PersistenceIO("commit save symbols", err)
	}
	return nil
}

// LoadedFile is the rehydrated slice for one file (§4.5 load contract).
type LoadedFile struct {
	Record       types.FileRecord
	Nodes        []graph.Node
	Edges        []graph.Edge
	PartialPaths []pathsolver.PartialPath
}

// Load returns the persisted slice for path if its stored hash matches,
// nil if there is no such row (a cache miss) or the slice is corrupt (a
// checksum mismatch, which demotes the file to a miss so the caller
// re-indexes it).
func (s *Store) Load(path, hash string) (*LoadedFile, error) {
	var fileID types.FileID
	var storedHash, sourceType, usingsJSON string
	var spanStart, spanEnd uint32
	err := s.db.QueryRow(`SELECT id, hash, source_type, span_start, span_end, usings_json FROM files WHERE path = ?`, path).
		Scan(&fileID, &storedHash, &sourceType, &spanStart, &spanEnd, &usingsJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, csgerrors.PersistenceIO("load file row", err)
	}
	if storedHash != hash {
		return nil, nil
	}
	var usings []string
	if err := json.Unmarshal([]byte(usingsJSON), &usings); err != nil {
		return nil, csgerrors.GraphCorrupt(path, err)
	}

	rows, err := s.db.Query(`SELECT handle, kind, start_byte, end_byte, start_line, start_col, end_line, end_col, attrs_json, checksum FROM nodes WHERE file_id = ?`, fileID)
	if err != nil {
		return nil, csgerrors.PersistenceIO("load nodes", err)
	}
	defer rows.Close()

	var nodes []graph.Node
	for rows.Next() {
		var handle types.NodeHandle
		var kind uint8
		var span types.Span
		var attrsJSON string
		var storedChecksum int64
		if err := rows.Scan(&handle, &kind, &span.StartByte, &span.EndByte, &span.StartLine, &span.StartCol, &span.EndLine, &span.EndCol, &attrsJSON, &storedChecksum); err != nil {
			return nil, csgerrors.PersistenceIO("scan node", err)
		}
		checksum := uint64(storedChecksum)
		var attrs types.Attrs
		if err := json.Unmarshal([]byte(attrsJSON), &attrs); err != nil {
			return nil, csgerrors.GraphCorrupt(path, err)
		}
		node := graph.Node{Handle: handle, Kind: types.NodeKind(kind), File: fileID, Span: span, Attrs: attrs}
		if nodeChecksum(node, []byte(attrsJSON)) != checksum {
			return nil, nil // checksum mismatch (§4.5 Corruption): demote to miss
		}
		nodes = append(nodes, node)
	}
	if err := rows.Err(); err != nil {
		return nil, csgerrors.PersistenceIO("iterate nodes", err)
	}

	edges, err := s.loadEdges(nodes)
	if err != nil {
		return nil, err
	}

	paths, err := s.loadPartialPaths(fileID)
	if err != nil {
		return nil, err
	}

	return &LoadedFile{
		Record: types.FileRecord{
			ID:          fileID,
			AbsPath:     path,
			ContentHash: storedHash,
			SourceType:  types.SourceType(sourceType),
			TreeSpan:    types.Span{StartByte: spanStart, EndByte: spanEnd},
			Usings:      usings,
		},
		Nodes:        nodes,
		Edges:        edges,
		PartialPaths: paths,
	}, nil
}

func (s *Store) loadEdges(nodes []graph.Node) ([]graph.Edge, error) {
	var edges []graph.Edge
	for _, n := range nodes {
		rows, err := s.db.Query(`SELECT dst, precedence, label FROM edges WHERE src = ?`, n.Handle)
		if err != nil {
			return nil, csgerrors.PersistenceIO("load edges", err)
		}
		for rows.Next() {
			var e graph.Edge
			var label string
			if err := rows.Scan(&e.To, &e.Precedence, &label); err != nil {
				rows.Close()
				return nil, csgerrors.PersistenceIO("scan edge", err)
			}
			e.From = n.Handle
			e.Label = types.EdgeLabel(label)
			edges = append(edges, e)
		}
		rows.Close()
	}
	return edges, nil
}

func (s *Store) loadPartialPaths(fileID types.FileID) ([]pathsolver.PartialPath, error) {
	rows, err := s.db.Query(`SELECT node_handle, fqdn FROM partial_paths WHERE file_id = ?`, fileID)
	if err != nil {
		return nil, csgerrors.PersistenceIO("load partial paths", err)
	}
	defer rows.Close()

	var out []pathsolver.PartialPath
	for rows.Next() {
		var p pathsolver.PartialPath
		if err := rows.Scan(&p.Node, &p.FQDN); err != nil {
			return nil, csgerrors.PersistenceIO("scan partial path", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// InvalidateFile drops the files row for path, so the next Load for path is
// a miss and the next build re-indexes that file (used when a GraphCorrupt
// is detected for that file alone). Its node, edge and partial-path rows
// are left in place.
func (s *Store) InvalidateFile(path string) error {
	_, err := s.db.Exec(`DELETE FROM files WHERE path = ?`, path)
	if err != nil {
		return csgerrors.PersistenceIO("invalidate file", err)
	}
	return nil
}

func nodeChecksum(n graph.Node, attrsJSON []byte) uint64 {
	h := xxhash.New()
	fmt.Fprintf(h, "%d|%d|%d|%d|%d|%d|%d|", n.Kind, n.Span.StartByte, n.Span.EndByte, n.Span.StartLine, n.Span.StartCol, n.Span.EndLine, n.Span.EndCol)
	h.Write(attrsJSON)
	return h.Sum64()
}

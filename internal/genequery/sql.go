package genequery

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// GeneRow is one row of the gene_summary table, projected per the request's
// Fields mask by the caller.
type GeneRow struct {
	GeneID          string
	Name            string
	Seqid           string
	Start           int64
	End             int64
	Biotype         string
	TranscriptCount int64
	SequenceLength  int64
}

// TranscriptRow is one row of the transcript_summary table.
type TranscriptRow struct {
	TranscriptID   string
	ParentGeneID   string
	Biotype        string
	TranscriptType string
	Seqid          string
	Start          int64
	End            int64
	SequenceLength int64
}

// CountGenes returns the total row count of gene_summary, for
// /v1/genes/count.
func CountGenes(ctx context.Context, db *sql.DB) (int64, error) {
	var n int64
	err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM gene_summary").Scan(&n)
	return n, err
}

// QueryGenes runs a filtered, paginated gene query. limit bounds the number
// of rows returned; cursor, when non-empty, is the last gene_id seen on the
// previous page (exclusive keyset pagination ordered by gene_id). The
// returned nextCursor is empty when no further page exists.
func QueryGenes(ctx context.Context, db *sql.DB, filter GeneFilter, limit int, cursor string) ([]GeneRow, string, error) {
	if limit <= 0 {
		limit = 1
	}
	var where []string
	var args []any

	if filter.GeneID != "" {
		where = append(where, "gene_id = ?")
		args = append(args, filter.GeneID)
	}
	if filter.Name != "" {
		where = append(where, "name = ?")
		args = append(args, filter.Name)
	}
	if filter.NamePrefix != "" {
		where = append(where, "name LIKE ? ESCAPE '\\'")
		args = append(args, escapeLike(filter.NamePrefix)+"%")
	}
	if filter.Biotype != "" {
		where = append(where, "biotype = ?")
		args = append(args, filter.Biotype)
	}
	if filter.Region != nil {
		where = append(where, "seqid = ? AND start <= ? AND end >= ?")
		args = append(args, filter.Region.Seqid, filter.Region.End, filter.Region.Start)
	}
	if cursor != "" {
		where = append(where, "gene_id > ?")
		args = append(args, cursor)
	}

	query := "SELECT gene_id, name, seqid, start, end, biotype, transcript_count, sequence_length FROM gene_summary"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY gene_id LIMIT ?"
	args = append(args, limit+1)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, "", fmt.Errorf("genequery: gene query: %w", err)
	}
	defer rows.Close()

	var out []GeneRow
	for rows.Next() {
		var r GeneRow
		if err := rows.Scan(&r.GeneID, &r.Name, &r.Seqid, &r.Start, &r.End, &r.Biotype, &r.TranscriptCount, &r.SequenceLength); err != nil {
			return nil, "", fmt.Errorf("genequery: scanning gene row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	var next string
	if len(out) > limit {
		next = out[limit-1].GeneID
		out = out[:limit]
	}
	return out, next, nil
}

// QueryTranscripts runs a filtered, paginated transcript query, keyset
// paginated by transcript_id the same way as QueryGenes.
func QueryTranscripts(ctx context.Context, db *sql.DB, filter TranscriptFilter, limit int, cursor string) ([]TranscriptRow, string, error) {
	if limit <= 0 {
		limit = 1
	}
	var where []string
	var args []any

	if filter.ParentGeneID != "" {
		where = append(where, "parent_gene_id = ?")
		args = append(args, filter.ParentGeneID)
	}
	if filter.Biotype != "" {
		where = append(where, "biotype = ?")
		args = append(args, filter.Biotype)
	}
	if filter.TranscriptType != "" {
		where = append(where, "transcript_type = ?")
		args = append(args, filter.TranscriptType)
	}
	if filter.Region != nil {
		where = append(where, "seqid = ? AND start <= ? AND end >= ?")
		args = append(args, filter.Region.Seqid, filter.Region.End, filter.Region.Start)
	}
	if cursor != "" {
		where = append(where, "transcript_id > ?")
		args = append(args, cursor)
	}

	query := "SELECT transcript_id, parent_gene_id, biotype, transcript_type, seqid, start, end, sequence_length FROM transcript_summary"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY transcript_id LIMIT ?"
	args = append(args, limit+1)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, "", fmt.Errorf("genequery: transcript query: %w", err)
	}
	defer rows.Close()

	var out []TranscriptRow
	for rows.Next() {
		var r TranscriptRow
		if err := rows.Scan(&r.TranscriptID, &r.ParentGeneID, &r.Biotype, &r.TranscriptType, &r.Seqid, &r.Start, &r.End, &r.SequenceLength); err != nil {
			return nil, "", fmt.Errorf("genequery: scanning transcript row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	var next string
	if len(out) > limit {
		next = out[limit-1].TranscriptID
		out = out[:limit]
	}
	return out, next, nil
}

// GetTranscript fetches a single transcript by id, for /v1/transcripts/{id}.
func GetTranscript(ctx context.Context, db *sql.DB, transcriptID string) (TranscriptRow, bool, error) {
	var r TranscriptRow
	err := db.QueryRowContext(ctx,
		"SELECT transcript_id, parent_gene_id, biotype, transcript_type, seqid, start, end, sequence_length FROM transcript_summary WHERE transcript_id = ?",
		transcriptID,
	).Scan(&r.TranscriptID, &r.ParentGeneID, &r.Biotype, &r.TranscriptType, &r.Seqid, &r.Start, &r.End, &r.SequenceLength)
	if err == sql.ErrNoRows {
		return TranscriptRow{}, false, nil
	}
	if err != nil {
		return TranscriptRow{}, false, fmt.Errorf("genequery: fetching transcript %s: %w", transcriptID, err)
	}
	return r, true, nil
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "%", "\\%")
	s = strings.ReplaceAll(s, "_", "\\_")
	return s
}

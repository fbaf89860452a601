package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/bijux/atlas-cache/internal/genequery"
)

type geneRowJSON struct {
	GeneID          string `json:"gene_id,omitempty"`
	Name            string `json:"name,omitempty"`
	Seqid           string `json:"seqid,omitempty"`
	Start           int64  `json:"start,omitempty"`
	End             int64  `json:"end,omitempty"`
	Biotype         string `json:"biotype,omitempty"`
	TranscriptCount int64  `json:"transcript_count,omitempty"`
	SequenceLength  int64  `json:"sequence_length,omitempty"`
}

func projectGene(r genequery.GeneRow, fields genequery.Fields) geneRowJSON {
	var out geneRowJSON
	if fields.Has(genequery.FieldGeneID) {
		out.GeneID = r.GeneID
	}
	if fields.Has(genequery.FieldName) {
		out.Name = r.Name
	}
	if fields.Has(genequery.FieldCoords) {
		out.Seqid, out.Start, out.End = r.Seqid, r.Start, r.End
	}
	if fields.Has(genequery.FieldBiotype) {
		out.Biotype = r.Biotype
	}
	if fields.Has(genequery.FieldTranscriptCount) {
		out.TranscriptCount = r.TranscriptCount
	}
	if fields.Has(genequery.FieldSequenceLength) {
		out.SequenceLength = r.SequenceLength
	}
	return out
}

type transcriptRowJSON struct {
	TranscriptID   string `json:"transcript_id,omitempty"`
	ParentGeneID   string `json:"parent_gene_id,omitempty"`
	Biotype        string `json:"biotype,omitempty"`
	TranscriptType string `json:"transcript_type,omitempty"`
	Seqid          string `json:"seqid,omitempty"`
	Start          int64  `json:"start,omitempty"`
	End            int64  `json:"end,omitempty"`
	SequenceLength int64  `json:"sequence_length,omitempty"`
}

func projectTranscript(r genequery.TranscriptRow, fields genequery.Fields) transcriptRowJSON {
	var out transcriptRowJSON
	if fields.Has(genequery.FieldGeneID) {
		out.TranscriptID, out.ParentGeneID = r.TranscriptID, r.ParentGeneID
	}
	if fields.Has(genequery.FieldBiotype) {
		out.Biotype, out.TranscriptType = r.Biotype, r.TranscriptType
	}
	if fields.Has(genequery.FieldCoords) {
		out.Seqid, out.Start, out.End = r.Seqid, r.Start, r.End
	}
	if fields.Has(genequery.FieldSequenceLength) {
		out.SequenceLength = r.SequenceLength
	}
	return out
}

// parseGeneFilter builds a genequery.GeneFilter and Fields/limit/cursor from
// r's query parameters.
func parseGeneFilter(r *http.Request, maxLimit int) (genequery.GeneQueryRequest, error) {
	q := r.URL.Query()
	region, err := parseRegion(r)
	if err != nil {
		return genequery.GeneQueryRequest{}, err
	}
	limit, err := parseLimit(r, 50, maxLimit)
	if err != nil {
		return genequery.GeneQueryRequest{}, err
	}
	return genequery.GeneQueryRequest{
		Filter: genequery.GeneFilter{
			GeneID:     q.Get("gene_id"),
			Name:       q.Get("name"),
			NamePrefix: q.Get("name_prefix"),
			Biotype:    q.Get("biotype"),
			Region:     region,
		},
		Fields: genequery.ParseFields(q.Get("fields")),
		Limit:  limit,
		Cursor: q.Get("cursor"),
	}, nil
}

// handleGenes serves GET /v1/genes: filtered, paginated gene rows, with an
// exact gene-id lookup reclassified to Cheap regardless of the route's
// default Medium class.
func (s *Server) handleGenes(w http.ResponseWriter, r *http.Request) {
	id, err := datasetIDFromQuery(r)
	if err != nil {
		s.writeComputeError(w, err)
		return
	}
	req, err := parseGeneFilter(r, s.cfg.MaxGeneLimit)
	if err != nil {
		s.writeComputeError(w, err)
		return
	}
	class := genequery.ClassifyGeneQuery(req, genequery.Medium)
	fingerprint := queryFingerprint(r)

	compute := func(ctx context.Context) ([]byte, error) {
		conn, err := s.manager.OpenConnection(ctx, id)
		if err != nil {
			return nil, err
		}
		defer conn.Release()
		rows, next, err := genequery.QueryGenes(ctx, conn.DB, req.Filter, req.Limit, req.Cursor)
		if err != nil {
			return nil, err
		}
		out := make([]geneRowJSON, 0, len(rows))
		for _, row := range rows {
			out = append(out, projectGene(row, req.Fields))
		}
		return json.Marshal(map[string]any{
			"dataset":       id.Canonical(),
			"genes":         out,
			"next_cursor":   next,
			"catalog_epoch": s.manager.CatalogEpoch(),
		})
	}

	s.admit(w, r, "/v1/genes", class, id.Canonical(), fingerprint, compute)
}

// handleGeneCount serves GET /v1/genes/count: an unfiltered row count,
// always Cheap since it touches no filter parameters.
func (s *Server) handleGeneCount(w http.ResponseWriter, r *http.Request) {
	id, err := datasetIDFromQuery(r)
	if err != nil {
		s.writeComputeError(w, err)
		return
	}
	fingerprint := queryFingerprint(r)

	compute := func(ctx context.Context) ([]byte, error) {
		conn, err := s.manager.OpenConnection(ctx, id)
		if err != nil {
			return nil, err
		}
		defer conn.Release()
		n, err := genequery.CountGenes(ctx, conn.DB)
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]any{
			"dataset":       id.Canonical(),
			"gene_count":    n,
			"catalog_epoch": s.manager.CatalogEpoch(),
		})
	}

	s.admit(w, r, "/v1/genes/count", genequery.Cheap, id.Canonical(), fingerprint, compute)
}

// handleGeneTranscripts serves GET /v1/genes/{id}/transcripts: every
// transcript whose parent_gene_id matches the path id, classified Medium.
func (s *Server) handleGeneTranscripts(w http.ResponseWriter, r *http.Request) {
	id, err := datasetIDFromQuery(r)
	if err != nil {
		s.writeComputeError(w, err)
		return
	}
	geneID := r.PathValue("id")
	if geneID == "" {
		s.writeComputeError(w, badRequestf("missing gene id path segment"))
		return
	}
	region, err := parseRegion(r)
	if err != nil {
		s.writeComputeError(w, err)
		return
	}
	limit, err := parseLimit(r, 50, s.cfg.MaxTranscriptLimit)
	if err != nil {
		s.writeComputeError(w, err)
		return
	}
	q := r.URL.Query()
	filter := genequery.TranscriptFilter{
		ParentGeneID:   geneID,
		Biotype:        q.Get("biotype"),
		TranscriptType: q.Get("transcript_type"),
		Region:         region,
	}
	fields := genequery.ParseFields(q.Get("fields"))
	cursor := q.Get("cursor")
	fingerprint := queryFingerprint(r)

	compute := func(ctx context.Context) ([]byte, error) {
		conn, err := s.manager.OpenConnection(ctx, id)
		if err != nil {
			return nil, err
		}
		defer conn.Release()
		rows, next, err := genequery.QueryTranscripts(ctx, conn.DB, filter, limit, cursor)
		if err != nil {
			return nil, err
		}
		out := make([]transcriptRowJSON, 0, len(rows))
		for _, row := range rows {
			out = append(out, projectTranscript(row, fields))
		}
		return json.Marshal(map[string]any{
			"dataset":       id.Canonical(),
			"gene_id":       geneID,
			"transcripts":   out,
			"next_cursor":   next,
			"catalog_epoch": s.manager.CatalogEpoch(),
		})
	}

	s.admit(w, r, "/v1/genes/{id}/transcripts", genequery.Medium, id.Canonical(), fingerprint, compute)
}

// handleTranscript serves GET /v1/transcripts/{id}: a single-row exact
// lookup, classified Cheap.
func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	id, err := datasetIDFromQuery(r)
	if err != nil {
		s.writeComputeError(w, err)
		return
	}
	transcriptID := r.PathValue("id")
	if transcriptID == "" {
		s.writeComputeError(w, badRequestf("missing transcript id path segment"))
		return
	}
	fingerprint := queryFingerprint(r)

	compute := func(ctx context.Context) ([]byte, error) {
		conn, err := s.manager.OpenConnection(ctx, id)
		if err != nil {
			return nil, err
		}
		defer conn.Release()
		row, ok, err := genequery.GetTranscript(ctx, conn.DB, transcriptID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, notFoundf("transcript %s not found", transcriptID)
		}
		return json.Marshal(map[string]any{
			"dataset":       id.Canonical(),
			"transcript":    projectTranscript(row, genequery.AllFields),
			"catalog_epoch": s.manager.CatalogEpoch(),
		})
	}

	s.admit(w, r, "/v1/transcripts/{id}", genequery.Cheap, id.Canonical(), fingerprint, compute)
}

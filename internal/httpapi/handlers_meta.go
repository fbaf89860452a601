package httpapi

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/bijux/atlas-cache/internal/datasetid"
	"github.com/bijux/atlas-cache/internal/genequery"
	"github.com/bijux/atlas-cache/internal/manifest"
)

// buildVersion is set at link time (-ldflags "-X ...buildVersion=...");
// "dev" is the fallback for local builds.
var buildVersion = "dev"

// handleVersion returns a short version payload with a short-lived
// cache-control header.
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	compute := func(ctx context.Context) ([]byte, error) {
		return json.Marshal(map[string]string{"version": buildVersion})
	}
	finalize := func(w http.ResponseWriter, r *http.Request, body []byte) bool {
		w.Header().Set("cache-control", "public, max-age=60")
		writeCompressed(w, r, body, s.cfg)
		return true
	}
	s.admitWithFinalize(w, r, "/v1/version", genequery.Cheap, "", "", compute, finalize)
}

type datasetsResponse struct {
	Datasets []datasetListEntry `json:"datasets"`
}

type datasetListEntry struct {
	Dataset         string `json:"dataset"`
	ManifestPath    string `json:"manifest_path"`
	SqlitePath      string `json:"sqlite_path"`
	BillOfMaterials any    `json:"bill_of_materials,omitempty"`
}

// handleDatasets serves the catalog listing. A 200 body carries a strong
// ETag (SHA-256 of the serialized payload); a matching if-none-match yields
// 304 with no body. include_bom=1 attaches per-dataset checksums and stats.
func (s *Server) handleDatasets(w http.ResponseWriter, r *http.Request) {
	if s.draining.Load() {
		writeError(w, http.StatusServiceUnavailable, CodeQueryRejectedByPolicy, "service draining", nil)
		return
	}
	includeBOM := boolQueryFlag(r, "include_bom")
	fingerprint := queryFingerprint(r)

	compute := func(ctx context.Context) ([]byte, error) {
		_ = s.manager.RefreshCatalog(ctx)
		cat := s.manager.CurrentCatalog()
		out := make([]datasetListEntry, 0, len(cat.Entries))
		for _, e := range cat.Entries {
			row := datasetListEntry{Dataset: e.Dataset.Canonical(), ManifestPath: e.ManifestPath, SqlitePath: e.SqlitePath}
			if includeBOM {
				if man, err := s.manager.ManifestSummary(ctx, e.Dataset); err == nil {
					row.BillOfMaterials = map[string]any{
						"manifest_version":  man.ManifestVersion,
						"db_schema_version": man.DBSchemaVersion,
						"checksums":         man.Checksums,
						"stats":             man.Stats,
					}
				}
			}
			out = append(out, row)
		}
		return json.Marshal(datasetsResponse{Datasets: out})
	}

	finalize := func(w http.ResponseWriter, r *http.Request, body []byte) bool {
		sum := sha256.Sum256(body)
		etag := `"` + hex.EncodeToString(sum[:]) + `"`
		w.Header().Set("cache-control", "public, max-age="+strconv.Itoa(int(s.cfg.DiscoveryTTL.Seconds())))
		w.Header().Set("etag", etag)
		if r.Header.Get("if-none-match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return true
		}
		writeCompressed(w, r, body, s.cfg)
		return true
	}

	s.admitWithFinalize(w, r, "/v1/datasets", genequery.Cheap, "", fingerprint, compute, finalize)
}

// handleDatasetDetail serves provenance and manifest-summary information
// for one dataset: provenance, catalog_entry, manifest_summary, qc_summary,
// and an optional bill_of_materials block.
func (s *Server) handleDatasetDetail(w http.ResponseWriter, r *http.Request) {
	release := r.PathValue("release")
	species := r.PathValue("species")
	assembly := r.PathValue("assembly")
	includeBOM := boolQueryFlag(r, "include_bom")
	route := "/v1/releases/{release}/species/{species}/assemblies/{assembly}"

	id, err := parseDatasetID(release, species, assembly)
	if err != nil {
		s.writeComputeError(w, err)
		return
	}

	fingerprint := genequery.NormalizeQuery(map[string]string{"include_bom": strconv.FormatBool(includeBOM)})

	compute := func(ctx context.Context) ([]byte, error) {
		cat := s.manager.CurrentCatalog()
		entry, ok := cat.Find(id)
		if !ok {
			return nil, notFoundf("dataset %s not found in catalog", id)
		}

		man, err := s.manager.ManifestSummary(ctx, id)
		if err != nil {
			return nil, err
		}

		payload := map[string]any{
			"dataset":      id.Canonical(),
			"provenance":   datasetProvenance(id, man),
			"catalog_entry": map[string]string{
				"dataset":       entry.Dataset.Canonical(),
				"manifest_path": entry.ManifestPath,
				"sqlite_path":   entry.SqlitePath,
			},
			"manifest_summary": map[string]any{
				"manifest_version":  man.ManifestVersion,
				"db_schema_version": man.DBSchemaVersion,
				"stats":             man.Stats,
			},
			"qc_summary": map[string]any{
				"gene_count":       man.Stats.GeneCount,
				"transcript_count": man.Stats.TranscriptCount,
				"contig_count":     man.Stats.ContigCount,
			},
		}
		if includeBOM {
			payload["bill_of_materials"] = map[string]any{
				"checksums":         man.Checksums,
				"manifest_version":  man.ManifestVersion,
				"db_schema_version": man.DBSchemaVersion,
			}
		}
		return json.Marshal(payload)
	}

	s.admit(w, r, route, genequery.Cheap, id.Canonical(), fingerprint, compute)
}

// datasetProvenance builds the provenance block: the dataset hash plus the
// manifest's version, schema version, and signature.
func datasetProvenance(id datasetid.ID, man manifest.Manifest) map[string]any {
	return map[string]any{
		"dataset_hash":              id.Hash(),
		"release":                   id.Release,
		"species":                   id.Species,
		"assembly":                  id.Assembly,
		"manifest_version":          man.ManifestVersion,
		"db_schema_version":         man.DBSchemaVersion,
		"dataset_signature_sha256":  man.DatasetSignatureSHA256,
	}
}

func boolQueryFlag(r *http.Request, name string) bool {
	v := r.URL.Query().Get(name)
	return v == "1" || v == "true" || v == "TRUE" || v == "True"
}

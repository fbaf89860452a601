package httpapi

import (
	"fmt"
	"html/template"
	"net/http"
)

var landingTemplate = template.Must(template.New("landing").Parse(`<!DOCTYPE html>
<html>
<head><title>Atlas Dataset Cache</title></head>
<body>
<h1>Atlas Dataset Cache</h1>
<p>Read-only query layer over versioned genomic datasets.</p>
<ul>
{{range .Datasets}}<li><a href="/v1/genes/count?release={{.Release}}&species={{.Species}}&assembly={{.Assembly}}">{{.Canonical}}</a></li>
{{end}}
</ul>
</body>
</html>
`))

type landingDataset struct {
	Canonical, Release, Species, Assembly string
}

// handleLanding renders an HTML landing page listing known datasets with
// example query links. Low-risk operational surface, not part of the JSON
// API contract.
func (s *Server) handleLanding(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	cat := s.manager.CurrentCatalog()
	datasets := make([]landingDataset, 0, len(cat.Entries))
	for _, e := range cat.Entries {
		datasets = append(datasets, landingDataset{
			Canonical: e.Dataset.Canonical(),
			Release:   e.Dataset.Release,
			Species:   e.Dataset.Species,
			Assembly:  e.Dataset.Assembly,
		})
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := landingTemplate.Execute(w, struct{ Datasets []landingDataset }{Datasets: datasets}); err != nil {
		http.Error(w, fmt.Sprintf("render landing page: %v", err), http.StatusInternalServerError)
	}
}

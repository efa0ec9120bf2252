// Command apiserver is a thin REST adapter over the core packages. Per
// §6 of the governing design, every handler parses the request, calls
// exactly one core package function, and encodes the result as JSON; no
// business logic lives here. Routing uses chi, the same router
// artpar/apigate wires up for its own OpenAPI-adjacent surface.
package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/devops-wiz/apiflow/internal/catalog"
	"github.com/devops-wiz/apiflow/internal/config"
	"github.com/devops-wiz/apiflow/internal/executor"
	"github.com/devops-wiz/apiflow/internal/httpclient"
	"github.com/devops-wiz/apiflow/internal/inference"
	"github.com/devops-wiz/apiflow/internal/ingest"
	"github.com/devops-wiz/apiflow/internal/registry"
	"github.com/devops-wiz/apiflow/internal/reporting"
	"github.com/devops-wiz/apiflow/internal/specsource"
	"github.com/devops-wiz/apiflow/internal/sqlstore"
)

type server struct {
	store  *sqlstore.Store
	log    zerolog.Logger
	rc     config.Resolved
}

func main() {
	rc := config.Derive()
	log := zerolog.New(os.Stdout).With().Timestamp().Logger()

	store, err := sqlstore.Open(rc.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("open store")
	}
	defer store.Close()

	s := &server{store: store, log: log, rc: rc}

	r := chi.NewRouter()
	r.Use(middleware.Logger, middleware.Recoverer)

	r.Post("/projects", s.createProject)
	r.Get("/projects", s.listProjects)
	r.Delete("/projects/{id}", s.deleteProject)
	r.Post("/ingest", s.ingestSpec)
	r.Get("/projects/{id}/apis", s.listApis)
	r.Get("/apis/{id}", s.getApi)
	r.Post("/projects/{id}/analyze", s.analyze)
	r.Get("/projects/{id}/candidates", s.listCandidates)
	r.Get("/projects/{id}/dependencies", s.listDependencies)
	r.Post("/dependencies", s.promoteDependency)
	r.Delete("/dependencies/{id}", s.deleteDependency)
	r.Post("/projects/{id}/run", s.runProject)
	r.Get("/runs/{id}", s.getRun)

	addr := ":8080"
	log.Info().Str("addr", addr).Msg("apiserver listening")
	if err := http.ListenAndServe(addr, r); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

func (s *server) createProject(w http.ResponseWriter, r *http.Request) {
	var in catalog.Project
	if !decodeJSON(w, r, &in) {
		return
	}
	p, err := s.store.CreateProject(r.Context(), in)
	respond(w, p, err)
}

func (s *server) listProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.store.ListProjects(r.Context())
	respond(w, projects, err)
}

func (s *server) deleteProject(w http.ResponseWriter, r *http.Request) {
	err := s.store.DeleteProject(r.Context(), chi.URLParam(r, "id"))
	respond(w, struct{}{}, err)
}

func (s *server) ingestSpec(w http.ResponseWriter, r *http.Request) {
	var in struct {
		ProjectID string `json:"projectId"`
		SpecURL   string `json:"specUrl"`
		SpecPath  string `json:"specPath"`
	}
	if !decodeJSON(w, r, &in) {
		return
	}
	var src specsource.Source
	switch {
	case in.SpecPath != "":
		src = specsource.FileSource{Path: in.SpecPath}
	default:
		src = specsource.HTTPSource{URL: in.SpecURL, Client: httpclient.NewTargetClient(httpclient.Options{TimeoutSeconds: s.rc.HTTPTimeoutSec})}
	}
	result, err := ingest.New(s.store, s.log).Ingest(r.Context(), in.ProjectID, src)
	respond(w, result, err)
}

func (s *server) listApis(w http.ResponseWriter, r *http.Request) {
	apis, err := s.store.ListApisByProject(r.Context(), chi.URLParam(r, "id"))
	respond(w, apis, err)
}

func (s *server) getApi(w http.ResponseWriter, r *http.Request) {
	api, err := s.store.GetApi(r.Context(), chi.URLParam(r, "id"))
	respond(w, api, err)
}

func (s *server) analyze(w http.ResponseWriter, r *http.Request) {
	analyzer := &inference.Analyzer{
		Store: s.store,
		Chat: inference.HTTPChatClient{
			Endpoint: s.rc.LLMEndpoint,
			APIKey:   s.rc.LLMAPIKey,
			Client:   httpclient.NewLLMClient(httpclient.Options{TimeoutSeconds: s.rc.HTTPTimeoutSec}),
		},
		Model:       s.rc.LLMModel,
		Concurrency: s.rc.InferenceConcurrency,
	}
	err := analyzer.Analyze(r.Context(), chi.URLParam(r, "id"))
	respond(w, struct{}{}, err)
}

func (s *server) listCandidates(w http.ResponseWriter, r *http.Request) {
	cands, err := s.store.ListCandidatesByProject(r.Context(), chi.URLParam(r, "id"))
	respond(w, cands, err)
}

func (s *server) listDependencies(w http.ResponseWriter, r *http.Request) {
	deps, err := s.store.ListDependenciesByProject(r.Context(), chi.URLParam(r, "id"))
	respond(w, deps, err)
}

func (s *server) promoteDependency(w http.ResponseWriter, r *http.Request) {
	var in catalog.ApiDependency
	if !decodeJSON(w, r, &in) {
		return
	}
	dep, err := registry.New(s.store).Promote(r.Context(), in)
	respond(w, dep, err)
}

func (s *server) deleteDependency(w http.ResponseWriter, r *http.Request) {
	err := registry.New(s.store).Delete(r.Context(), chi.URLParam(r, "id"))
	respond(w, struct{}{}, err)
}

func (s *server) runProject(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Environment string `json:"environment"`
	}
	if !decodeJSON(w, r, &in) {
		return
	}
	ex := executor.New(s.store, httpclient.NewTargetClient(httpclient.Options{TimeoutSeconds: s.rc.HTTPTimeoutSec}))
	run, err := ex.Run(r.Context(), chi.URLParam(r, "id"), in.Environment)
	respond(w, run, err)
}

func (s *server) getRun(w http.ResponseWriter, r *http.Request) {
	report, err := reporting.ProjectRun(r.Context(), s.store, chi.URLParam(r, "id"))
	respond(w, report, err)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func respond(w http.ResponseWriter, v any, err error) {
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case isNotFound(err):
			status = http.StatusNotFound
		case isClientError(err):
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func isNotFound(err error) bool {
	return errors.Is(err, catalog.ErrNotFound)
}

func isClientError(err error) bool {
	for _, sentinel := range []error{
		catalog.ErrInvalidSpec, catalog.ErrUnsupportedVersion, catalog.ErrSelfDependency, catalog.ErrUnserializableSchema,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

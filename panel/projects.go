package panel

import (
	"errors"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/unipanel/backend/core"
	"github.com/unipanel/backend/core/access"
	"github.com/unipanel/backend/core/logger"
	"github.com/unipanel/backend/core/schema"
	"github.com/unipanel/backend/core/share"
)

func (b *Backend) handleProjectRoutes() {
	nillog := logger.Default()
	nillog.Debugln("project routes:")
	nillog.Debugln("  handle route: /projects GET POST")
	nillog.Debugln("  handle route: /projects/{project_id} GET DELETE")
	nillog.Debugln("  handle route: /projects/{project_id}/refresh POST")
	nillog.Debugln("  handle route: /projects/{project_id}/links GET POST")
	nillog.Debugln("  handle route: /projects/{project_id}/entries GET")
	nillog.Debugln("  handle route: /links/{link_id} PUT")

	r := b.router
	r.HandleFunc("/projects", b.createProject).Methods(http.MethodPost)
	r.Handle("/projects", handlers.CompressHandler(http.HandlerFunc(b.listProjects))).Methods(http.MethodGet)
	r.HandleFunc("/projects/{project_id}", b.getProject).Methods(http.MethodGet)
	r.HandleFunc("/projects/{project_id}", b.deleteProject).Methods(http.MethodDelete)
	r.HandleFunc("/projects/{project_id}/refresh", b.refreshSchema).Methods(http.MethodPost)
	r.HandleFunc("/projects/{project_id}/links", b.createSharedLink).Methods(http.MethodPost)
	r.HandleFunc("/projects/{project_id}/links", b.listSharedLinks).Methods(http.MethodGet)
	r.Handle("/projects/{project_id}/entries", handlers.CompressHandler(http.HandlerFunc(b.listClientEntries))).Methods(http.MethodGet)
	r.HandleFunc("/links/{link_id}", b.updateSharedLink).Methods(http.MethodPut)
}

// ownedProject loads the project and enforces that the authenticated
// developer owns it. It writes the error response itself and returns nil
// when the request must not proceed.
func (b *Backend) ownedProject(w http.ResponseWriter, r *http.Request) *Project {
	auth := access.AuthorizationFromContext(r.Context())
	if auth == nil {
		http.Error(w, "developer authentication required", http.StatusUnauthorized)
		return nil
	}
	projectID, err := uuid.Parse(mux.Vars(r)["project_id"])
	if err != nil {
		http.Error(w, "invalid project id", http.StatusBadRequest)
		return nil
	}
	project, err := b.store.projectByID(projectID)
	if errors.Is(err, ErrNotFound) {
		http.Error(w, "no such project", http.StatusNotFound)
		return nil
	}
	if err != nil {
		logger.FromContext(r.Context()).Errorln("cannot load project:", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return nil
	}
	if project.DeveloperID != auth.DeveloperID && !auth.HasRole("admin") {
		http.Error(w, "not your project", http.StatusForbidden)
		return nil
	}
	return project
}

type createProjectRequest struct {
	Name           string `json:"name"`
	Description    string `json:"description"`
	StoreURI       string `json:"store_uri"`
	DatabaseName   string `json:"database_name"`
	CollectionName string `json:"collection_name"`
}

func (b *Backend) createProject(w http.ResponseWriter, r *http.Request) {
	rlog := logger.FromContext(r.Context())

	auth := access.AuthorizationFromContext(r.Context())
	if auth == nil {
		http.Error(w, "developer authentication required", http.StatusUnauthorized)
		return
	}

	var request createProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if request.Name == "" || request.StoreURI == "" || request.DatabaseName == "" || request.CollectionName == "" {
		http.Error(w, "name, store_uri, database_name and collection_name are required", http.StatusBadRequest)
		return
	}

	project := &Project{
		DeveloperID:    auth.DeveloperID,
		Name:           request.Name,
		Description:    request.Description,
		StoreURI:       request.StoreURI,
		DatabaseName:   request.DatabaseName,
		CollectionName: request.CollectionName,
		Schema:         schema.Schema{},
	}

	// one sampling pass populates the initial schema. Creation proceeds
	// with an empty schema when the store is not reachable yet, a later
	// refresh picks it up.
	raw, err := b.sampler.Sample(r.Context(), project.Target())
	if err != nil {
		rlog.Warningln("schema analysis failed during project creation:", err)
	} else {
		project.Schema = schema.Normalize(raw, b.Now())
	}

	if err := b.store.createProject(project); err != nil {
		rlog.Errorln("cannot create project:", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	b.notify("project", core.OperationInsert, project)
	writeJSON(w, http.StatusCreated, project)
}

func (b *Backend) listProjects(w http.ResponseWriter, r *http.Request) {
	auth := access.AuthorizationFromContext(r.Context())
	if auth == nil {
		http.Error(w, "developer authentication required", http.StatusUnauthorized)
		return
	}
	projects, err := b.store.projectsByDeveloper(auth.DeveloperID)
	if err != nil {
		logger.FromContext(r.Context()).Errorln("cannot list projects:", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

func (b *Backend) getProject(w http.ResponseWriter, r *http.Request) {
	project := b.ownedProject(w, r)
	if project == nil {
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (b *Backend) deleteProject(w http.ResponseWriter, r *http.Request) {
	project := b.ownedProject(w, r)
	if project == nil {
		return
	}
	if err := b.store.softDeleteProject(project.ProjectID, project.DeveloperID); err != nil {
		logger.FromContext(r.Context()).Errorln("cannot delete project:", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	b.notify("project", core.OperationDelete, project.ProjectID)
	w.WriteHeader(http.StatusNoContent)
}

type refreshResponse struct {
	Project *Project          `json:"project"`
	Stats   schema.MergeStats `json:"stats"`
}

// refreshSchema re-samples the collection and merges the result into the
// stored schema. Manually added fields survive the refresh.
func (b *Backend) refreshSchema(w http.ResponseWriter, r *http.Request) {
	rlog := logger.FromContext(r.Context())

	project := b.ownedProject(w, r)
	if project == nil {
		return
	}

	raw, err := b.sampler.Sample(r.Context(), project.Target())
	if err != nil {
		rlog.Errorln("schema refresh failed:", err)
		http.Error(w, "cannot reach the connected store", http.StatusBadGateway)
		return
	}
	fresh := schema.Normalize(raw, b.Now())

	var stats schema.MergeStats
	for attempt := 0; ; attempt++ {
		var merged schema.Schema
		merged, stats = schema.Merge(project.Schema, fresh, b.Now())
		err = b.store.updateProjectSchema(project.ProjectID, merged, project.SchemaRevision)
		if err == nil {
			project.Schema = merged
			project.SchemaRevision++
			break
		}
		if !errors.Is(err, ErrConflict) || attempt+1 >= schemaWriteAttempts {
			rlog.Errorln("cannot store refreshed schema:", err)
			http.Error(w, "schema write conflict", http.StatusConflict)
			return
		}
		// lost the race, re-read and merge again
		project, err = b.store.projectByID(project.ProjectID)
		if err != nil {
			rlog.Errorln("cannot re-read project:", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
	}

	rlog.Infoln("schema refreshed: preserved", stats.PreservedManual, "manual fields, updated", stats.UpdatedOrAdded)
	b.notify("project/schema", core.OperationUpdate, project)
	writeJSON(w, http.StatusOK, refreshResponse{Project: project, Stats: stats})
}

type createLinkRequest struct {
	Permissions share.Permissions `json:"permissions"`
	// ExpiresIn is an optional TTL in seconds
	ExpiresIn int64 `json:"expires_in,omitempty"`
	// ExpiresAt is an optional absolute expiry, it wins over ExpiresIn
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	// CustomSchema optionally restricts the link to its own schema
	CustomSchema schema.Schema `json:"custom_schema,omitempty"`
}

func (b *Backend) createSharedLink(w http.ResponseWriter, r *http.Request) {
	project := b.ownedProject(w, r)
	if project == nil {
		return
	}

	var request createLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	link := &SharedLink{
		ProjectID:    project.ProjectID,
		IsActive:     true,
		Permissions:  request.Permissions,
		CustomSchema: request.CustomSchema,
	}
	if request.ExpiresAt != nil {
		link.ExpiresAt = request.ExpiresAt
	} else if request.ExpiresIn > 0 {
		expiry := b.Now().Add(time.Duration(request.ExpiresIn) * time.Second)
		link.ExpiresAt = &expiry
	}

	if err := b.store.createSharedLink(link); err != nil {
		logger.FromContext(r.Context()).Errorln("cannot create shared link:", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	b.notify("link", core.OperationInsert, link.LinkID)
	// the token is returned once, at creation time
	writeJSON(w, http.StatusCreated, link)
}

func (b *Backend) listSharedLinks(w http.ResponseWriter, r *http.Request) {
	project := b.ownedProject(w, r)
	if project == nil {
		return
	}
	links, err := b.store.sharedLinksByProject(project.ProjectID)
	if err != nil {
		logger.FromContext(r.Context()).Errorln("cannot list shared links:", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	now := b.Now()
	response := make([]linkView, len(links))
	for i := range links {
		// tokens are shown only once at creation time
		links[i].Token = ""
		response[i] = linkView{SharedLink: &links[i], LinkStatus: links[i].Status(now)}
	}
	writeJSON(w, http.StatusOK, response)
}

type linkView struct {
	*SharedLink
	LinkStatus share.Status `json:"status"`
}

type updateLinkRequest struct {
	IsActive *bool `json:"is_active"`
}

func (b *Backend) updateSharedLink(w http.ResponseWriter, r *http.Request) {
	rlog := logger.FromContext(r.Context())

	auth := access.AuthorizationFromContext(r.Context())
	if auth == nil {
		http.Error(w, "developer authentication required", http.StatusUnauthorized)
		return
	}
	linkID, err := uuid.Parse(mux.Vars(r)["link_id"])
	if err != nil {
		http.Error(w, "invalid link id", http.StatusBadRequest)
		return
	}
	link, err := b.store.sharedLinkByID(linkID)
	if errors.Is(err, ErrNotFound) {
		http.Error(w, "no such link", http.StatusNotFound)
		return
	}
	if err != nil {
		rlog.Errorln("cannot load shared link:", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	// ownership is established through the parent project
	project, err := b.store.projectByID(link.ProjectID)
	if err != nil {
		http.Error(w, "no such project", http.StatusNotFound)
		return
	}
	if project.DeveloperID != auth.DeveloperID && !auth.HasRole("admin") {
		http.Error(w, "not your project", http.StatusForbidden)
		return
	}

	var request updateLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if request.IsActive != nil {
		if err := b.store.setSharedLinkActive(linkID, *request.IsActive); err != nil {
			rlog.Errorln("cannot update shared link:", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		link.IsActive = *request.IsActive
		b.notify("link", core.OperationUpdate, linkID)
	}
	link.Token = ""
	writeJSON(w, http.StatusOK, link)
}

func (b *Backend) listClientEntries(w http.ResponseWriter, r *http.Request) {
	project := b.ownedProject(w, r)
	if project == nil {
		return
	}
	entries, err := b.store.clientEntriesByProject(project.ProjectID)
	if err != nil {
		logger.FromContext(r.Context()).Errorln("cannot list client entries:", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

package panel

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/unipanel/backend/core"
	"github.com/unipanel/backend/core/docstore"
	"github.com/unipanel/backend/core/logger"
	"github.com/unipanel/backend/core/schema"
	"github.com/unipanel/backend/core/share"
)

func (b *Backend) handleSharedRoutes() {
	nillog := logger.Default()
	nillog.Debugln("shared routes:")
	nillog.Debugln("  handle route: /shared/{token} GET")
	nillog.Debugln("  handle route: /shared/{token}/data GET POST")
	nillog.Debugln("  handle route: /shared/{token}/data/{document_id} PUT DELETE")
	nillog.Debugln("  handle route: /shared/{token}/schema/fields POST")
	nillog.Debugln("  handle route: /shared/{token}/schema/fields/{name} DELETE")

	r := b.router
	r.HandleFunc("/shared/{token}", b.sharedInfo).Methods(http.MethodGet)
	r.Handle("/shared/{token}/data", handlers.CompressHandler(http.HandlerFunc(b.sharedListData))).Methods(http.MethodGet)
	r.HandleFunc("/shared/{token}/data", b.sharedInsertData).Methods(http.MethodPost)
	r.HandleFunc("/shared/{token}/data/{document_id}", b.sharedUpdateData).Methods(http.MethodPut)
	r.HandleFunc("/shared/{token}/data/{document_id}", b.sharedDeleteData).Methods(http.MethodDelete)
	r.HandleFunc("/shared/{token}/schema/fields", b.sharedAddField).Methods(http.MethodPost)
	r.HandleFunc("/shared/{token}/schema/fields/{name}", b.sharedRemoveField).Methods(http.MethodDelete)
}

// resolveToken resolves the bearer token into its link and project.
// Unknown tokens, revoked and expired links all produce the identical
// "access denied" response, a prober learns nothing about the token's
// history. On failure the response has been written and link is nil.
func (b *Backend) resolveToken(w http.ResponseWriter, r *http.Request) (*SharedLink, *Project) {
	rlog := logger.FromContext(r.Context())

	link, err := b.store.sharedLinkByToken(mux.Vars(r)["token"])
	if errors.Is(err, ErrNotFound) {
		rlog.Infoln("share access denied: unknown token")
		http.Error(w, "access denied", http.StatusForbidden)
		return nil, nil
	}
	if err != nil {
		rlog.Errorln("cannot resolve share token:", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return nil, nil
	}

	project, err := b.store.projectByID(link.ProjectID)
	if errors.Is(err, ErrNotFound) {
		// the project was deleted, its links die with it
		rlog.Infoln("share access denied: project gone")
		http.Error(w, "access denied", http.StatusForbidden)
		return nil, nil
	}
	if err != nil {
		rlog.Errorln("cannot load project for share token:", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return nil, nil
	}

	if err := share.CheckStatus(link.Status(b.Now())); err != nil {
		shareError(w, r, err)
		return nil, nil
	}
	return link, project
}

// resolveShare additionally authorizes the requested operation against
// the link's permissions.
func (b *Backend) resolveShare(w http.ResponseWriter, r *http.Request, op core.Operation) (*SharedLink, *Project) {
	link, project := b.resolveToken(w, r)
	if link == nil {
		return nil, nil
	}
	if err := share.Authorize(link.Permissions, op, link.Status(b.Now())); err != nil {
		shareError(w, r, err)
		return nil, nil
	}
	return link, project
}

type sharedInfoResponse struct {
	ProjectName string            `json:"project_name"`
	Description string            `json:"description,omitempty"`
	Schema      schema.Schema     `json:"schema"`
	Permissions share.Permissions `json:"permissions"`
	FormFields  []share.FormField `json:"form_fields,omitempty"`
}

// sharedInfo describes the shared collection to the arriving client:
// the effective schema, the granted permissions and, for links that may
// insert, the rendered form fields. Any live token may read this, there
// is no per-operation gate: a client holding an insert-only link still
// needs the schema to build its form.
func (b *Backend) sharedInfo(w http.ResponseWriter, r *http.Request) {
	link, project := b.resolveToken(w, r)
	if link == nil {
		return
	}

	effective := link.EffectiveSchema(project)
	response := sharedInfoResponse{
		ProjectName: project.Name,
		Description: project.Description,
		Schema:      effective,
		Permissions: link.Permissions,
	}
	if link.Permissions.CanInsert {
		fields, err := share.FormFields(effective, link.Permissions)
		if err != nil {
			shareError(w, r, err)
			return
		}
		response.FormFields = fields
	}
	writeJSON(w, http.StatusOK, response)
}

func (b *Backend) sharedListData(w http.ResponseWriter, r *http.Request) {
	link, project := b.resolveShare(w, r, core.OperationView)
	if link == nil {
		return
	}

	limit, skip := int64(50), int64(0)
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	if s := r.URL.Query().Get("skip"); s != "" {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil && n >= 0 {
			skip = n
		}
	}

	page, err := b.docs.List(r.Context(), project.Target(), limit, skip)
	if err != nil {
		logger.FromContext(r.Context()).Errorln("cannot list documents:", err)
		http.Error(w, "cannot reach the connected store", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (b *Backend) sharedInsertData(w http.ResponseWriter, r *http.Request) {
	rlog := logger.FromContext(r.Context())

	link, project := b.resolveShare(w, r, core.OperationInsert)
	if link == nil {
		return
	}

	var doc map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	validator, err := schema.Compile(link.EffectiveSchema(project))
	if err != nil {
		rlog.Errorln("cannot compile schema:", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if err := validator.ValidateDocument(doc); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	documentID, err := b.docs.Insert(r.Context(), project.Target(), doc)
	if err != nil {
		rlog.Errorln("cannot insert document:", err)
		http.Error(w, "cannot reach the connected store", http.StatusBadGateway)
		return
	}

	entry := &ClientEntry{
		ProjectID:  project.ProjectID,
		LinkID:     link.LinkID,
		DocumentID: documentID,
		Payload:    doc,
	}
	if err := b.store.insertClientEntry(entry); err != nil {
		// the document is already in the store, losing the audit entry
		// is logged but does not fail the insertion
		rlog.Errorln("cannot record client entry:", err)
	}

	b.notify("entry", core.OperationInsert, entry)
	writeJSON(w, http.StatusCreated, map[string]string{"document_id": documentID})
}

func (b *Backend) sharedUpdateData(w http.ResponseWriter, r *http.Request) {
	rlog := logger.FromContext(r.Context())

	link, project := b.resolveShare(w, r, core.OperationUpdate)
	if link == nil {
		return
	}
	documentID := mux.Vars(r)["document_id"]

	var doc map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	validator, err := schema.Compile(link.EffectiveSchema(project))
	if err != nil {
		rlog.Errorln("cannot compile schema:", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if err := validator.ValidateDocument(doc); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	err = b.docs.Update(r.Context(), project.Target(), documentID, doc)
	if errors.Is(err, docstore.ErrDocumentNotFound) {
		http.Error(w, "no such document", http.StatusNotFound)
		return
	}
	if err != nil {
		rlog.Errorln("cannot update document:", err)
		http.Error(w, "cannot reach the connected store", http.StatusBadGateway)
		return
	}

	b.notify("document", core.OperationUpdate, map[string]interface{}{
		"project_id":  project.ProjectID,
		"link_id":     link.LinkID,
		"document_id": documentID,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (b *Backend) sharedDeleteData(w http.ResponseWriter, r *http.Request) {
	link, project := b.resolveShare(w, r, core.OperationDelete)
	if link == nil {
		return
	}
	documentID := mux.Vars(r)["document_id"]

	err := b.docs.Delete(r.Context(), project.Target(), documentID)
	if errors.Is(err, docstore.ErrDocumentNotFound) {
		http.Error(w, "no such document", http.StatusNotFound)
		return
	}
	if err != nil {
		logger.FromContext(r.Context()).Errorln("cannot delete document:", err)
		http.Error(w, "cannot reach the connected store", http.StatusBadGateway)
		return
	}

	b.notify("document", core.OperationDelete, map[string]interface{}{
		"project_id":  project.ProjectID,
		"link_id":     link.LinkID,
		"document_id": documentID,
	})
	w.WriteHeader(http.StatusNoContent)
}

type addFieldRequest struct {
	Name     string           `json:"name"`
	Type     schema.FieldType `json:"type"`
	Required bool             `json:"required"`
}

func (b *Backend) sharedAddField(w http.ResponseWriter, r *http.Request) {
	link, project := b.resolveShare(w, r, core.OperationModifySchema)
	if link == nil {
		return
	}

	var request addFieldRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if request.Name == "" {
		http.Error(w, "field name is required", http.StatusBadRequest)
		return
	}
	if request.Type == "" {
		request.Type = schema.TypeString
	}

	edit := schema.AddField{Name: request.Name, Type: request.Type, Required: request.Required}
	edited, err := b.applySchemaEdit(r, link, project, edit)
	if err != nil {
		b.schemaEditError(w, r, err)
		return
	}

	b.notify("schema/field", core.OperationInsert, map[string]interface{}{
		"project_id": project.ProjectID,
		"link_id":    link.LinkID,
		"name":       request.Name,
	})
	writeJSON(w, http.StatusCreated, edited)
}

func (b *Backend) sharedRemoveField(w http.ResponseWriter, r *http.Request) {
	link, project := b.resolveShare(w, r, core.OperationModifySchema)
	if link == nil {
		return
	}
	name := mux.Vars(r)["name"]

	edit := schema.RemoveField{Name: name}
	edited, err := b.applySchemaEdit(r, link, project, edit)
	if err != nil {
		b.schemaEditError(w, r, err)
		return
	}

	b.notify("schema/field", core.OperationDelete, map[string]interface{}{
		"project_id": project.ProjectID,
		"link_id":    link.LinkID,
		"name":       name,
	})
	writeJSON(w, http.StatusOK, edited)
}

// applySchemaEdit applies the edit to the link's effective schema and
// persists it where it came from: the link's custom schema when the link
// carries one, else the project schema. Concurrent writers are handled
// with a bounded compare-and-swap retry loop.
func (b *Backend) applySchemaEdit(r *http.Request, link *SharedLink, project *Project, edit schema.Edit) (schema.Schema, error) {
	for attempt := 0; ; attempt++ {
		edited, err := schema.Apply(link.EffectiveSchema(project), edit, b.Now())
		if err != nil {
			return nil, err
		}

		if link.CustomSchema != nil {
			err = b.store.updateLinkCustomSchema(link.LinkID, edited, link.SchemaRevision)
		} else {
			err = b.store.updateProjectSchema(project.ProjectID, edited, project.SchemaRevision)
		}
		if err == nil {
			return edited, nil
		}
		if !errors.Is(err, ErrConflict) || attempt+1 >= schemaWriteAttempts {
			return nil, err
		}

		// lost the race, re-read and retry on the fresh revision
		if link.CustomSchema != nil {
			link, err = b.store.sharedLinkByID(link.LinkID)
		} else {
			project, err = b.store.projectByID(project.ProjectID)
		}
		if err != nil {
			return nil, err
		}
	}
}

func (b *Backend) schemaEditError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, schema.ErrDuplicateField):
		http.Error(w, "a field with this name already exists", http.StatusConflict)
	case errors.Is(err, schema.ErrFieldNotFound):
		http.Error(w, "no such field", http.StatusNotFound)
	case errors.Is(err, schema.ErrProtectedField):
		http.Error(w, "this field cannot be removed", http.StatusForbidden)
	case errors.Is(err, ErrConflict):
		http.Error(w, "schema write conflict", http.StatusConflict)
	default:
		logger.FromContext(r.Context()).Errorln("schema edit failed:", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

package panel

import (
	"context"
	"encoding/base64"
	"net/http"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/joeshaw/envdecode"
	_ "github.com/lib/pq"

	"github.com/unipanel/backend/core/access"
	"github.com/unipanel/backend/core/client"
	"github.com/unipanel/backend/core/csql"
	"github.com/unipanel/backend/core/docstore"
	"github.com/unipanel/backend/core/sampler"
	"github.com/unipanel/backend/core/schema"
	"github.com/unipanel/backend/core/share"
)

// fakeSampler returns canned analysis results instead of talking to a
// real store
type fakeSampler struct {
	mu  sync.Mutex
	raw map[string]schema.RawField
	err error
}

func (f *fakeSampler) set(raw map[string]schema.RawField, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.raw, f.err = raw, err
}

func (f *fakeSampler) Sample(ctx context.Context, target sampler.Target) (map[string]schema.RawField, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	// callers may mutate the result, hand out a copy
	raw := make(map[string]schema.RawField, len(f.raw))
	for name, field := range f.raw {
		raw[name] = field
	}
	return raw, nil
}

// fakeDocstore keeps documents in memory
type fakeDocstore struct {
	mu   sync.Mutex
	docs map[string]map[string]interface{}
}

func newFakeDocstore() *fakeDocstore {
	return &fakeDocstore{docs: make(map[string]map[string]interface{})}
}

func (f *fakeDocstore) Insert(ctx context.Context, target sampler.Target, doc map[string]interface{}) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.New().String()
	stored := make(map[string]interface{}, len(doc)+1)
	for k, v := range doc {
		stored[k] = v
	}
	stored[schema.IdentityField] = id
	f.docs[id] = stored
	return id, nil
}

func (f *fakeDocstore) List(ctx context.Context, target sampler.Target, limit, skip int64) (docstore.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	page := docstore.Page{Total: int64(len(f.docs)), Limit: limit, Skip: skip}
	for _, doc := range f.docs {
		page.Documents = append(page.Documents, doc)
	}
	return page, nil
}

func (f *fakeDocstore) Update(ctx context.Context, target sampler.Target, id string, doc map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.docs[id]
	if !ok {
		return docstore.ErrDocumentNotFound
	}
	for k, v := range doc {
		if k == schema.IdentityField {
			continue
		}
		stored[k] = v
	}
	return nil
}

func (f *fakeDocstore) Delete(ctx context.Context, target sampler.Target, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.docs[id]; !ok {
		return docstore.ErrDocumentNotFound
	}
	delete(f.docs, id)
	return nil
}

// TestService holds the configuration for the test backend
//
// use POSTGRES="host=localhost port=5432 user=postgres password=docker dbname=postgres sslmode=disable"
type TestService struct {
	Postgres string `env:"POSTGRES,optional" description:"the connection string for the Postgres DB"`
	backend  *Backend
	sampler  *fakeSampler
	docs     *fakeDocstore
	client   client.Client
}

var testService TestService

func TestMain(m *testing.M) {
	if err := envdecode.Decode(&testService); err != nil &&
		err != envdecode.ErrNoTargetFieldsAreSet {
		panic(err)
	}
	if testService.Postgres == "" {
		// individual tests skip via requireBackend
		os.Exit(m.Run())
	}

	db := csql.MustOpenWithSchema(testService.Postgres, "_panel_unit_test_")
	defer db.Close()
	db.ClearSchema()

	testService.sampler = &fakeSampler{}
	testService.docs = newFakeDocstore()

	router := mux.NewRouter()
	testService.backend = MustNew(&Builder{
		DB:      db,
		Router:  router,
		Sampler: testService.sampler,
		Docs:    testService.docs,
	})
	testService.client = client.NewWithRouter(router)

	os.Exit(m.Run())
}

func requireBackend(t *testing.T) {
	if testService.backend == nil {
		t.Skip("POSTGRES not set")
	}
}

func developerClient() client.Client {
	return testService.client.WithAuthorization(&access.Authorization{
		DeveloperID: uuid.New(),
		Email:       "dev@example.com",
	})
}

func asJSON(object interface{}) string {
	j, _ := json.Marshal(object)
	return string(j)
}

// contactsRaw is a canned analysis of a small contact collection: name
// in every document, email in 9 of 10.
func contactsRaw() map[string]schema.RawField {
	return map[string]schema.RawField{
		"name": {
			Types:       map[schema.FieldType]int{schema.TypeString: 10},
			Occurrences: 10,
			TotalDocs:   10,
		},
		"email": {
			Types:       map[schema.FieldType]int{schema.TypeString: 9},
			Occurrences: 9,
			TotalDocs:   10,
			Stats:       &schema.FieldStats{Examples: []string{"ada@example.com"}},
		},
	}
}

func createTestProject(t *testing.T, c client.Client) *Project {
	t.Helper()
	testService.sampler.set(contactsRaw(), nil)
	project := &Project{}
	status, err := c.Post("/projects", map[string]string{
		"name":            "contacts",
		"store_uri":       "mongodb://store.example.com",
		"database_name":   "crm",
		"collection_name": "contacts",
	}, project)
	if err != nil {
		t.Fatal(err)
	}
	if status != http.StatusCreated {
		t.Fatal("unexpected status:", status)
	}
	return project
}

func TestProjectLifecycle(t *testing.T) {
	requireBackend(t)
	c := developerClient()

	project := createTestProject(t, c)
	if project.ProjectID == (uuid.UUID{}) {
		t.Fatal("no project id")
	}
	name, ok := project.Schema["name"]
	if !ok || !name.Required || name.Type != schema.TypeString {
		t.Fatal("unexpected inferred schema:", asJSON(project.Schema))
	}
	if email := project.Schema["email"]; email.Required {
		t.Fatal("email occurs in 9 of 10 documents, must not be required")
	}

	projects := []Project{}
	if _, err := c.Get("/projects", &projects); err != nil {
		t.Fatal(err)
	}
	if len(projects) != 1 {
		t.Fatal("expected one project, got", len(projects))
	}

	single := &Project{}
	if _, err := c.Get("/projects/"+project.ProjectID.String(), single); err != nil {
		t.Fatal(err)
	}
	if single.Name != "contacts" {
		t.Fatal("unexpected project:", asJSON(single))
	}

	if _, err := c.Delete("/projects/" + project.ProjectID.String()); err != nil {
		t.Fatal(err)
	}
	status, _ := c.Get("/projects/"+project.ProjectID.String(), nil)
	if status != http.StatusNotFound {
		t.Fatal("deleted project still readable, status", status)
	}
}

func TestProjectOwnership(t *testing.T) {
	requireBackend(t)
	owner := developerClient()
	stranger := developerClient()

	project := createTestProject(t, owner)
	status, _ := stranger.Get("/projects/"+project.ProjectID.String(), nil)
	if status != http.StatusForbidden {
		t.Fatal("foreign project readable, status", status)
	}
}

func TestProjectCreationSurvivesStoreOutage(t *testing.T) {
	requireBackend(t)
	c := developerClient()

	testService.sampler.set(nil, sampler.ErrSamplingFailed)
	project := &Project{}
	status, err := c.Post("/projects", map[string]string{
		"name":            "flaky",
		"store_uri":       "mongodb://down.example.com",
		"database_name":   "crm",
		"collection_name": "contacts",
	}, project)
	if err != nil {
		t.Fatal(err)
	}
	if status != http.StatusCreated {
		t.Fatal("unexpected status:", status)
	}
	if len(project.Schema) != 0 {
		t.Fatal("expected empty schema, got", asJSON(project.Schema))
	}
}

func createTestLink(t *testing.T, c client.Client, project *Project, body map[string]interface{}) *SharedLink {
	t.Helper()
	link := &SharedLink{}
	status, err := c.Post("/projects/"+project.ProjectID.String()+"/links", body, link)
	if err != nil {
		t.Fatal(err)
	}
	if status != http.StatusCreated {
		t.Fatal("unexpected status:", status)
	}
	if link.Token == "" {
		t.Fatal("creation response must carry the token")
	}
	return link
}

func TestSharedLinkFlow(t *testing.T) {
	requireBackend(t)
	c := developerClient()
	project := createTestProject(t, c)
	link := createTestLink(t, c, project, map[string]interface{}{
		"permissions": share.Permissions{CanView: true, CanInsert: true, CanUpdate: true, CanDelete: true},
	})

	// the client arrives with nothing but the token
	public := testService.client

	info := struct {
		ProjectName string            `json:"project_name"`
		Schema      schema.Schema     `json:"schema"`
		Permissions share.Permissions `json:"permissions"`
		FormFields  []share.FormField `json:"form_fields"`
	}{}
	if _, err := public.Get("/shared/"+link.Token, &info); err != nil {
		t.Fatal(err)
	}
	if info.ProjectName != "contacts" {
		t.Fatal("unexpected info:", asJSON(info))
	}
	if len(info.FormFields) != 2 {
		t.Fatal("expected two form fields, got", asJSON(info.FormFields))
	}
	if info.FormFields[0].Name != "email" || info.FormFields[0].FormType != schema.FormEmail {
		t.Fatal("unexpected form fields:", asJSON(info.FormFields))
	}

	// a valid document is accepted and audited
	inserted := map[string]string{}
	status, err := public.Post("/shared/"+link.Token+"/data",
		map[string]interface{}{"name": "Ada", "email": "ada@example.com"}, &inserted)
	if err != nil {
		t.Fatal(err)
	}
	if status != http.StatusCreated || inserted["document_id"] == "" {
		t.Fatal("unexpected insert response:", status, asJSON(inserted))
	}

	entries := []ClientEntry{}
	if _, err := c.Get("/projects/"+project.ProjectID.String()+"/entries", &entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].DocumentID != inserted["document_id"] {
		t.Fatal("unexpected audit entries:", asJSON(entries))
	}

	// name is required, a document without it is rejected
	status, _ = public.Post("/shared/"+link.Token+"/data",
		map[string]interface{}{"email": "no-name@example.com"}, nil)
	if status != http.StatusUnprocessableEntity {
		t.Fatal("invalid document accepted, status", status)
	}

	// a field the schema does not know is rejected
	status, _ = public.Post("/shared/"+link.Token+"/data",
		map[string]interface{}{"name": "Eve", "note": "unknown"}, nil)
	if status != http.StatusUnprocessableEntity {
		t.Fatal("unknown field accepted, status", status)
	}

	page := docstore.Page{}
	if _, err := public.Get("/shared/"+link.Token+"/data", &page); err != nil {
		t.Fatal(err)
	}
	if page.Total != 1 {
		t.Fatal("expected one document, got", asJSON(page))
	}

	documentID := inserted["document_id"]
	if _, err := public.Put("/shared/"+link.Token+"/data/"+documentID,
		map[string]interface{}{"name": "Ada Lovelace", "email": "ada@example.com"}, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := public.Delete("/shared/" + link.Token + "/data/" + documentID); err != nil {
		t.Fatal(err)
	}
	status, _ = public.Delete("/shared/" + link.Token + "/data/" + documentID)
	if status != http.StatusNotFound {
		t.Fatal("double delete must report a missing document, status", status)
	}
}

func TestInsertOnlyLinkFetchesForm(t *testing.T) {
	requireBackend(t)
	c := developerClient()
	project := createTestProject(t, c)
	link := createTestLink(t, c, project, map[string]interface{}{
		"permissions": share.Permissions{CanInsert: true},
	})

	// a feedback link grants insert only, the client must still be able
	// to read the schema and the form it is allowed to submit
	public := testService.client
	info := struct {
		Schema      schema.Schema     `json:"schema"`
		Permissions share.Permissions `json:"permissions"`
		FormFields  []share.FormField `json:"form_fields"`
	}{}
	status, err := public.Get("/shared/"+link.Token, &info)
	if err != nil {
		t.Fatal(err)
	}
	if status != http.StatusOK {
		t.Fatal("insert-only link cannot read its form, status", status)
	}
	if len(info.FormFields) != 2 {
		t.Fatal("expected two form fields, got", asJSON(info.FormFields))
	}
	if !info.Permissions.CanInsert || info.Permissions.CanView {
		t.Fatal("unexpected permissions:", asJSON(info.Permissions))
	}

	// data listing stays gated on view
	status, _ = public.Get("/shared/"+link.Token+"/data", nil)
	if status != http.StatusForbidden {
		t.Fatal("insert-only link may not list data, status", status)
	}
}

func TestNewShareToken(t *testing.T) {
	first, err := newShareToken()
	if err != nil {
		t.Fatal(err)
	}
	second, err := newShareToken()
	if err != nil {
		t.Fatal(err)
	}
	if first == second {
		t.Fatal("tokens must be unique")
	}
	raw, err := base64.RawURLEncoding.DecodeString(first)
	if err != nil {
		t.Fatal("token is not URL-safe base64:", err)
	}
	if len(raw) != 32 {
		t.Fatal("expected 32 bytes of entropy, got", len(raw))
	}
}

func TestSharedLinkPermissions(t *testing.T) {
	requireBackend(t)
	c := developerClient()
	project := createTestProject(t, c)
	link := createTestLink(t, c, project, map[string]interface{}{
		"permissions": share.Permissions{CanView: true},
	})

	public := testService.client
	status, _ := public.Post("/shared/"+link.Token+"/data",
		map[string]interface{}{"name": "Ada"}, nil)
	if status != http.StatusForbidden {
		t.Fatal("insert without permission, status", status)
	}
	status, _ = public.Delete("/shared/" + link.Token + "/data/some-id")
	if status != http.StatusForbidden {
		t.Fatal("delete without permission, status", status)
	}
	if status, _ := public.Get("/shared/"+link.Token, nil); status != http.StatusOK {
		t.Fatal("view permission must allow the info endpoint, status", status)
	}
}

func TestExpiredRevokedAndUnknownLookIdentical(t *testing.T) {
	requireBackend(t)
	c := developerClient()
	project := createTestProject(t, c)
	expiring := createTestLink(t, c, project, map[string]interface{}{
		"permissions": share.Permissions{CanView: true},
		"expires_in":  60,
	})
	revoked := createTestLink(t, c, project, map[string]interface{}{
		"permissions": share.Permissions{CanView: true},
	})

	public := testService.client
	if status, _ := public.Get("/shared/"+expiring.Token, nil); status != http.StatusOK {
		t.Fatal("link must be usable before expiry, status", status)
	}

	// move the clock past the expiry
	testService.backend.Now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	defer func() { testService.backend.Now = time.Now }()

	if _, err := c.Put("/links/"+revoked.LinkID.String(),
		map[string]interface{}{"is_active": false}, nil); err != nil {
		t.Fatal(err)
	}

	for _, token := range []string{expiring.Token, revoked.Token, "no-such-token"} {
		status, err := public.Get("/shared/"+token, nil)
		if status != http.StatusForbidden {
			t.Fatal("expected access denied, got status", status)
		}
		if err == nil || err.Error() == "" {
			t.Fatal("expected an error body")
		}
	}
}

func TestRefreshPreservesManualFields(t *testing.T) {
	requireBackend(t)
	c := developerClient()
	project := createTestProject(t, c)
	link := createTestLink(t, c, project, map[string]interface{}{
		"permissions": share.Permissions{CanModifySchema: true},
	})

	// a client adds a manual field through the share link
	public := testService.client
	edited := schema.Schema{}
	status, err := public.Post("/shared/"+link.Token+"/schema/fields",
		map[string]interface{}{"name": "priority", "type": "number", "required": false}, &edited)
	if err != nil {
		t.Fatal(err)
	}
	if status != http.StatusCreated {
		t.Fatal("unexpected status:", status)
	}
	if edited["priority"].Provenance != schema.ProvenanceManual {
		t.Fatal("added field must be manual:", asJSON(edited["priority"]))
	}

	// the store changed meanwhile: email is gone, age appeared
	testService.sampler.set(map[string]schema.RawField{
		"name": {
			Types:       map[schema.FieldType]int{schema.TypeString: 10},
			Occurrences: 10,
			TotalDocs:   10,
		},
		"age": {
			Types:       map[schema.FieldType]int{schema.TypeNumber: 10},
			Occurrences: 10,
			TotalDocs:   10,
		},
	}, nil)

	refreshed := struct {
		Project *Project          `json:"project"`
		Stats   schema.MergeStats `json:"stats"`
	}{}
	if _, err := c.Post("/projects/"+project.ProjectID.String()+"/refresh", nil, &refreshed); err != nil {
		t.Fatal(err)
	}

	s := refreshed.Project.Schema
	if _, ok := s["priority"]; !ok {
		t.Fatal("refresh dropped the manual field:", asJSON(s))
	}
	if _, ok := s["age"]; !ok {
		t.Fatal("refresh missed the new field:", asJSON(s))
	}
	// email vanished from the store but stays, absent fields are never
	// silently dropped
	if _, ok := s["email"]; !ok {
		t.Fatal("refresh dropped a field that is merely absent from the sample:", asJSON(s))
	}
	if refreshed.Stats.PreservedManual != 2 {
		t.Fatal("unexpected merge stats:", asJSON(refreshed.Stats))
	}
}

func TestRefreshFailsClosedOnStoreOutage(t *testing.T) {
	requireBackend(t)
	c := developerClient()
	project := createTestProject(t, c)

	testService.sampler.set(nil, sampler.ErrSamplingFailed)
	status, _ := c.Post("/projects/"+project.ProjectID.String()+"/refresh", nil, nil)
	if status != http.StatusBadGateway {
		t.Fatal("expected bad gateway, got", status)
	}

	// the stored schema is untouched
	reread := &Project{}
	if _, err := c.Get("/projects/"+project.ProjectID.String(), reread); err != nil {
		t.Fatal(err)
	}
	if len(reread.Schema) != len(project.Schema) {
		t.Fatal("failed refresh modified the schema:", asJSON(reread.Schema))
	}
}

func TestCustomSchemaScopesFieldEdits(t *testing.T) {
	requireBackend(t)
	c := developerClient()
	project := createTestProject(t, c)

	custom := schema.Schema{
		"name": {Type: schema.TypeString, Required: true, Provenance: schema.ProvenanceManual,
			FormType: schema.FormText},
	}
	link := createTestLink(t, c, project, map[string]interface{}{
		"permissions":   share.Permissions{CanView: true, CanModifySchema: true},
		"custom_schema": custom,
	})

	public := testService.client
	if _, err := public.Post("/shared/"+link.Token+"/schema/fields",
		map[string]interface{}{"name": "rating", "type": "number"}, nil); err != nil {
		t.Fatal(err)
	}

	// the edit landed on the link, not on the project
	reread := &Project{}
	if _, err := c.Get("/projects/"+project.ProjectID.String(), reread); err != nil {
		t.Fatal(err)
	}
	if _, ok := reread.Schema["rating"]; ok {
		t.Fatal("custom schema edit leaked into the project schema")
	}

	info := struct {
		Schema schema.Schema `json:"schema"`
	}{}
	if _, err := public.Get("/shared/"+link.Token, &info); err != nil {
		t.Fatal(err)
	}
	if _, ok := info.Schema["rating"]; !ok {
		t.Fatal("custom schema edit not visible on the link:", asJSON(info.Schema))
	}
}

func TestFieldEditErrors(t *testing.T) {
	requireBackend(t)
	c := developerClient()
	project := createTestProject(t, c)
	link := createTestLink(t, c, project, map[string]interface{}{
		"permissions": share.Permissions{CanModifySchema: true},
	})

	public := testService.client
	status, _ := public.Post("/shared/"+link.Token+"/schema/fields",
		map[string]interface{}{"name": "name", "type": "string"}, nil)
	if status != http.StatusConflict {
		t.Fatal("duplicate field accepted, status", status)
	}
	status, _ = public.Delete("/shared/" + link.Token + "/schema/fields/" + schema.IdentityField)
	if status != http.StatusForbidden {
		t.Fatal("identity removal accepted, status", status)
	}
	status, _ = public.Delete("/shared/" + link.Token + "/schema/fields/never_existed")
	if status != http.StatusNotFound {
		t.Fatal("removal of unknown field, status", status)
	}
}

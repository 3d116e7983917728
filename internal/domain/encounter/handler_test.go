package encounter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/emr/emr/internal/platform/auth"
)

func newHandlerTest(t *testing.T) (*testEnv, *echo.Echo) {
	t.Helper()
	env := newTestEnv(t)
	e := echo.New()
	NewHandler(env.svc).RegisterRoutes(e.Group("/api/v1"))
	return env, e
}

// request performs an authenticated request with the identity already
// resolved, the way the JWT middleware leaves it.
func request(e *echo.Echo, method, path, body, role string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}

	ctx := req.Context()
	ctx = context.WithValue(ctx, auth.UserIDKey, uuid.NewString())
	ctx = context.WithValue(ctx, auth.UserNameKey, "Dr. Grey")
	ctx = context.WithValue(ctx, auth.UserRoleKey, role)
	req = req.WithContext(ctx)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHandlerCreateEncounter(t *testing.T) {
	env, e := newHandlerTest(t)

	body := fmt.Sprintf(`{"patient_id":%q}`, uuid.New())
	rec := request(e, http.MethodPost, "/api/v1/encounters", body, "physician")
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusCreated, rec.Body)
	}

	var enc Encounter
	if err := json.Unmarshal(rec.Body.Bytes(), &enc); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if env.repo.get(enc.ID) == nil {
		t.Error("encounter not persisted")
	}
}

func TestHandlerCloseEncounter(t *testing.T) {
	env, e := newHandlerTest(t)
	enc := env.activeEncounter()

	rec := request(e, http.MethodPost, "/api/v1/encounters/"+enc.ID.String()+"/close",
		`{"outcome":"consultation_end"}`, "physician")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body)
	}
	if env.repo.get(enc.ID).IsActive() {
		t.Error("encounter still active")
	}
}

func TestHandlerCloseGuardFailure(t *testing.T) {
	env, e := newHandlerTest(t)
	enc := env.activeEncounter()
	env.docs.has[enc.ID] = false

	rec := request(e, http.MethodPost, "/api/v1/encounters/"+enc.ID.String()+"/close",
		`{"outcome":"consultation_end"}`, "physician")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnprocessableEntity)
	}
}

func TestHandlerCloseMissingEncounter(t *testing.T) {
	_, e := newHandlerTest(t)

	rec := request(e, http.MethodPost, "/api/v1/encounters/"+uuid.NewString()+"/close",
		`{"outcome":"consultation_end"}`, "physician")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestHandlerCloseInvalidID(t *testing.T) {
	_, e := newHandlerTest(t)

	rec := request(e, http.MethodPost, "/api/v1/encounters/not-a-uuid/close",
		`{"outcome":"consultation_end"}`, "physician")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestHandlerWriteRequiresClinicalRole(t *testing.T) {
	env, e := newHandlerTest(t)
	enc := env.activeEncounter()

	rec := request(e, http.MethodPost, "/api/v1/encounters/"+enc.ID.String()+"/close",
		`{"outcome":"consultation_end"}`, "registrar")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
	if !env.repo.get(enc.ID).IsActive() {
		t.Error("forbidden request closed the encounter")
	}
}

func TestHandlerReopenEncounter(t *testing.T) {
	env, e := newHandlerTest(t)
	enc := env.activeEncounter()

	rec := request(e, http.MethodPost, "/api/v1/encounters/"+enc.ID.String()+"/close",
		`{"outcome":"consultation_end"}`, "physician")
	if rec.Code != http.StatusOK {
		t.Fatalf("close status = %d: %s", rec.Code, rec.Body)
	}
	rec = request(e, http.MethodPost, "/api/v1/encounters/"+enc.ID.String()+"/reopen", "", "physician")
	if rec.Code != http.StatusOK {
		t.Fatalf("reopen status = %d: %s", rec.Code, rec.Body)
	}
	if !env.repo.get(enc.ID).IsActive() {
		t.Error("encounter not reopened")
	}
}

func TestHandlerArchiveAndUnarchive(t *testing.T) {
	env, e := newHandlerTest(t)
	enc := env.activeEncounter()

	rec := request(e, http.MethodPost, "/api/v1/encounters/"+enc.ID.String()+"/archive", "", "admin")
	if rec.Code != http.StatusOK {
		t.Fatalf("archive status = %d: %s", rec.Code, rec.Body)
	}
	if !env.repo.get(enc.ID).IsArchived {
		t.Fatal("encounter not archived")
	}

	rec = request(e, http.MethodPost, "/api/v1/encounters/"+enc.ID.String()+"/unarchive", "", "admin")
	if rec.Code != http.StatusOK {
		t.Fatalf("unarchive status = %d: %s", rec.Code, rec.Body)
	}
	if env.repo.get(enc.ID).IsArchived {
		t.Error("encounter still archived")
	}
}

func TestHandlerGetEncounterDetails(t *testing.T) {
	env, e := newHandlerTest(t)
	enc := env.activeEncounter()

	rec := request(e, http.MethodGet, "/api/v1/encounters/"+enc.ID.String()+"/details", "", "nurse")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}

	var details Details
	if err := json.Unmarshal(rec.Body.Bytes(), &details); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if details.EncounterNumber != 1 || !details.IsActive || !details.HasDocuments {
		t.Errorf("details = %+v", details)
	}
}

func TestHandlerValidateForClosing(t *testing.T) {
	env, e := newHandlerTest(t)
	enc := env.activeEncounter()

	rec := request(e, http.MethodGet, "/api/v1/encounters/"+enc.ID.String()+"/can-close", "", "nurse")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var res map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if res["can_close"] != true {
		t.Errorf("can_close = %v, want true", res["can_close"])
	}

	env.docs.has[enc.ID] = false
	rec = request(e, http.MethodGet, "/api/v1/encounters/"+enc.ID.String()+"/can-close", "", "nurse")
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if res["can_close"] != false || res["reason"] == nil {
		t.Errorf("response = %v, want can_close false with reason", res)
	}
}

func TestHandlerListOutcomes(t *testing.T) {
	_, e := newHandlerTest(t)

	rec := request(e, http.MethodGet, "/api/v1/encounters/outcomes", "", "registrar")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}

	var outcomes map[Outcome]string
	if err := json.Unmarshal(rec.Body.Bytes(), &outcomes); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(outcomes) != 2 {
		t.Errorf("outcomes = %v, want 2 entries", outcomes)
	}
}

func TestHandlerOutcomeRequirements(t *testing.T) {
	_, e := newHandlerTest(t)

	rec := request(e, http.MethodGet, "/api/v1/encounters/outcomes/transferred", "", "nurse")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}

	rec = request(e, http.MethodGet, "/api/v1/encounters/outcomes/deceased", "", "nurse")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("unknown outcome status = %d, want %d", rec.Code, http.StatusUnprocessableEntity)
	}
}

func TestHandlerUndo(t *testing.T) {
	env, e := newHandlerTest(t)
	enc := env.activeEncounter()

	rec := request(e, http.MethodPost, "/api/v1/encounters/commands/undo", "", "physician")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var res map[string]bool
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if res["undone"] {
		t.Error("undone = true with empty history")
	}

	request(e, http.MethodPost, "/api/v1/encounters/"+enc.ID.String()+"/close",
		`{"outcome":"consultation_end"}`, "physician")
	rec = request(e, http.MethodPost, "/api/v1/encounters/commands/undo", "", "physician")
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !res["undone"] {
		t.Error("undone = false after a close")
	}
	if !env.repo.get(enc.ID).IsActive() {
		t.Error("close not undone")
	}
}

func TestHandlerCommandHistory(t *testing.T) {
	env, e := newHandlerTest(t)
	enc := env.activeEncounter()

	request(e, http.MethodPost, "/api/v1/encounters/"+enc.ID.String()+"/close",
		`{"outcome":"consultation_end"}`, "physician")

	rec := request(e, http.MethodGet, "/api/v1/encounters/commands/history", "", "admin")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}

	var res struct {
		History []CommandRecord `json:"history"`
		Last    *CommandRecord  `json:"last"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(res.History) != 1 || res.Last == nil {
		t.Errorf("history = %+v, last = %+v", res.History, res.Last)
	}
}

package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elasticmodels/elastic/internal/events"
	"github.com/elasticmodels/elastic/internal/projection"
	"github.com/elasticmodels/elastic/internal/registry"
	"github.com/elasticmodels/elastic/internal/schema"
	"github.com/elasticmodels/elastic/internal/storage/sqlite"
	"github.com/elasticmodels/elastic/internal/store"
)

type testEnv struct {
	server   *Server
	registry *registry.Registry
	aquarium *schema.Schema
	car      *schema.Schema
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "test.db"), sqlite.DefaultOptions())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := log.New(io.Discard, "[test] ", log.LstdFlags)
	feed := NewFeed(logger)
	reg := registry.New(db, registry.Options{Notifier: feed, Logger: logger})
	st := store.New(db, store.Options{Notifier: feed})
	srv := NewServer(reg, st, feed, &Config{Addr: "127.0.0.1:0", Logger: logger})

	env := &testEnv{server: srv, registry: reg}
	ctx := context.Background()

	env.aquarium, err = reg.CreateSchema(ctx, "aquarium", "")
	require.NoError(t, err)
	for _, f := range []*schema.FieldSpec{
		{Name: "volume", Type: schema.TypeNumber},
		{Name: "temperature", Type: schema.TypeNumber, Blank: true},
		{Name: "water", Type: schema.TypeEnum, Choices: []string{"saltwater", "freshwater"}},
		{Name: "origin", Type: schema.TypeText},
		{Name: "next_water_change", Label: "Next water change", Type: schema.TypeDate},
	} {
		_, err := reg.AddFieldSpec(ctx, env.aquarium.ID, f)
		require.NoError(t, err)
	}

	env.car, err = reg.CreateSchema(ctx, "car", "")
	require.NoError(t, err)
	for _, f := range []*schema.FieldSpec{
		{Name: "make", Type: schema.TypeEnum, Choices: []string{"BMW", "Fiat", "Volkswagen"}},
		{Name: "mileage", Type: schema.TypeNumber},
		{Name: "features", Type: schema.TypeText, Blank: true},
		{Name: "first_registration_date", Label: "First registration date", Type: schema.TypeDate},
	} {
		_, err := reg.AddFieldSpec(ctx, env.car.ID, f)
		require.NoError(t, err)
	}
	return env
}

func doRequest(t *testing.T, h http.Handler, method, path, body string) (int, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w.Code, w.Body.Bytes()
}

const aquariumBody = `{"volume": 200, "temperature": 24, "water": "saltwater", "origin": "Lake Malawi", "next_water_change": "2018-05-01"}`

func TestListSchemas(t *testing.T) {
	env := newTestEnv(t)
	code, body := doRequest(t, env.server.Handler(), "GET", "/schemas/", "")

	assert.Equal(t, http.StatusOK, code)
	want := fmt.Sprintf(`[{"id":%d,"name":"aquarium"},{"id":%d,"name":"car"}]`, env.aquarium.ID, env.car.ID)
	assert.JSONEq(t, want, string(body))
}

func TestSchemaDetail(t *testing.T) {
	env := newTestEnv(t)
	code, body := doRequest(t, env.server.Handler(), "GET", fmt.Sprintf("/schemas/%d/", env.car.ID), "")
	require.Equal(t, http.StatusOK, code)

	want := fmt.Sprintf(`{"id":%d,"name":"car","name_plural":"cars","field_definitions":[
		{"name":"make","label":"Make","type":"enum","blank":false,"choices":["BMW","Fiat","Volkswagen"]},
		{"name":"mileage","label":"Mileage","type":"number","blank":false,"choices":[]},
		{"name":"features","label":"Features","type":"text","blank":true,"choices":[]},
		{"name":"first_registration_date","label":"First registration date","type":"date","blank":false,"choices":[]}
	]}`, env.car.ID)
	assert.JSONEq(t, want, string(body))
}

func TestNotFound(t *testing.T) {
	env := newTestEnv(t)
	h := env.server.Handler()

	for _, path := range []string{
		"/schemas/9999/",
		"/schemas/abc/",
		"/instances/boats/",
		"/instances/aquariums/9999/",
		"/instances/aquariums/abc/",
		"/nowhere",
	} {
		code, body := doRequest(t, h, "GET", path, "")
		assert.Equal(t, http.StatusNotFound, code, path)
		assert.JSONEq(t, `{"detail":"Not found."}`, string(body), path)
	}

	code, _ := doRequest(t, h, "POST", "/instances/boats/", `{}`)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestCreateListRetrieve(t *testing.T) {
	env := newTestEnv(t)
	h := env.server.Handler()

	code, body := doRequest(t, h, "POST", "/instances/aquariums/", aquariumBody)
	require.Equal(t, http.StatusCreated, code, string(body))

	var created map[string]any
	require.NoError(t, json.Unmarshal(body, &created))
	assert.Equal(t, float64(200), created["volume"])
	assert.Equal(t, "2018-05-01", created["next_water_change"])
	assert.Equal(t, "Lake Malawi", created["origin"])
	assert.Contains(t, created, "created_at")
	id := int64(created["id"].(float64))

	code, body = doRequest(t, h, "GET", fmt.Sprintf("/instances/aquariums/%d/", id), "")
	require.Equal(t, http.StatusOK, code)
	var got map[string]any
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, created, got)

	code, body = doRequest(t, h, "GET", "/instances/aquariums/", "")
	require.Equal(t, http.StatusOK, code)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list, 1)
	assert.Equal(t, created, list[0])

	// an aquarium id is not a car
	code, _ = doRequest(t, h, "GET", fmt.Sprintf("/instances/cars/%d/", id), "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestCreate_FieldOrder(t *testing.T) {
	env := newTestEnv(t)
	code, body := doRequest(t, env.server.Handler(), "POST", "/instances/cars/",
		`{"first_registration_date": "2015-6-1", "mileage": "70000", "make": "Fiat", "features": ""}`)
	require.Equal(t, http.StatusCreated, code, string(body))

	keys := []string{`"id"`, `"created_at"`, `"updated_at"`, `"make"`, `"mileage"`, `"features"`, `"first_registration_date"`}
	last := -1
	for _, k := range keys {
		i := bytes.Index(body, []byte(k))
		require.Greater(t, i, last, "key %s out of order in %s", k, body)
		last = i
	}
	assert.Contains(t, string(body), `"mileage":70000`)
	assert.Contains(t, string(body), `"first_registration_date":"2015-06-01"`)
}

func TestCreate_ValidationErrors(t *testing.T) {
	env := newTestEnv(t)
	h := env.server.Handler()

	tests := []struct {
		name string
		body string
		want string
	}{
		{
			"integer",
			`{"volume": "lots", "water": "saltwater", "origin": "x", "next_water_change": "2018-05-01"}`,
			`{"volume":["A valid integer is required."]}`,
		},
		{
			"choice",
			`{"volume": 1, "water": "tap", "origin": "x", "next_water_change": "2018-05-01"}`,
			`{"water":["\"tap\" is not a valid choice."]}`,
		},
		{
			"required",
			`{"water": "saltwater", "origin": "x", "next_water_change": "2018-05-01"}`,
			`{"volume":["This field is required."]}`,
		},
		{
			"date",
			`{"volume": 1, "water": "saltwater", "origin": "x", "next_water_change": "01/05/2018"}`,
			`{"next_water_change":["Date has wrong format. Use YYYY-MM-DD."]}`,
		},
		{
			"unknown field",
			`{"volume": 1, "water": "saltwater", "origin": "x", "next_water_change": "2018-05-01", "fins": 4}`,
			`{"fins":["Unknown field."]}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := doRequest(t, h, "POST", "/instances/aquariums/", tt.body)
			assert.Equal(t, http.StatusBadRequest, code)
			assert.JSONEq(t, tt.want, string(body))
		})
	}

	code, body := doRequest(t, h, "GET", "/instances/aquariums/", "")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `[]`, string(body))
}

func TestCreate_MalformedBody(t *testing.T) {
	env := newTestEnv(t)
	h := env.server.Handler()

	for _, body := range []string{`{"volume": `, `[1, 2]`, `"text"`, `null`, `{} {}`, aquariumBody + ` x`} {
		code, resp := doRequest(t, h, "POST", "/instances/aquariums/", body)
		assert.Equal(t, http.StatusBadRequest, code, body)

		var d map[string]string
		require.NoError(t, json.Unmarshal(resp, &d))
		assert.NotEmpty(t, d["detail"], body)
	}
}

func TestCreate_TrailingWhitespaceAccepted(t *testing.T) {
	env := newTestEnv(t)
	code, body := doRequest(t, env.server.Handler(), "POST", "/instances/aquariums/", aquariumBody+"\n\t ")
	assert.Equal(t, http.StatusCreated, code, string(body))
}

func TestUpdatePatchDelete(t *testing.T) {
	env := newTestEnv(t)
	h := env.server.Handler()

	code, body := doRequest(t, h, "POST", "/instances/aquariums/", aquariumBody)
	require.Equal(t, http.StatusCreated, code)
	var created map[string]any
	require.NoError(t, json.Unmarshal(body, &created))
	path := fmt.Sprintf("/instances/aquariums/%v/", created["id"])

	code, body = doRequest(t, h, "PUT", path,
		`{"volume": 300, "water": "freshwater", "origin": "Lake Tanganyika", "next_water_change": "2018-06-01"}`)
	require.Equal(t, http.StatusOK, code, string(body))
	var updated map[string]any
	require.NoError(t, json.Unmarshal(body, &updated))
	assert.Equal(t, created["id"], updated["id"])
	assert.Equal(t, created["created_at"], updated["created_at"])
	assert.EqualValues(t, 300, updated["volume"])
	assert.Nil(t, updated["temperature"])
	assert.Equal(t, "freshwater", updated["water"])

	code, body = doRequest(t, h, "PUT", path, `{"volume": 300}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, string(body), `"origin"`)

	code, body = doRequest(t, h, "PATCH", path, `{"temperature": 26}`)
	require.Equal(t, http.StatusOK, code, string(body))
	require.NoError(t, json.Unmarshal(body, &updated))
	assert.EqualValues(t, 300, updated["volume"])
	assert.EqualValues(t, 26, updated["temperature"])
	assert.Equal(t, "Lake Tanganyika", updated["origin"])

	code, _ = doRequest(t, h, "PATCH", path, `{"water": "tap"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = doRequest(t, h, "PATCH", "/instances/aquariums/9999/", `{}`)
	assert.Equal(t, http.StatusNotFound, code)

	code, body = doRequest(t, h, "DELETE", path, "")
	assert.Equal(t, http.StatusNoContent, code)
	assert.Empty(t, body)

	code, _ = doRequest(t, h, "GET", path, "")
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = doRequest(t, h, "DELETE", path, "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)
	h := env.server.Handler()

	for _, tc := range []struct {
		method, path, allow string
	}{
		{"PUT", "/instances/aquariums/", "POST"},
		{"DELETE", "/schemas/", "GET"},
		{"POST", "/instances/aquariums/1/", "PATCH"},
	} {
		req := httptest.NewRequest(tc.method, tc.path, nil)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		assert.Equal(t, http.StatusMethodNotAllowed, w.Code, tc.method+" "+tc.path)
		assert.Contains(t, w.Header().Get("Allow"), tc.allow, tc.method+" "+tc.path)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
		assert.JSONEq(t, fmt.Sprintf(`{"detail":"Method \"%s\" not allowed."}`, tc.method), w.Body.String())
	}
}

func TestWriteError_StaleSchemaConflict(t *testing.T) {
	env := newTestEnv(t)
	w := httptest.NewRecorder()
	env.server.writeError(w, fmt.Errorf("%w: aquarium", projection.ErrStaleSchema))

	assert.Equal(t, http.StatusConflict, w.Code)
	var d map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &d))
	assert.NotEmpty(t, d["detail"])
}

func TestFieldSaveEmptiesList(t *testing.T) {
	env := newTestEnv(t)
	h := env.server.Handler()

	code, _ := doRequest(t, h, "POST", "/instances/aquariums/", aquariumBody)
	require.Equal(t, http.StatusCreated, code)

	_, err := env.registry.AddFieldSpec(context.Background(), env.aquarium.ID,
		&schema.FieldSpec{Name: "fish_count", Type: schema.TypeNumber, Blank: true})
	require.NoError(t, err)

	code, body := doRequest(t, h, "GET", "/instances/aquariums/", "")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `[]`, string(body))
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	code, body := doRequest(t, env.server.Handler(), "GET", "/health", "")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"status":"ok","clients":0}`, string(body))
}

func TestFeed_BroadcastsEvents(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.server.Start())
	defer env.server.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	base := "http://" + env.server.GetAddr()
	conn, _, err := websocket.Dial(ctx, "ws://"+env.server.GetAddr()+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	readEvent := func() events.Event {
		_, data, err := conn.Read(ctx)
		require.NoError(t, err)
		var e events.Event
		require.NoError(t, json.Unmarshal(data, &e))
		return e
	}

	// skip to the greeting
	for readEvent().Type != MessageConnected {
	}

	resp, err := http.Post(base+"/instances/aquariums/", "application/json", bytes.NewBufferString(aquariumBody))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	e := readEvent()
	for e.Type == events.SchemaChanged {
		e = readEvent()
	}
	assert.Equal(t, events.InstanceCreated, e.Type)
	assert.Equal(t, "aquariums", e.Schema)
	assert.NotZero(t, e.InstanceID)

	_, err = env.registry.AddFieldSpec(context.Background(), env.aquarium.ID,
		&schema.FieldSpec{Name: "fish_count", Type: schema.TypeNumber, Blank: true})
	require.NoError(t, err)

	e = readEvent()
	assert.Equal(t, events.SchemaChanged, e.Type)
	assert.Equal(t, events.ActionFieldAdded, e.Action)
	assert.Equal(t, "fish_count", e.Field)

	e = readEvent()
	assert.Equal(t, events.InstancesRemoved, e.Type)
	assert.Equal(t, 1, e.Removed)

	assert.Equal(t, 1, env.server.Feed().ClientCount())
}

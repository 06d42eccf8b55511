package controlplane

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	return NewClient(&Config{
		APIKey:         "key",
		ProjectID:      "12",
		APIURL:         srv.URL + "/",
		RequestTimeout: 5 * time.Second,
		UploadTimeout:  5 * time.Second,
	})
}

func TestClient_LoginAndGetProject(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/key", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "key", body["key"])
		w.Write([]byte(`{"token":"tok"}`))
	})
	mux.HandleFunc("GET /projects/12", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Write([]byte(`{"name":"site","production":"https://prod.example.com","urls":["https://prod.example.com/about"],"breakpoints":["640",1200]}`))
	})

	c := newTestClient(t, mux)

	token, err := c.Login(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok", token)

	p, err := c.GetProject(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "site", p.Name)
	require.Len(t, p.Breakpoints, 2)
	assert.EqualValues(t, 640, p.Breakpoints[0])
	assert.EqualValues(t, 1200, p.Breakpoints[1])
}

func TestClient_LoginWithoutToken(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))

	_, err := c.Login(context.Background())
	assert.ErrorIs(t, err, ErrLogin)
}

func TestClient_APIError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"code":403,"message":"Invalid key"}`))
	}))

	_, err := c.Login(context.Background())

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
	assert.Equal(t, "Invalid key", apiErr.Message)
}

func TestClient_GetProjectWithoutName(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"urls":[]}`))
	}))

	_, err := c.GetProject(context.Background())
	assert.ErrorContains(t, err, "can't get project")
}

func TestClient_UploadSnapshot(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{"shot.jpg": "jpeg", "page.html": "<html></html>", "console.json": "[]"}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/projects/12/create-custom-snapshot", r.URL.Path)
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}

		assert.Equal(t, "release", r.FormValue("snapshotName"))
		assert.Equal(t, "/about", r.FormValue("urls[0]"))
		assert.Equal(t, "1200", r.FormValue("breakpoints[0]"))

		f, _, err := r.FormFile("htmlFiles[0]")
		if !assert.NoError(t, err) {
			return
		}
		defer f.Close()
		b, _ := io.ReadAll(f)
		assert.Equal(t, "<html></html>", string(b))

		_, _, err = r.FormFile("files[0]")
		assert.NoError(t, err)
		_, _, err = r.FormFile("jsConsoleFiles[0]")
		assert.NoError(t, err)

		w.Write([]byte(`345`))
	}))

	id, err := c.UploadSnapshot(context.Background(), "release", []UploadItem{{
		URI:        "/about",
		Breakpoint: 1200,
		Screenshot: filepath.Join(dir, "shot.jpg"),
		HTML:       filepath.Join(dir, "page.html"),
		JSConsole:  filepath.Join(dir, "console.json"),
	}})
	require.NoError(t, err)
	assert.Equal(t, "345", id)
}

func TestClient_UploadSnapshotMissingFile(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request must not be sent")
	}))

	_, err := c.UploadSnapshot(context.Background(), "release", []UploadItem{{
		URI:        "/",
		Breakpoint: 640,
		Screenshot: filepath.Join(t.TempDir(), "missing.jpg"),
	}})
	assert.Error(t, err)
}

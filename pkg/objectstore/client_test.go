package objectstore

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPutSetsStorageClassAndKeyPath(t *testing.T) {
	var gotPath, gotClass, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		gotPath = r.URL.Path
		gotClass = r.Header.Get("x-amz-storage-class")
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		gotBody = string(body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := New(Config{Endpoint: srv.URL, Bucket: "soh-files-bucket", StorageClass: "GLACIER_IR"})
	content := "id,name\n1,alpha\n"
	err := client.Put(context.Background(), "uploads/2026/08/31/file-1.csv", strings.NewReader(content), int64(len(content)))
	require.NoError(t, err)
	require.Equal(t, "/soh-files-bucket/uploads/2026/08/31/file-1.csv", gotPath)
	require.Equal(t, "GLACIER_IR", gotClass)
	require.Equal(t, content, gotBody)
}

func TestPutRejectsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := New(Config{Endpoint: srv.URL, Bucket: "b"})
	err := client.Put(context.Background(), "k", strings.NewReader("x"), 1)
	require.Error(t, err)
	require.Contains(t, err.Error(), "503")
}

func TestGetStreamsObject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/b/uploads/file-1.csv", r.URL.Path)
		_, _ = w.Write([]byte("id\n1\n"))
	}))
	defer srv.Close()

	client := New(Config{Endpoint: srv.URL, Bucket: "b"})
	body, err := client.Get(context.Background(), "uploads/file-1.csv")
	require.NoError(t, err)
	defer body.Close()
	content, err := io.ReadAll(body)
	require.NoError(t, err)
	require.Equal(t, "id\n1\n", string(content))
}

func TestGetNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := New(Config{Endpoint: srv.URL, Bucket: "b"})
	_, err := client.Get(context.Background(), "missing")
	require.Error(t, err)
	require.Contains(t, err.Error(), "404")
}

package handlers

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/your-org/facegroups/pkg/dto"
)

func TestUploadFileHeaders(t *testing.T) {
	single := []*multipart.FileHeader{{Filename: "one.jpg"}}
	batch := []*multipart.FileHeader{{Filename: "a.jpg"}, {Filename: "b.jpg"}}

	tests := []struct {
		name string
		file map[string][]*multipart.FileHeader
		want []string
	}{
		{"batch field", map[string][]*multipart.FileHeader{"files": batch}, []string{"a.jpg", "b.jpg"}},
		{"single field fallback", map[string][]*multipart.FileHeader{"file": single}, []string{"one.jpg"}},
		{"batch wins over single", map[string][]*multipart.FileHeader{"files": batch, "file": single}, []string{"a.jpg", "b.jpg"}},
		{"no file fields", map[string][]*multipart.FileHeader{}, nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := uploadFileHeaders(&multipart.Form{File: tc.file})
			if len(got) != len(tc.want) {
				t.Fatalf("headers = %d; want %d", len(got), len(tc.want))
			}
			for i, fh := range got {
				if fh.Filename != tc.want[i] {
					t.Errorf("header %d = %s; want %s", i, fh.Filename, tc.want[i])
				}
			}
		})
	}
}

func multipartUpload(t *testing.T, field string, names ...string) *gin.Context {
	t.Helper()
	gin.SetMode(gin.TestMode)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, name := range names {
		fw, err := w.CreateFormFile(field, name)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := fw.Write([]byte("not an image")); err != nil {
			t.Fatalf("write form file: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodPost, "/v1/images", &buf)
	c.Request.Header.Set("Content-Type", w.FormDataContentType())
	return c
}

func TestUploadBatchReportsPerFileErrors(t *testing.T) {
	h := NewImageHandler(nil, nil, nil)

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, name := range []string{"a.txt", "b.txt"} {
		fw, err := w.CreateFormFile("files", name)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := fw.Write([]byte("not an image")); err != nil {
			t.Fatalf("write form file: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	c.Request = httptest.NewRequest(http.MethodPost, "/v1/images", &buf)
	c.Request.Header.Set("Content-Type", w.FormDataContentType())

	h.Upload(c)

	// Every file was rejected before touching storage, so the batch fails
	// as a whole but still reports one result per file.
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d; want %d", rec.Code, http.StatusBadRequest)
	}

	var resp dto.UploadResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Uploaded) != 2 {
		t.Fatalf("results = %d; want 2", len(resp.Uploaded))
	}
	for i, name := range []string{"a.txt", "b.txt"} {
		if resp.Uploaded[i].Filename != name {
			t.Errorf("result %d filename = %s; want %s", i, resp.Uploaded[i].Filename, name)
		}
		if resp.Uploaded[i].Error == "" {
			t.Errorf("result %d has no error", i)
		}
		if resp.Uploaded[i].Image != nil {
			t.Errorf("result %d carries an image despite rejection", i)
		}
	}
}

func TestUploadNoFiles(t *testing.T) {
	h := NewImageHandler(nil, nil, nil)

	c := multipartUpload(t, "attachment", "a.jpg")
	h.Upload(c)

	if c.Writer.Status() != http.StatusBadRequest {
		t.Fatalf("status = %d; want %d", c.Writer.Status(), http.StatusBadRequest)
	}
}

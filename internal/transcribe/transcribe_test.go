package transcribe

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestTranscribe(t *testing.T) {
	var gotAuth, gotModel, gotFile string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		gotModel = r.FormValue("model")
		f, header, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		defer f.Close()
		gotFile = header.Filename
		if data, _ := io.ReadAll(f); string(data) != "oggbytes" {
			t.Errorf("file payload = %q", data)
		}
		w.Write([]byte(`{"text":"deploy the fix"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "sk-test", "")
	text, err := c.Transcribe(context.Background(), "voice.ogg", strings.NewReader("oggbytes"))
	if err != nil {
		t.Fatal(err)
	}
	if text != "deploy the fix" {
		t.Errorf("text = %q", text)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("auth = %q", gotAuth)
	}
	if gotModel != "whisper-1" {
		t.Errorf("model = %q, want default", gotModel)
	}
	if gotFile != "voice.ogg" {
		t.Errorf("filename = %q", gotFile)
	}
}

func TestTranscribeAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"bad audio"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New(srv.URL, "", "whisper-1")
	_, err := c.Transcribe(context.Background(), "voice.ogg", strings.NewReader("x"))
	if err == nil {
		t.Fatal("API error not surfaced")
	}
	if !strings.Contains(err.Error(), "400") {
		t.Errorf("err = %v", err)
	}
}

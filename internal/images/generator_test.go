package images

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"concierge/pkg/logging"
)

type fakeUploader struct {
	uploaded string
	link     string
}

func (f *fakeUploader) UploadImage(_ context.Context, imageB64 string) (string, error) {
	f.uploaded = imageB64
	return f.link, nil
}

func TestCreateGeneratesAndUploads(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/images/generations" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		if body["size"] != "1024x1024" {
			t.Errorf("expected invalid size to normalize, got %v", body["size"])
		}
		fmt.Fprint(w, `{"data":[{"b64_json":"aW1hZ2U="}]}`)
	}))
	defer server.Close()

	uploader := &fakeUploader{link: "https://images.example.com/abc.png"}
	generator := NewGenerator(Config{APIURL: server.URL, ImageModel: "img-test"}, uploader, logging.NewLogger())

	link, err := generator.Create(context.Background(), "a cat on a surfboard", "banana", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if link != uploader.link {
		t.Fatalf("link = %q", link)
	}
	if uploader.uploaded != "aW1hZ2U=" {
		t.Fatalf("uploaded payload = %q", uploader.uploaded)
	}
}

func TestCreateWithSourcesUsesEditEndpoint(t *testing.T) {
	t.Parallel()

	var editCalled bool
	mux := http.NewServeMux()
	mux.HandleFunc("/source.png", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("png-bytes"))
	})
	mux.HandleFunc("/images/edits", func(w http.ResponseWriter, r *http.Request) {
		editCalled = true
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if r.FormValue("prompt") != "make it sunset" {
			t.Errorf("prompt not forwarded: %q", r.FormValue("prompt"))
		}
		fmt.Fprint(w, `{"data":[{"b64_json":"ZWRpdGVk"}]}`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	uploader := &fakeUploader{link: "https://images.example.com/edited.png"}
	generator := NewGenerator(Config{APIURL: server.URL, ImageModel: "img-test"}, uploader, logging.NewLogger())

	link, err := generator.Create(context.Background(), "make it sunset", "1024x1024", []string{server.URL + "/source.png"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !editCalled {
		t.Fatal("expected edit endpoint to be used when sources are attached")
	}
	if link != uploader.link {
		t.Fatalf("link = %q", link)
	}
}

func TestDescribe(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"choices":[{"message":{"content":"A cat on a surfboard."}}]}`)
	}))
	defer server.Close()

	generator := NewGenerator(Config{APIURL: server.URL, VisionModel: "vision-test"}, &fakeUploader{}, logging.NewLogger())
	answer, err := generator.Describe(context.Background(), "https://x/img.png", "")
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	if answer != "A cat on a surfboard." {
		t.Fatalf("answer = %q", answer)
	}
}

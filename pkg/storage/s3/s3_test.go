package s3

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSplitPath(t *testing.T) {
	tests := []struct {
		in      string
		bucket  string
		key     string
		wantErr bool
	}{
		{"bucket/key.txt", "bucket", "key.txt", false},
		{"/bucket/dir/key.txt", "bucket", "dir/key.txt", false},
		{"bucket", "", "", true},
		{"bucket/", "", "", true},
	}
	for _, tt := range tests {
		b, k, err := splitPath(tt.in)
		if (err != nil) != tt.wantErr || b != tt.bucket || k != tt.key {
			t.Errorf("splitPath(%q) = %q, %q, %v", tt.in, b, k, err)
		}
	}
}

func TestFetch_PathStyleEndpoint(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/bkt/dir/obj.bin":
			w.Header().Set("Content-Type", "application/octet-stream")
			w.Write([]byte("object bytes"))
		default:
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`))
		}
	}))
	defer ts.Close()

	f, err := New(context.Background(), Config{
		Endpoint:  ts.URL,
		Region:    "us-east-1",
		AccessKey: "test",
		SecretKey: "test",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	data, err := f.Fetch(context.Background(), "bkt/dir/obj.bin")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(data) != "object bytes" {
		t.Errorf("data = %q", data)
	}

	if _, err := f.Fetch(context.Background(), "bkt/nope"); !errors.Is(err, ErrNoSuchKey) {
		t.Errorf("expected ErrNoSuchKey, got %v", err)
	}
}

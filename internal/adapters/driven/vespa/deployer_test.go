package vespa

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestValidateEndpoint(t *testing.T) {
	tests := []struct {
		name      string
		endpoint  string
		want      string
		wantError bool
	}{
		{
			name:      "valid http endpoint",
			endpoint:  "http://localhost:19071",
			want:      "http://localhost:19071",
			wantError: false,
		},
		{
			name:      "valid https endpoint",
			endpoint:  "https://vespa.example.com:19071",
			want:      "https://vespa.example.com:19071",
			wantError: false,
		},
		{
			name:      "strips trailing slash",
			endpoint:  "http://localhost:19071/",
			want:      "http://localhost:19071",
			wantError: false,
		},
		{
			name:      "rejects empty string",
			endpoint:  "",
			wantError: true,
		},
		{
			name:      "rejects file scheme",
			endpoint:  "file:///etc/passwd",
			wantError: true,
		},
		{
			name:      "rejects ftp scheme",
			endpoint:  "ftp://example.com",
			wantError: true,
		},
		{
			name:      "rejects no scheme",
			endpoint:  "localhost:19071",
			wantError: true,
		},
		{
			name:      "rejects javascript scheme",
			endpoint:  "javascript:alert(1)",
			wantError: true,
		},
		{
			name:      "rejects data scheme",
			endpoint:  "data:text/html,<script>alert(1)</script>",
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := validateEndpoint(tt.endpoint)
			if tt.wantError {
				if err == nil {
					t.Errorf("validateEndpoint(%q) expected error, got nil", tt.endpoint)
				}
				return
			}
			if err != nil {
				t.Errorf("validateEndpoint(%q) unexpected error: %v", tt.endpoint, err)
				return
			}
			if got != tt.want {
				t.Errorf("validateEndpoint(%q) = %q, want %q", tt.endpoint, got, tt.want)
			}
		})
	}
}

func TestDeployer_Deploy(t *testing.T) {
	var files []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/application/v2/tenant/default/prepareandactivate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/zip" {
			t.Errorf("unexpected content type %s", ct)
		}
		body, _ := io.ReadAll(r.Body)
		zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
		if err != nil {
			t.Errorf("invalid zip: %v", err)
			return
		}
		for _, f := range zr.File {
			files = append(files, f.Name)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d, err := NewDeployer(DeployerConfig{ConfigURL: server.URL})
	if err != nil {
		t.Fatalf("NewDeployer() error = %v", err)
	}
	res, err := d.Deploy(context.Background())
	if err != nil {
		t.Fatalf("Deploy() error = %v", err)
	}
	if res.Schema != "chunk" {
		t.Errorf("unexpected schema %q", res.Schema)
	}
	if len(files) != 2 || files[0] != "services.xml" || files[1] != "schemas/chunk.sd" {
		t.Errorf("unexpected package contents %v", files)
	}
}

func TestDeployer_DeployFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid application", http.StatusBadRequest)
	}))
	defer server.Close()

	d, _ := NewDeployer(DeployerConfig{ConfigURL: server.URL})
	if _, err := d.Deploy(context.Background()); err == nil {
		t.Error("expected deploy error")
	}
}

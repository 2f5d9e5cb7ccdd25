package vespa

import (
	"archive/zip"
	"bytes"
	"context"
	"embed"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

//go:embed schemas/services.xml schemas/chunk.sd
var schemaFS embed.FS

// DeployResult describes an application package deployment
type DeployResult struct {
	Endpoint string `json:"endpoint"`
	Schema   string `json:"schema"`
	Message  string `json:"message"`
}

// DeployerConfig holds the config server connection settings
type DeployerConfig struct {
	// ConfigURL is the Vespa config server endpoint (e.g., http://localhost:19071)
	ConfigURL string

	Timeout time.Duration
	Logger  *slog.Logger
}

// Deployer pushes the chunk schema to a Vespa config server
type Deployer struct {
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewDeployer creates a new Vespa deployer
func NewDeployer(cfg DeployerConfig) (*Deployer, error) {
	endpoint, err := validateEndpoint(cfg.ConfigURL)
	if err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Deployer{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     cfg.Logger,
	}, nil
}

// validateEndpoint only accepts http(s) URLs and strips a trailing slash
func validateEndpoint(endpoint string) (string, error) {
	if endpoint == "" {
		return "", fmt.Errorf("vespa endpoint is required")
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid vespa endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("invalid vespa endpoint scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("vespa endpoint has no host")
	}
	return strings.TrimSuffix(endpoint, "/"), nil
}

// Deploy deploys the application package with the chunk schema
func (d *Deployer) Deploy(ctx context.Context) (*DeployResult, error) {
	services, err := schemaFS.ReadFile("schemas/services.xml")
	if err != nil {
		return nil, fmt.Errorf("failed to read services.xml: %w", err)
	}
	schema, err := schemaFS.ReadFile("schemas/chunk.sd")
	if err != nil {
		return nil, fmt.Errorf("failed to read chunk schema: %w", err)
	}

	zipData, err := createAppPackage(services, schema)
	if err != nil {
		return nil, fmt.Errorf("failed to create app package: %w", err)
	}

	deployURL := fmt.Sprintf("%s/application/v2/tenant/default/prepareandactivate", d.endpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, deployURL, bytes.NewReader(zipData))
	if err != nil {
		return nil, fmt.Errorf("failed to create deploy request: %w", err)
	}
	req.Header.Set("Content-Type", "application/zip")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("deployment request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("deployment failed with status %s: %s", resp.Status, string(body))
	}

	d.logger.Info("vespa application deployed", "endpoint", d.endpoint)
	return &DeployResult{
		Endpoint: d.endpoint,
		Schema:   "chunk",
		Message:  "Deployed chunk schema",
	}, nil
}

// HealthCheck checks the config server is up
func (d *Deployer) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.endpoint+"/state/v1/health", nil)
	if err != nil {
		return err
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unhealthy: %s - %s", resp.Status, string(body))
	}
	return nil
}

func createAppPackage(services, schema []byte) ([]byte, error) {
	var buf bytes.Buffer
	zipWriter := zip.NewWriter(&buf)

	files := []struct {
		name string
		data []byte
	}{
		{"services.xml", services},
		{"schemas/chunk.sd", schema},
	}
	for _, f := range files {
		w, err := zipWriter.Create(f.name)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(f.data); err != nil {
			return nil, err
		}
	}

	if err := zipWriter.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

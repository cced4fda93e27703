// Package deploy implements the deploy_static_site tool which uploads a
// zipped static site to up2sha.re.
package deploy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dotcommander/codingagency/internal/errs"
	"github.com/dotcommander/codingagency/internal/logging"
	"github.com/dotcommander/codingagency/internal/tools"
)

// Name is the tool name exposed to the model.
const Name = "deploy_static_site"

// Defaults.
const (
	DefaultEndpoint  = "https://api.up2sha.re/v1/static-websites"
	DefaultAPIKeyEnv = "UP2SHARE_API_KEY"
	Timeout          = 60 * time.Second
)

// Args are the deploy_static_site arguments.
type Args struct {
	ZipFilePath string `json:"zip_file_path" jsonschema_description:"Absolute or workspace-relative path to the ZIP file containing the static website."`
}

// Deployer uploads site archives.
type Deployer struct {
	Endpoint string
	// KeyEnv names the variable the key is read from.
	KeyEnv string
	// APIKey returns the upload key. An empty key fails the upload.
	APIKey func() string
	// Dir resolves relative archive paths.
	Dir    string
	Client *http.Client
	Log    logging.Logger
}

// New returns a deployer reading its key from the environment variable
// keyEnv. Empty values use the defaults.
func New(endpoint, keyEnv, dir string, log logging.Logger) *Deployer {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if keyEnv == "" {
		keyEnv = DefaultAPIKeyEnv
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Deployer{
		Endpoint: endpoint,
		KeyEnv:   keyEnv,
		APIKey:   func() string { return os.Getenv(keyEnv) },
		Dir:      dir,
		Client:   &http.Client{Timeout: Timeout},
		Log:      log,
	}
}

// Deploy uploads the archive and returns the response body.
func (d *Deployer) Deploy(ctx context.Context, args Args) (string, error) {
	key := d.APIKey()
	if key == "" {
		return "", errs.NewToolError(Name, errs.CodeExecution, "%s environment variable is not set.", d.KeyEnv)
	}
	if strings.TrimSpace(args.ZipFilePath) == "" {
		return "", errs.NewToolError(Name, errs.CodeInvalidArguments, "zip_file_path must not be empty")
	}
	path := args.ZipFilePath
	if !filepath.IsAbs(path) && d.Dir != "" {
		path = filepath.Join(d.Dir, path)
	}
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && info.IsDir()) {
		return "", errs.NewToolError(Name, errs.CodeNotFound, "File not found: %s", args.ZipFilePath)
	}
	if err != nil {
		return "", fmt.Errorf("stat archive: %w", err)
	}

	body, contentType, err := multipartFile(path)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.Endpoint, body)
	if err != nil {
		return "", fmt.Errorf("create upload request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Api-Key", key)

	start := time.Now()
	resp, err := d.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	text, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read upload response: %w", err)
	}
	d.Log.Info("static site uploaded", "path", path, "status", resp.StatusCode, "duration", time.Since(start))
	if resp.StatusCode >= 400 {
		return "", errs.NewToolError(Name, errs.CodeExecution, "Upload failed (%d): %s", resp.StatusCode, string(text))
	}
	return string(text), nil
}

func multipartFile(path string) (io.Reader, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("open archive: %w", err)
	}
	defer func() { _ = f.Close() }()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", fmt.Errorf("read archive: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close form: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

// NewTool exposes d as the deploy_static_site tool.
func NewTool(d *Deployer) tools.Tool {
	return tools.New(Name, "Upload a ZIP archive of a static website to up2sha.re and return the hosting details.", d.Deploy)
}

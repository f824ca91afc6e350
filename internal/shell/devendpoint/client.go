// Package devendpoint publishes packages to the platform's development endpoint.
package devendpoint

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/artpar/apppublish/internal/core/domain"
)

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 1 << 20

// =============================================================================
// TLS Policy
// =============================================================================

// TLSPolicy controls certificate verification for a single request.
type TLSPolicy struct {
	SkipVerify bool // Accept self-signed certificates of local dev endpoints
}

// transport builds a dedicated transport for one request. Nothing here
// touches http.DefaultTransport or any other shared client.
func (p TLSPolicy) transport() *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	if p.SkipVerify {
		t.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: true,
		}
	}
	return t
}

// =============================================================================
// Client
// =============================================================================

// Request is one package upload.
type Request struct {
	BaseURL  string // Dev endpoint base, see transport.DevEndpointURL
	Path     string // Package file to upload
	FileName string // Name sent with the upload, base of Path when empty
	SyncMode domain.SyncMode
	Tenant   string
	Auth     Authorizer
	TLS      TLSPolicy
}

// Client uploads packages to a dev endpoint.
type Client struct {
	logger *slog.Logger
}

// NewClient creates a new dev endpoint client.
func NewClient(logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{logger: logger}
}

// PublishURL builds the upload URL.
// The tenant parameter is omitted for the default tenant.
func PublishURL(baseURL string, mode domain.SyncMode, tenant string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/") + "/dev/apps")
	if err != nil {
		return "", fmt.Errorf("parse dev endpoint url: %w", err)
	}
	q := url.Values{}
	q.Set("SchemaUpdateMode", domain.PublishOptions{SyncMode: mode}.SchemaUpdateMode())
	if tenant != "" && !strings.EqualFold(tenant, domain.DefaultTenant) {
		q.Set("tenant", tenant)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Publish streams the package to the dev endpoint.
//
// The request has no timeout of its own; large packages may take long and
// ctx is the only way to bound it. A non-2xx answer returns a
// *domain.RejectedError.
func (c *Client) Publish(ctx context.Context, r Request) error {
	endpoint, err := PublishURL(r.BaseURL, r.SyncMode, r.Tenant)
	if err != nil {
		return err
	}

	f, err := os.Open(r.Path)
	if err != nil {
		return fmt.Errorf("open package: %w", err)
	}
	defer f.Close()

	fileName := r.FileName
	if fileName == "" {
		fileName = filepath.Base(r.Path)
	}
	body, contentType := streamMultipart(f, fileName)
	defer body.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	auth := r.Auth
	if auth == nil {
		auth = NoAuth{}
	}
	if err := auth.Authorize(ctx, req); err != nil {
		return err
	}

	transport := r.TLS.transport()
	defer transport.CloseIdleConnections()
	httpClient := &http.Client{Transport: transport}

	c.logger.Info("uploading package to dev endpoint",
		"package", fileName,
		"url", endpoint,
		"skip_tls_verify", r.TLS.SkipVerify,
	)
	start := time.Now()

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("upload package: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return rejected(resp)
	}
	io.Copy(io.Discard, resp.Body)

	c.logger.Info("package uploaded",
		"package", fileName,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)
	return nil
}

// streamMultipart returns a reader producing a single part multipart body
// with the content of f. The file is read as the request is sent.
func streamMultipart(f io.Reader, fileName string) (io.ReadCloser, string) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", contentDisposition(fileName))
		h.Set("Content-Type", "application/octet-stream")

		part, err := mw.CreatePart(h)
		if err == nil {
			_, err = io.Copy(part, f)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	return pr, mw.FormDataContentType()
}

// contentDisposition names the part and the file after the package file,
// with an RFC 5987 extended filename for non-ASCII names.
func contentDisposition(fileName string) string {
	quoted := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(fileName)
	return fmt.Sprintf(`form-data; name="%s"; filename="%s"; filename*=UTF-8''%s`,
		quoted, quoted, url.PathEscape(fileName))
}

// =============================================================================
// Error Responses
// =============================================================================

type errorBody struct {
	Message string `json:"Message"`
}

func rejected(resp *http.Response) error {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil && !errors.Is(err, io.EOF) {
		raw = nil
	}

	message := strings.TrimSpace(string(raw))
	var body errorBody
	if json.Unmarshal(raw, &body) == nil && body.Message != "" {
		message = body.Message
	}

	reason := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if reason == "" {
		reason = http.StatusText(resp.StatusCode)
	}

	return &domain.RejectedError{
		StatusCode: resp.StatusCode,
		Reason:     reason,
		Message:    message,
	}
}

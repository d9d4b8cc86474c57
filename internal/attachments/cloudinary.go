package attachments

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Cloudinary stores attachments through the Cloudinary REST API.
type Cloudinary struct {
	CloudName string
	APIKey    string
	APISecret string
	Folder    string
	BaseURL   string
	HTTP      *http.Client
	now       func() time.Time
}

// NewCloudinary creates a Cloudinary adapter.
func NewCloudinary(cloudName, apiKey, apiSecret, folder string) *Cloudinary {
	return &Cloudinary{
		CloudName: cloudName,
		APIKey:    apiKey,
		APISecret: apiSecret,
		Folder:    strings.Trim(folder, "/"),
		BaseURL:   "https://api.cloudinary.com",
		HTTP:      &http.Client{Timeout: 30 * time.Second},
		now:       time.Now,
	}
}

type cloudinaryUpload struct {
	PublicID  string `json:"public_id"`
	SecureURL string `json:"secure_url"`
	URL       string `json:"url"`
}

type cloudinaryDestroy struct {
	Result string `json:"result"`
}

// Upload sends r as a multipart upload. Images and PDFs use the image resource
// type; everything else is stored raw with its extension in the public id.
func (c *Cloudinary) Upload(ctx context.Context, key string, r io.Reader, contentType string) (Object, error) {
	if c.CloudName == "" || c.APIKey == "" || c.APISecret == "" {
		return Object{}, ErrNotConfigured
	}
	resource, publicID := c.locate(key)
	params := map[string]string{
		"timestamp": strconv.FormatInt(c.now().Unix(), 10),
		"public_id": publicID,
		"api_key":   c.APIKey,
	}
	params["signature"] = c.sign(params)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range params {
		_ = w.WriteField(k, v)
	}
	part, err := w.CreateFormFile("file", path.Base(key))
	if err != nil {
		return Object{}, fmt.Errorf("cloudinary: create form file failed: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return Object{}, fmt.Errorf("cloudinary: write file failed: %w", err)
	}
	w.Close()

	var result cloudinaryUpload
	if err := c.post(ctx, resource, "upload", w.FormDataContentType(), &buf, &result); err != nil {
		return Object{}, err
	}
	url := result.SecureURL
	if url == "" {
		url = result.URL
	}
	return Object{Key: key, URL: url}, nil
}

// Delete destroys the object. A missing object counts as deleted.
func (c *Cloudinary) Delete(ctx context.Context, key string) error {
	if c.CloudName == "" || c.APIKey == "" || c.APISecret == "" {
		return ErrNotConfigured
	}
	resource, publicID := c.locate(key)
	params := map[string]string{
		"timestamp": strconv.FormatInt(c.now().Unix(), 10),
		"public_id": publicID,
		"api_key":   c.APIKey,
	}
	params["signature"] = c.sign(params)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range params {
		_ = w.WriteField(k, v)
	}
	w.Close()

	var result cloudinaryDestroy
	if err := c.post(ctx, resource, "destroy", w.FormDataContentType(), &buf, &result); err != nil {
		return err
	}
	if result.Result != "ok" && result.Result != "not found" {
		return fmt.Errorf("cloudinary: destroy %s: %s", publicID, result.Result)
	}
	return nil
}

func (c *Cloudinary) post(ctx context.Context, resource, action, contentType string, body io.Reader, out any) error {
	url := fmt.Sprintf("%s/v1_1/%s/%s/%s", strings.TrimRight(c.BaseURL, "/"), c.CloudName, resource, action)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return fmt.Errorf("cloudinary: create request failed: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("cloudinary: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("cloudinary: %s failed (%d): %s", action, resp.StatusCode, string(raw))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("cloudinary: decode response failed: %w", err)
	}
	return nil
}

// locate maps a storage key to the resource type and public id Cloudinary expects.
func (c *Cloudinary) locate(key string) (resource, publicID string) {
	ext := strings.ToLower(path.Ext(key))
	id := key
	resource = "raw"
	switch ext {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp", ".pdf":
		resource = "image"
		id = strings.TrimSuffix(key, path.Ext(key))
	}
	if c.Folder != "" {
		id = c.Folder + "/" + id
	}
	return resource, id
}

// sign computes the API signature; api_key, file and resource_type are not signed.
func (c *Cloudinary) sign(params map[string]string) string {
	excludeKeys := map[string]bool{"api_key": true, "file": true, "resource_type": true}

	pairs := make([]string, 0, len(params))
	for k, v := range params {
		if !excludeKeys[k] && v != "" {
			pairs = append(pairs, k+"="+v)
		}
	}
	sort.Strings(pairs)

	h := sha1.New()
	h.Write([]byte(strings.Join(pairs, "&") + c.APISecret))
	return fmt.Sprintf("%x", h.Sum(nil))
}

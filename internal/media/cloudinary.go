package media

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
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

const DefaultBaseURL = "https://api.cloudinary.com"

type Asset struct {
	URL      string `json:"secure_url"`
	PublicID string `json:"public_id"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

// Cloudinary uploads signed images to one cloud and folder.
type Cloudinary struct {
	CloudName string
	APIKey    string
	APISecret string
	Folder    string
	BaseURL   string
	MaxWidth  uint
	client    *http.Client
}

func NewCloudinary(cloudName, apiKey, apiSecret, folder string) *Cloudinary {
	return &Cloudinary{
		CloudName: cloudName,
		APIKey:    apiKey,
		APISecret: apiSecret,
		Folder:    folder,
		BaseURL:   DefaultBaseURL,
		MaxWidth:  DefaultMaxWidth,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Cloudinary) Configured() bool {
	return c != nil && c.CloudName != "" && c.APIKey != "" && c.APISecret != ""
}

// Sign is Cloudinary's request signature: sorted key=value pairs joined by
// '&', with the secret appended, hashed with SHA-1.
func Sign(params map[string]string, secret string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if v != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+params[k])
	}
	sum := sha1.Sum([]byte(strings.Join(pairs, "&") + secret))
	return hex.EncodeToString(sum[:])
}

func (c *Cloudinary) Upload(ctx context.Context, name string, r io.Reader) (*Asset, error) {
	data, contentType, err := Downscale(r, c.MaxWidth)
	if err != nil {
		return nil, err
	}

	params := map[string]string{
		"timestamp": strconv.FormatInt(time.Now().Unix(), 10),
		"folder":    c.Folder,
	}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range c.signed(params) {
		if err := mw.WriteField(k, v); err != nil {
			return nil, err
		}
	}
	fw, err := mw.CreateFormFile("file", uploadName(name, contentType))
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(data); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	var asset Asset
	if err := c.post(ctx, "upload", mw.FormDataContentType(), &body, &asset); err != nil {
		return nil, err
	}
	if asset.URL == "" || asset.PublicID == "" {
		return nil, fmt.Errorf("cloudinary upload returned no asset")
	}
	return &asset, nil
}

func (c *Cloudinary) Destroy(ctx context.Context, publicID string) error {
	params := map[string]string{
		"public_id": publicID,
		"timestamp": strconv.FormatInt(time.Now().Unix(), 10),
	}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range c.signed(params) {
		if err := mw.WriteField(k, v); err != nil {
			return err
		}
	}
	if err := mw.Close(); err != nil {
		return err
	}

	var out struct {
		Result string `json:"result"`
	}
	if err := c.post(ctx, "destroy", mw.FormDataContentType(), &body, &out); err != nil {
		return err
	}
	if out.Result != "ok" && out.Result != "not found" {
		return fmt.Errorf("cloudinary destroy: %s", out.Result)
	}
	return nil
}

func (c *Cloudinary) signed(params map[string]string) map[string]string {
	out := map[string]string{}
	for k, v := range params {
		if v != "" {
			out[k] = v
		}
	}
	out["signature"] = Sign(params, c.APISecret)
	out["api_key"] = c.APIKey
	return out
}

func (c *Cloudinary) post(ctx context.Context, action, contentType string, body io.Reader, out any) error {
	endpoint := strings.TrimRight(c.BaseURL, "/") + "/v1_1/" + c.CloudName + "/image/" + action
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)

	client := c.client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(raw, &e) == nil && e.Error.Message != "" {
			return fmt.Errorf("cloudinary http status %d: %s", resp.StatusCode, e.Error.Message)
		}
		return fmt.Errorf("cloudinary http status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func uploadName(name, contentType string) string {
	base := strings.TrimSuffix(path.Base(name), path.Ext(name))
	if base == "" || base == "." || base == "/" {
		base = "image"
	}
	if contentType == "image/png" {
		return base + ".png"
	}
	return base + ".jpg"
}

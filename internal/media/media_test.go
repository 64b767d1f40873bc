package media

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
)

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestDownscale(t *testing.T) {
	out, ct, err := Downscale(bytes.NewReader(testPNG(t, 3200, 800)), 1600)
	if err != nil {
		t.Fatalf("downscale: %v", err)
	}
	if ct != "image/png" {
		t.Errorf("expected png to stay png, got %s", ct)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if cfg.Width != 1600 || cfg.Height != 400 {
		t.Errorf("expected 1600x400, got %dx%d", cfg.Width, cfg.Height)
	}

	out, _, err = Downscale(bytes.NewReader(testPNG(t, 300, 200)), 1600)
	if err != nil {
		t.Fatalf("downscale small: %v", err)
	}
	cfg, _, _ = image.DecodeConfig(bytes.NewReader(out))
	if cfg.Width != 300 {
		t.Errorf("small image should keep its width, got %d", cfg.Width)
	}

	if _, _, err := Downscale(bytes.NewReader([]byte("not an image")), 1600); err == nil {
		t.Error("expected decode error")
	}
}

func TestSign(t *testing.T) {
	// Example from Cloudinary's signature documentation.
	got := Sign(map[string]string{
		"eager":     "w_400,h_300,c_pad|w_260,h_200,c_crop",
		"public_id": "sample_image",
		"timestamp": "1315060510",
	}, "abcd")
	if got != "bfd09f95f331f558cbd1320e67aa8d488770583e" {
		t.Errorf("unexpected signature %s", got)
	}
}

func TestUploadAndDestroy(t *testing.T) {
	var uploads, destroys int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.FormValue("api_key") != "key" || r.FormValue("signature") == "" {
			t.Errorf("missing signed fields")
		}
		switch r.URL.Path {
		case "/v1_1/demo/image/upload":
			uploads++
			if _, _, err := r.FormFile("file"); err != nil {
				t.Errorf("missing file: %v", err)
			}
			if r.FormValue("folder") != "requests" {
				t.Errorf("expected folder, got %q", r.FormValue("folder"))
			}
			w.Write([]byte(`{"secure_url":"https://res.cloudinary.com/demo/a.png","public_id":"requests/a"}`))
		case "/v1_1/demo/image/destroy":
			destroys++
			if r.FormValue("public_id") != "requests/a" {
				t.Errorf("unexpected public id %q", r.FormValue("public_id"))
			}
			w.Write([]byte(`{"result":"ok"}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewCloudinary("demo", "key", "secret", "requests")
	c.BaseURL = srv.URL

	asset, err := c.Upload(context.Background(), "photo.png", bytes.NewReader(testPNG(t, 10, 10)))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if asset.PublicID != "requests/a" || asset.URL == "" {
		t.Errorf("unexpected asset %+v", asset)
	}
	if err := c.Destroy(context.Background(), asset.PublicID); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	if uploads != 1 || destroys != 1 {
		t.Errorf("expected one upload and one destroy, got %d/%d", uploads, destroys)
	}
}

func TestUploadError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"Invalid Signature"}}`))
	}))
	defer srv.Close()

	c := NewCloudinary("demo", "key", "secret", "")
	c.BaseURL = srv.URL
	_, err := c.Upload(context.Background(), "x.png", bytes.NewReader(testPNG(t, 4, 4)))
	if err == nil || err.Error() != "cloudinary http status 401: Invalid Signature" {
		t.Fatalf("expected signature error, got %v", err)
	}
}

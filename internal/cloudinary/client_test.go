package cloudinary

import (
	"context"
	"crypto/sha1"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignSortsAndExcludes(t *testing.T) {
	c := New("demo", "key", "secret", "")
	got := c.sign(map[string]string{
		"timestamp": "1700000000",
		"public_id": "user_100001",
		"api_key":   "key",
		"file":      "data:...",
		"folder":    "",
	})
	want := fmt.Sprintf("%x", sha1.Sum([]byte("public_id=user_100001&timestamp=1700000000secret")))
	assert.Equal(t, want, got)
}

func TestUploadDataURL(t *testing.T) {
	var form map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/demo/image/upload", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		form = map[string]string{}
		for k, v := range r.MultipartForm.Value {
			form[k] = v[0]
		}
		fmt.Fprint(w, `{"public_id":"kiosk/user_100001","secure_url":"https://res.example/user_100001.jpg","width":64,"height":64}`)
	}))
	defer srv.Close()

	c := New("demo", "key", "secret", "kiosk")
	c.BaseURL = srv.URL
	c.now = func() time.Time { return time.Unix(1700000000, 0) }

	res, err := c.UploadDataURL(context.Background(), "data:image/jpeg;base64,AAAA", "user_100001")
	require.NoError(t, err)
	assert.Equal(t, "https://res.example/user_100001.jpg", res.SecureURL)
	assert.Equal(t, "user_100001", form["public_id"])
	assert.Equal(t, "true", form["overwrite"])
	assert.Equal(t, "kiosk", form["folder"])
	assert.Equal(t, "data:image/jpeg;base64,AAAA", form["file"])
	assert.NotEmpty(t, form["signature"])
}

func TestUploadDataURLError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"Invalid Signature"}}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New("demo", "key", "secret", "")
	c.BaseURL = srv.URL

	_, err := c.UploadDataURL(context.Background(), "data:image/jpeg;base64,AAAA", "")
	assert.ErrorContains(t, err, "401")
}

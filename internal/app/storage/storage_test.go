package storage

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaychat/internal/configs"
)

func testConfig() ServiceConfig {
	return ServiceConfig{
		BucketName:      "chat-images",
		Endpoint:        "http://localhost:9000",
		AccessKeyID:     "minio",
		SecretAccessKey: "minio-secret",
	}
}

func TestPublicURLDefaultsToBucketPath(t *testing.T) {
	svc, err := NewService(context.Background(), testConfig())
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:9000/chat-images/images/a.png", svc.PublicURL("images/a.png"))
}

func TestPublicURLUsesConfiguredBase(t *testing.T) {
	cfg := testConfig()
	cfg.PublicBaseURL = "https://cdn.example.com/"

	svc, err := NewService(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, "https://cdn.example.com/images/a.png", svc.PublicURL("/images/a.png"))
}

func TestPresignUploadIsOffline(t *testing.T) {
	svc, err := NewService(context.Background(), testConfig())
	require.NoError(t, err)

	raw, err := svc.PresignUpload(context.Background(), "images/a.png", "image/png", 1024, 5*time.Minute)
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "/chat-images/images/a.png", u.Path)
	assert.Equal(t, "300", u.Query().Get("X-Amz-Expires"))
	assert.True(t, strings.Contains(u.Query().Get("X-Amz-SignedHeaders"), "host"))
}

func TestConfigFrom(t *testing.T) {
	cfg := ConfigFrom(&configs.AppConfig{
		S3BucketName:    "b",
		S3Endpoint:      "http://e",
		S3Region:        "eu",
		S3PublicBaseURL: "https://p",
	})

	assert.Equal(t, "b", cfg.BucketName)
	assert.Equal(t, "http://e", cfg.Endpoint)
	assert.Equal(t, "eu", cfg.Region)
	assert.Equal(t, "https://p", cfg.PublicBaseURL)
}

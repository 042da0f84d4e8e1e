package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"voxelpath.ai/internal/persistence/objstore"
)

// newRunMirror returns nil unless VP_S3_MIRROR is set.
func newRunMirror(dataDir string, logger *log.Logger) (*objstore.Mirror, error) {
	if !envBool("VP_S3_MIRROR", false) {
		return nil, nil
	}
	cfg := objstore.Config{
		Endpoint:        os.Getenv("VP_S3_ENDPOINT"),
		Bucket:          os.Getenv("VP_S3_BUCKET"),
		Region:          strings.TrimSpace(os.Getenv("VP_S3_REGION")),
		AccessKeyID:     os.Getenv("VP_S3_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("VP_S3_SECRET_ACCESS_KEY"),
	}
	client, err := objstore.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("VP_S3_MIRROR=true: %w", err)
	}
	return objstore.NewMirror(client, dataDir, os.Getenv("VP_S3_PREFIX"), envInt("VP_S3_UPLOAD_WORKERS", 2), logger), nil
}

// uploadRun mirrors the finished run directory and waits for the uploads.
func uploadRun(m *objstore.Mirror, runDir string, logger *log.Logger) {
	n, err := m.EnqueueRun(runDir)
	m.Close()
	if err != nil {
		logger.Printf("mirror %s: %v", runDir, err)
	}
	st := m.Stats()
	logger.Printf("mirror: files=%d uploaded=%d failed=%d", n, st.Uploaded, st.Failed)
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

package main_test

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

const mainRunTimeout = 10 * time.Second

func runMain(t *testing.T, env ...string) (string, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), mainRunTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "go", "run", "./cmd/perdura")
	cmd.Dir = "../.."
	cmd.Env = append(os.Environ(), env...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	assert.NotEqual(t, context.DeadlineExceeded, ctx.Err())
	return stderr.String(), err
}

func TestMainExitsOnStoreError(t *testing.T) {
	_, err := runMain(t,
		"WORKFLOW_REDIS_ADDR=127.0.0.1:0",
		"SYSTEM_REDIS_ADDR=127.0.0.1:0",
	)
	assert.Error(t, err)
}

func TestMainExitsOnBadConfig(t *testing.T) {
	out, err := runMain(t, "API_PORT=not-a-port")
	assert.Error(t, err)
	assert.Contains(t, out, "API_PORT")
}

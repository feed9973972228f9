package integration

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/thrive/vitalsync/internal/platform/db"
)

const (
	pgImage    = "postgres:16-alpine"
	pgUser     = "vitalsync"
	pgPassword = "vitalsync"
	pgDatabase = "vitalsync_cache"
)

// pgContainer is a throwaway Postgres started through the Docker CLI. It is
// created with --rm, so stopping it also removes it.
type pgContainer struct {
	id      string
	connStr string
}

// runPostgres starts the container on an ephemeral loopback port chosen by
// Docker and blocks until the metric cache could connect to it.
func runPostgres(ctx context.Context, readyWithin time.Duration) (*pgContainer, error) {
	name := "vitalsync-it-" + uuid.NewString()[:8]
	out, err := docker(ctx, "run", "-d", "--rm",
		"--name", name,
		"-p", "127.0.0.1::5432",
		"-e", "POSTGRES_USER="+pgUser,
		"-e", "POSTGRES_PASSWORD="+pgPassword,
		"-e", "POSTGRES_DB="+pgDatabase,
		pgImage,
	)
	if err != nil {
		return nil, err
	}
	pc := &pgContainer{id: out}

	mapped, err := docker(ctx, "port", pc.id, "5432/tcp")
	if err != nil {
		pc.stop()
		return nil, err
	}
	// "docker port" may list an IPv6 binding too; the first line is enough.
	hostPort := strings.SplitN(mapped, "\n", 2)[0]
	_, port, err := net.SplitHostPort(strings.TrimSpace(hostPort))
	if err != nil {
		pc.stop()
		return nil, fmt.Errorf("parse mapped port %q: %w", mapped, err)
	}
	pc.connStr = fmt.Sprintf("postgres://%s:%s@127.0.0.1:%s/%s?sslmode=disable", pgUser, pgPassword, port, pgDatabase)

	if err := pc.awaitReady(ctx, readyWithin); err != nil {
		pc.stop()
		return nil, err
	}
	return pc, nil
}

// awaitReady polls until db.NewPool, which pings, succeeds twice in a row.
// The image restarts the server once after init, so a single early success
// is not trusted.
func (pc *pgContainer) awaitReady(ctx context.Context, within time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, within)
	defer cancel()

	tick := time.NewTicker(400 * time.Millisecond)
	defer tick.Stop()

	var lastErr error
	healthy := 0
	for healthy < 2 {
		attemptCtx, done := context.WithTimeout(ctx, 2*time.Second)
		pool, err := db.NewPool(attemptCtx, pc.connStr, 1, 0)
		if err == nil {
			pool.Close()
		}
		done()
		if err == nil {
			healthy++
		} else {
			healthy, lastErr = 0, err
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("postgres not ready within %v: %v", within, lastErr)
		case <-tick.C:
		}
	}
	return nil
}

func (pc *pgContainer) stop() {
	_ = exec.Command("docker", "stop", "-t", "2", pc.id).Run()
}

func docker(ctx context.Context, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, "docker", args...).CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("docker %s: %w: %s", args[0], err, strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}

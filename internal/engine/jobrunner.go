package engine

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"avatard/internal/common/fsutil"

	"github.com/google/uuid"
)

// JobRunner invokes video synthesis as one external process per job, for
// deployments without the persistent service. Each run gets a hard timeout;
// on expiry the process is killed and the job resolves as a timeout.
type JobRunner struct {
	// Bin is the synthesis command.
	Bin string
	// OutputDir receives rendered videos.
	OutputDir string
	// PersonaDir receives preprocessing artifacts, one subdir per persona.
	PersonaDir string
	// Timeout is the hard per-job deadline (default 120s).
	Timeout time.Duration
}

func (r *JobRunner) timeout() time.Duration {
	if r.Timeout <= 0 {
		return 120 * time.Second
	}
	return r.Timeout
}

// Synthesize implements VideoSynthesizer via a one-shot subprocess.
func (r *JobRunner) Synthesize(ctx context.Context, personaRef, drivingAudioRef string, q QualityParams) (Video, error) {
	outPath := filepath.Join(r.OutputDir, uuid.NewString()+".mp4")
	ctx, cancel := context.WithTimeout(ctx, r.timeout())
	defer cancel()

	args := []string{
		"--persona", personaRef,
		"--audio", drivingAudioRef,
		"--out", outPath,
	}
	if q.BatchSize > 0 {
		args = append(args, "--batch-size", strconv.Itoa(q.BatchSize))
	}
	if q.Resolution > 0 {
		args = append(args, "--resolution", strconv.Itoa(q.Resolution))
	}
	if q.Steps > 0 {
		args = append(args, "--steps", strconv.Itoa(q.Steps))
	}

	cmd := exec.CommandContext(ctx, r.Bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return Video{}, ErrTimeout(fmt.Sprintf("video job exceeded %s", r.timeout()))
	}
	if err != nil {
		return Video{}, ErrUpstreamFailure(fmt.Sprintf("video job failed: %v: %s", err, truncate(stderr.String(), 512)))
	}
	if !fsutil.PathExists(outPath) {
		return Video{}, ErrUpstreamFailure("video job produced no output")
	}
	return Video{VideoRef: outPath}, nil
}

// Preprocess implements Preprocessor via a one-shot subprocess run in
// preprocessing mode.
func (r *JobRunner) Preprocess(ctx context.Context, personaID, sourceRef string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout())
	defer cancel()

	args := []string{
		"--preprocess",
		"--persona-id", personaID,
		"--out", filepath.Join(r.PersonaDir, personaID),
	}
	if sourceRef != "" {
		args = append(args, "--source", sourceRef)
	}
	cmd := exec.CommandContext(ctx, r.Bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return ErrTimeout(fmt.Sprintf("persona preprocessing exceeded %s", r.timeout()))
	}
	if err != nil {
		return ErrUpstreamFailure(fmt.Sprintf("persona preprocessing failed: %v: %s", err, truncate(stderr.String(), 512)))
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

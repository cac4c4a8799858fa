package scanner

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"strings"
	"time"

	"github.com/pkg/errors"

	"hostscan/internal/shared"
)

const defaultCommandTimeout = 30 * time.Second

// commandResult mirrors what a probe command produced.
type commandResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// runCommand runs name with args under a timeout. A non-zero exit is
// reported through ExitCode, not as an error; err is set only when the
// command could not run or timed out.
func runCommand(ctx context.Context, timeout time.Duration, name string, args ...string) (commandResult, error) {
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := commandResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		if cctx.Err() == context.DeadlineExceeded {
			return res, errors.Errorf("%s timed out after %s", name, timeout)
		}
		if ee, ok := err.(*exec.ExitError); ok {
			res.ExitCode = ee.ExitCode()
			return res, nil
		}
		return res, errors.Wrapf(err, "run %s", name)
	}
	return res, nil
}

// commandAvailable reports whether name resolves on PATH.
func commandAvailable(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}

// decodeRecords reads JSON that is either one object or an array of objects,
// which is what ConvertTo-Json emits depending on the row count.
func decodeRecords(b []byte) ([]shared.Record, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return []shared.Record{}, nil
	}
	if b[0] == '{' {
		var one shared.Record
		if err := json.Unmarshal(b, &one); err != nil {
			return nil, errors.Wrap(err, "decode record")
		}
		return []shared.Record{one}, nil
	}
	out := []shared.Record{}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, errors.Wrap(err, "decode records")
	}
	return out, nil
}

package incubator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/roach88/sovereign/internal/record"
)

const (
	// ParamsFile is written into the workspace before a process starts.
	ParamsFile = "params.json"

	DefaultMaxOutputBytes = 1 << 20
	processWaitDelay      = time.Second
)

// ProcessTemplate runs an external command as a task.
//
// The command starts in the task workspace with the spawn parameters in
// ParamsFile and SOVEREIGN_* variables describing the task. A JSON object on
// stdout becomes the task's "result". On timeout the whole process group is
// killed.
type ProcessTemplate struct {
	Type           string
	Command        []string
	Env            []string
	MaxOutputBytes int64
	// ReportType, when set, is the message type of a report appended to the
	// ledger after a successful run.
	ReportType string
}

func (t ProcessTemplate) Name() string { return t.Type }

func (t ProcessTemplate) Build(params record.Payload) (Task, error) {
	if len(t.Command) == 0 || t.Command[0] == "" {
		return nil, errors.New("process template has no command")
	}
	return &processTask{tpl: t, params: params}, nil
}

type processTask struct {
	tpl    ProcessTemplate
	params record.Payload
}

func (p *processTask) Run(ctx context.Context, env Env) (record.Payload, error) {
	paramsPath := filepath.Join(env.Workspace, ParamsFile)
	data, err := json.Marshal(p.params)
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}
	if err := os.WriteFile(paramsPath, data, 0o600); err != nil {
		return nil, fmt.Errorf("write params: %w", err)
	}

	maxOutput := p.tpl.MaxOutputBytes
	if maxOutput <= 0 {
		maxOutput = DefaultMaxOutputBytes
	}

	cmd := exec.CommandContext(ctx, p.tpl.Command[0], p.tpl.Command[1:]...)
	cmd.Dir = env.Workspace
	cmd.Env = append(os.Environ(), p.tpl.Env...)
	cmd.Env = append(cmd.Env,
		"SOVEREIGN_TASK_TYPE="+env.TaskType,
		"SOVEREIGN_AGENT_ID="+env.AgentID,
		"SOVEREIGN_WORKSPACE="+env.Workspace,
		"SOVEREIGN_PARAMS="+paramsPath,
	)
	configureProcess(cmd)
	cmd.Cancel = func() error {
		terminateProcess(cmd)
		return nil
	}
	cmd.WaitDelay = processWaitDelay

	var stdoutBuf, stderrBuf bytes.Buffer
	stdout := &limitedWriter{w: &stdoutBuf, max: maxOutput}
	stderr := &limitedWriter{w: &stderrBuf, max: maxOutput}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	runErr := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	out := record.Payload{
		"command":   p.tpl.Command,
		"exit_code": cmd.ProcessState.ExitCode(),
		"stdout":    stdoutBuf.String(),
		"stderr":    stderrBuf.String(),
		"truncated": stdout.truncated || stderr.truncated,
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return nil, fmt.Errorf("command exited %d: %s", exitErr.ExitCode(), lastLine(stderrBuf.String()))
		}
		return nil, fmt.Errorf("run command: %w", runErr)
	}

	var result map[string]any
	if json.Unmarshal(bytes.TrimSpace(stdoutBuf.Bytes()), &result) == nil {
		out["result"] = result
	}

	if p.tpl.ReportType != "" {
		if _, err := env.Report(ctx, p.tpl.ReportType, out); err != nil {
			return nil, fmt.Errorf("write report: %w", err)
		}
	}
	return out, nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// limitedWriter is an io.Writer that keeps at most max bytes and silently
// discards the rest.
type limitedWriter struct {
	w         io.Writer
	max       int64
	written   int64
	truncated bool
}

func (l *limitedWriter) Write(p []byte) (int, error) {
	remaining := l.max - l.written
	if remaining <= 0 {
		l.truncated = true
		return len(p), nil
	}
	chunk := p
	if int64(len(chunk)) > remaining {
		chunk = chunk[:remaining]
		l.truncated = true
	}
	n, err := l.w.Write(chunk)
	l.written += int64(n)
	if err != nil {
		return n, err
	}
	return len(p), nil
}

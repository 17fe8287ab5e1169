package builtin

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/clawcore/internal/tools"
)

const (
	defaultBashTimeout = 120 * time.Second
	maxBashTimeout     = 600 * time.Second
	backgroundTTL      = 30 * time.Minute
	// killGrace is how long a process group gets between SIGTERM and SIGKILL.
	killGrace     = 5 * time.Second
	maxBashOutput = 100 * 1024
)

type bashArgs struct {
	Command    string `json:"command" jsonschema:"required,description=Shell command to execute"`
	Cwd        string `json:"cwd,omitempty" jsonschema:"description=Working directory, defaults to the workspace root"`
	Timeout    int    `json:"timeout,omitempty" jsonschema:"description=Timeout in milliseconds"`
	Background bool   `json:"background,omitempty" jsonschema:"description=Run detached and return immediately with a job id"`
}

// backgroundJob is one detached shell process.
type backgroundJob struct {
	id      string
	command string
	cmd     *exec.Cmd
	output  *lockedBuffer
	done    chan struct{}
	err     error
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.buf.Len() >= maxBashOutput {
		return len(p), nil // drop past the cap
	}
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// BashTool owns background job state alongside the definition.
type BashTool struct {
	mu   sync.Mutex
	jobs map[string]*backgroundJob
}

func NewBashTool() *BashTool {
	return &BashTool{jobs: make(map[string]*backgroundJob)}
}

// Definition returns the bash tool wired to this instance's job table.
func (t *BashTool) Definition() *tools.Definition {
	return &tools.Definition{
		ID:          "bash",
		Description: "Execute a shell command. Long-running commands need background=true or a finite timeout.",
		Parameters:  tools.MustSchemaFor(&bashArgs{}),
		Execution:   tools.ExecShell,
		Metadata: tools.Metadata{
			Permission:         "bash",
			PermissionPatterns: []tools.PatternExtractor{{Arg: "command", Kind: tools.PatternCommand}},
		},
		Handler: t.handler,
	}
}

func (t *BashTool) handler(args map[string]any, tc tools.Context) *tools.Result {
	command, _ := args["command"].(string)
	if command == "" {
		return tools.Errorf("command is required")
	}
	cwd, _ := args["cwd"].(string)
	if cwd == "" {
		cwd = tc.WorkspaceRoot
	}

	if bg, _ := args["background"].(bool); bg {
		return t.startBackground(command, cwd, tc)
	}

	timeout := defaultBashTimeout
	if ms := intArg(args, "timeout"); ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
		if timeout > maxBashTimeout {
			timeout = maxBashTimeout
		}
	}

	ctx, cancel := context.WithTimeout(tc.Ctx, timeout)
	defer cancel()

	cmd := exec.Command("sh", "-c", command)
	cmd.Dir = cwd
	// Own process group so the whole pipeline dies together.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	var out lockedBuffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Start(); err != nil {
		return tools.Errorf(fmt.Sprintf("cannot start command: %v", err))
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		text := clampOutput(out.String())
		if err != nil {
			return tools.Errorf(fmt.Sprintf("command failed: %v\n%s", err, text))
		}
		if text == "" {
			text = "(no output)"
		}
		return tools.Ok(text)

	case <-ctx.Done():
		killGroup(cmd, done)
		reason := "command timed out after " + timeout.String()
		if tc.Ctx.Err() != nil {
			reason = "command cancelled"
		}
		return tools.Errorf(fmt.Sprintf("%s\n%s", reason, clampOutput(out.String())))
	}
}

func (t *BashTool) startBackground(command, cwd string, tc tools.Context) *tools.Result {
	cmd := exec.Command("sh", "-c", command)
	cmd.Dir = cwd
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	out := &lockedBuffer{}
	cmd.Stdout = out
	cmd.Stderr = out

	if err := cmd.Start(); err != nil {
		return tools.Errorf(fmt.Sprintf("cannot start command: %v", err))
	}

	job := &backgroundJob{
		id:      "job-" + uuid.NewString()[:8],
		command: command,
		cmd:     cmd,
		output:  out,
		done:    make(chan struct{}),
	}
	t.mu.Lock()
	t.jobs[job.id] = job
	t.mu.Unlock()

	go func() {
		job.err = cmd.Wait()
		close(job.done)
	}()
	// TTL reaper: detached jobs do not outlive the session indefinitely.
	go func() {
		select {
		case <-job.done:
		case <-time.After(backgroundTTL):
			killGroup(cmd, nil)
		}
	}()

	tc.Log.Info("background job started", "job", job.id, "pid", cmd.Process.Pid)
	return tools.Ok(fmt.Sprintf("Started background job %s (pid %d). Use bash_output to check on it.", job.id, cmd.Process.Pid))
}

// Output reports a background job's buffered output and state.
func (t *BashTool) Output(jobID string) *tools.Result {
	t.mu.Lock()
	job, ok := t.jobs[jobID]
	t.mu.Unlock()
	if !ok {
		return tools.Errorf(fmt.Sprintf("unknown job %s", jobID))
	}

	state := "running"
	select {
	case <-job.done:
		if job.err != nil {
			state = fmt.Sprintf("exited with error: %v", job.err)
		} else {
			state = "exited"
		}
	default:
	}
	return tools.Ok(fmt.Sprintf("[%s] %s\n%s", jobID, state, clampOutput(job.output.String())))
}

// OutputDefinition returns the companion tool for polling background jobs.
func (t *BashTool) OutputDefinition() *tools.Definition {
	type outputArgs struct {
		JobID string `json:"jobId" jsonschema:"required,description=Job id returned by a background bash call"`
	}
	return &tools.Definition{
		ID:          "bash_output",
		Description: "Read the buffered output and state of a background bash job.",
		Parameters:  tools.MustSchemaFor(&outputArgs{}),
		Metadata:    tools.Metadata{Permission: "bash", ReadOnly: true},
		Handler: func(args map[string]any, tc tools.Context) *tools.Result {
			jobID, _ := args["jobId"].(string)
			return t.Output(jobID)
		},
	}
}

// killGroup SIGTERMs the process group, escalating to SIGKILL after the
// grace period. done, when non-nil, short-circuits the escalation.
func killGroup(cmd *exec.Cmd, done chan error) {
	if cmd.Process == nil {
		return
	}
	pgid := -cmd.Process.Pid
	syscall.Kill(pgid, syscall.SIGTERM)

	if done != nil {
		select {
		case <-done:
			return
		case <-time.After(killGrace):
		}
	} else {
		time.Sleep(killGrace)
	}
	syscall.Kill(pgid, syscall.SIGKILL)
}

func clampOutput(s string) string {
	if len(s) > maxBashOutput {
		return s[:maxBashOutput] + "\n... [output clipped]"
	}
	return s
}

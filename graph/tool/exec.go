package tool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// timeoutExitCode is reported when a script exceeds its time limit.
const timeoutExitCode = 124

// UnsafeCodeError is returned when submitted code fails a runtime's
// validation. Tool nodes report it as a policy violation.
type UnsafeCodeError struct {
	Language string
	Reason   string
}

func (e *UnsafeCodeError) Error() string {
	return fmt.Sprintf("exec tool: %s code rejected: %s", e.Language, e.Reason)
}

// Runtime describes how source code in one language is executed.
type Runtime struct {
	// Command is the interpreter and its flags; the script path is appended.
	Command []string

	// Ext is the script file extension, including the dot.
	Ext string

	// Prelude is prepended to the submitted code.
	Prelude string

	// Validate inspects the code before it is written to disk.
	Validate func(code string) error
}

// PythonRuntime runs code with an isolated python3 after a static check for
// blocked imports and builtins. The check catches accidents only; it is not
// a sandbox for untrusted code.
func PythonRuntime() Runtime {
	return Runtime{
		Command:  []string{"python3", "-I", "-B"},
		Ext:      ".py",
		Validate: ValidatePython,
	}
}

// JavaScriptRuntime runs code with node, shadowing the globals that reach
// the process, the module loader and the network.
func JavaScriptRuntime() Runtime {
	return Runtime{
		Command: []string{"node", "--disallow-code-generation-from-strings"},
		Ext:     ".mjs",
		Prelude: "const process = undefined;\nconst require = undefined;\nconst global = undefined;\nconst fetch = undefined;\n",
	}
}

var (
	pyImport = regexp.MustCompile(`(?m)^\s*(?:import\s+([\w.]+(?:\s*,\s*[\w.]+)*)|from\s+([\w.]+)\s+import)`)
	pyName   = regexp.MustCompile(`\b(__import__|eval|exec|open|compile|input|breakpoint|__builtins__|globals|locals|vars|dir|getattr|setattr|delattr|hasattr)\b`)
	pyAttr   = regexp.MustCompile(`\.\s*(__builtins__|__globals__|__code__)\b`)
	pySplit  = regexp.MustCompile(`\s*,\s*`)

	pyDeniedModules = map[string]bool{
		"os": true, "sys": true, "subprocess": true, "socket": true, "pathlib": true,
		"shutil": true, "http": true, "urllib": true, "requests": true, "importlib": true,
		"ctypes": true, "multiprocessing": true, "threading": true,
	}
)

// ValidatePython rejects imports of process, filesystem and network modules,
// reflective builtins and access to interpreter internals.
func ValidatePython(code string) error {
	for _, m := range pyImport.FindAllStringSubmatch(code, -1) {
		names := []string{m[2]}
		if m[1] != "" {
			names = pySplit.Split(m[1], -1)
		}
		for _, name := range names {
			root, _, _ := strings.Cut(name, ".")
			if pyDeniedModules[root] {
				return &UnsafeCodeError{Language: "python", Reason: "import blocked: " + name}
			}
		}
	}
	if m := pyAttr.FindStringSubmatch(code); m != nil {
		return &UnsafeCodeError{Language: "python", Reason: "attribute access blocked: " + m[1]}
	}
	if m := pyName.FindStringSubmatch(code); m != nil {
		return &UnsafeCodeError{Language: "python", Reason: "name blocked: " + m[1]}
	}
	return nil
}

// ExecTool runs a code snippet in a fresh temporary directory with an
// environment reduced to PATH.
//
// Input keys:
//   - "language" (string, required): a registered runtime name
//   - "code" (string, required)
//   - "timeout_seconds" (number): overrides the tool's default limit
//
// Output keys: "stdout", "stderr" (strings) and "exit_code" (int). A script
// that exits non-zero is not a tool failure; one that runs out of time
// reports exit code 124. Cancellation of ctx is returned as an error.
type ExecTool struct {
	runtimes map[string]Runtime
	timeout  time.Duration
}

// ExecOption configures an ExecTool.
type ExecOption func(*ExecTool)

// WithRuntime registers or replaces the runtime for language.
func WithRuntime(language string, rt Runtime) ExecOption {
	return func(t *ExecTool) { t.runtimes[language] = rt }
}

// WithExecTimeout sets the default per-call time limit.
func WithExecTimeout(d time.Duration) ExecOption {
	return func(t *ExecTool) { t.timeout = d }
}

// NewExecTool creates an ExecTool with the python and javascript runtimes
// and a 10s limit.
func NewExecTool(opts ...ExecOption) *ExecTool {
	t := &ExecTool{
		runtimes: map[string]Runtime{
			"python":     PythonRuntime(),
			"javascript": JavaScriptRuntime(),
		},
		timeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Name returns "code_exec".
func (t *ExecTool) Name() string {
	return "code_exec"
}

// Call validates and runs the code described by input.
func (t *ExecTool) Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	language, _ := input["language"].(string)
	rt, ok := t.runtimes[language]
	if !ok {
		return nil, fmt.Errorf("unsupported language: %q", language)
	}
	code, ok := input["code"].(string)
	if !ok || code == "" {
		return nil, fmt.Errorf("code parameter required (string)")
	}
	if len(rt.Command) == 0 {
		return nil, fmt.Errorf("runtime %q has no command", language)
	}
	if rt.Validate != nil {
		if err := rt.Validate(code); err != nil {
			return nil, err
		}
	}

	timeout := t.timeout
	if secs, ok := input["timeout_seconds"].(float64); ok && secs > 0 {
		timeout = time.Duration(secs * float64(time.Second))
	} else if secs, ok := input["timeout_seconds"].(int); ok && secs > 0 {
		timeout = time.Duration(secs) * time.Second
	}

	dir, err := os.MkdirTemp("", "flowstate-exec-")
	if err != nil {
		return nil, fmt.Errorf("failed to create work dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	script := filepath.Join(dir, "script"+rt.Ext)
	if err := os.WriteFile(script, []byte(rt.Prelude+code), 0o600); err != nil {
		return nil, fmt.Errorf("failed to write script: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append(append([]string(nil), rt.Command[1:]...), script)
	cmd := exec.CommandContext(runCtx, rt.Command[0], args...)
	cmd.Dir = dir
	cmd.Env = []string{"PATH=" + os.Getenv("PATH")}
	cmd.WaitDelay = time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return map[string]interface{}{
			"stdout":    "",
			"stderr":    fmt.Sprintf("execution timed out after %s", timeout),
			"exit_code": timeoutExitCode,
		}, nil
	}

	exitCode := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return nil, fmt.Errorf("failed to run %s: %w", rt.Command[0], runErr)
		}
		exitCode = exitErr.ExitCode()
	}

	return map[string]interface{}{
		"stdout":    truncate(stdout.Bytes()),
		"stderr":    truncate(stderr.Bytes()),
		"exit_code": exitCode,
	}, nil
}

func truncate(b []byte) string {
	if len(b) > maxResponseBytes {
		b = b[:maxResponseBytes]
	}
	return string(b)
}

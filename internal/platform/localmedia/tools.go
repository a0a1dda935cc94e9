package localmedia

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/brightmark/assignment-backend/internal/platform/ctxutil"
	"github.com/brightmark/assignment-backend/internal/platform/envutil"
	"github.com/brightmark/assignment-backend/internal/platform/logger"
)

// Tools wraps the system binaries the extraction and diagram pipelines
// shell out to.
//
// REQUIRED BINARIES in the runtime image:
// - pdftoppm / pdfinfo (poppler-utils) for PDF -> page images
// - python3 (with matplotlib + numpy) for generated render code
type Tools interface {
	AssertReady(ctx context.Context) error

	CountPDFPages(ctx context.Context, pdfPath string) (int, error)
	RenderPDFToImages(ctx context.Context, pdfPath string, outDir string, opts PDFRenderOptions) ([]string, error)

	// RunPythonRender executes generated plotting code in a scratch dir.
	// The code must write its output image to the path passed in argv[1].
	// Stdout+stderr are returned for self-repair prompting on failure.
	RunPythonRender(ctx context.Context, code string, outImagePath string) (combinedOutput string, err error)

	WriteTempFile(ctx context.Context, data []byte, suffix string) (string, func(), error)
	ScratchDir(prefix string) (string, func(), error)
}

type PDFRenderOptions struct {
	DPI       int
	Format    string // "png" or "jpeg"
	FirstPage int    // 1-based, 0 means default
	LastPage  int    // 1-based, 0 means default
}

type tools struct {
	log *logger.Logger

	pdftoppmPath string
	pdfinfoPath  string
	pythonPath   string

	workRoot string

	defaultTimeout time.Duration
	execTimeout    time.Duration
}

func New(log *logger.Logger) Tools {
	slog := log.With("service", "LocalMediaTools")
	return &tools{
		log:            slog,
		pdftoppmPath:   "pdftoppm",
		pdfinfoPath:    "pdfinfo",
		pythonPath:     "python3",
		workRoot:       "/tmp/assignment-media",
		defaultTimeout: 10 * time.Minute,
		execTimeout:    time.Duration(envutil.Int("RENDER_EXEC_TIMEOUT_SECONDS", 45)) * time.Second,
	}
}

func (m *tools) AssertReady(ctx context.Context) error {
	ctx = ctxutil.Default(ctx)
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	for _, bin := range []string{m.pdftoppmPath, m.pdfinfoPath, m.pythonPath} {
		if _, err := exec.LookPath(bin); err != nil {
			return fmt.Errorf("missing required binary %q in PATH: %w", bin, err)
		}
	}
	if err := os.MkdirAll(m.workRoot, 0o755); err != nil {
		return fmt.Errorf("create workRoot: %w", err)
	}
	return nil
}

func (m *tools) WriteTempFile(ctx context.Context, data []byte, suffix string) (string, func(), error) {
	_ = ctxutil.Default(ctx)
	if err := os.MkdirAll(m.workRoot, 0o755); err != nil {
		return "", func() {}, fmt.Errorf("mkdir workRoot: %w", err)
	}
	h := sha256.Sum256(data)
	base := hex.EncodeToString(h[:])[:16]
	if suffix != "" && !strings.HasPrefix(suffix, ".") {
		suffix = "." + suffix
	}
	path := filepath.Join(m.workRoot, fmt.Sprintf("%s%s", base, suffix))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", func() {}, fmt.Errorf("write temp file: %w", err)
	}
	cleanup := func() { _ = os.Remove(path) }
	return path, cleanup, nil
}

func (m *tools) ScratchDir(prefix string) (string, func(), error) {
	if err := os.MkdirAll(m.workRoot, 0o755); err != nil {
		return "", func() {}, fmt.Errorf("mkdir workRoot: %w", err)
	}
	dir, err := os.MkdirTemp(m.workRoot, prefix+"-*")
	if err != nil {
		return "", func() {}, fmt.Errorf("mkdir scratch: %w", err)
	}
	cleanup := func() { _ = os.RemoveAll(dir) }
	return dir, cleanup, nil
}

func (m *tools) CountPDFPages(ctx context.Context, pdfPath string) (int, error) {
	ctx = ctxutil.Default(ctx)
	if pdfPath == "" {
		return 0, fmt.Errorf("pdfPath required")
	}
	if _, err := exec.LookPath(m.pdfinfoPath); err != nil {
		return 0, fmt.Errorf("pdfinfo not found in PATH: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, m.pdfinfoPath, pdfPath)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return 0, fmt.Errorf("pdfinfo failed: %w; out=%s", err, string(out))
	}

	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "Pages:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		n, err := strconv.Atoi(fields[len(fields)-1])
		if err != nil || n <= 0 {
			continue
		}
		return n, nil
	}
	return 0, fmt.Errorf("pdfinfo output missing Pages field")
}

func (m *tools) RenderPDFToImages(ctx context.Context, pdfPath string, outDir string, opts PDFRenderOptions) ([]string, error) {
	ctx = ctxutil.Default(ctx)
	if pdfPath == "" {
		return nil, fmt.Errorf("pdfPath required")
	}
	if outDir == "" {
		return nil, fmt.Errorf("outDir required")
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir outDir: %w", err)
	}

	dpi := opts.DPI
	if dpi <= 0 {
		dpi = envutil.Int("PDF_RENDER_DPI", 200)
	}
	format := strings.ToLower(strings.TrimSpace(opts.Format))
	if format == "" {
		format = "png"
	}
	if format != "png" && format != "jpeg" && format != "jpg" {
		return nil, fmt.Errorf("unsupported render format: %s", format)
	}

	ctx, cancel := context.WithTimeout(ctx, m.defaultTimeout)
	defer cancel()

	prefix := filepath.Join(outDir, "page")
	args := []string{"-r", strconv.Itoa(dpi)}
	if format == "png" {
		args = append(args, "-png")
	} else {
		args = append(args, "-jpeg")
	}
	if opts.FirstPage > 0 {
		args = append(args, "-f", strconv.Itoa(opts.FirstPage))
	}
	if opts.LastPage > 0 {
		args = append(args, "-l", strconv.Itoa(opts.LastPage))
	}
	args = append(args, pdfPath, prefix)

	cmd := exec.CommandContext(ctx, m.pdftoppmPath, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("pdftoppm failed: %w; out=%s", err, string(out))
	}

	paths, err := globSorted(outDir, "^page-\\d+\\.(png|jpe?g)$")
	if err != nil || len(paths) == 0 {
		paths2, _ := globSorted(outDir, ".*\\.(png|jpe?g)$")
		if len(paths2) == 0 {
			return nil, fmt.Errorf("no images produced by pdftoppm; out=%s", string(out))
		}
		return paths2, nil
	}
	return paths, nil
}

func (m *tools) RunPythonRender(ctx context.Context, code string, outImagePath string) (string, error) {
	ctx = ctxutil.Default(ctx)
	if strings.TrimSpace(code) == "" {
		return "", fmt.Errorf("code required")
	}
	if outImagePath == "" {
		return "", fmt.Errorf("outImagePath required")
	}

	dir, cleanup, err := m.ScratchDir("render")
	if err != nil {
		return "", err
	}
	defer cleanup()

	scriptPath := filepath.Join(dir, "render.py")
	if err := os.WriteFile(scriptPath, []byte(code), 0o644); err != nil {
		return "", fmt.Errorf("write render script: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, m.execTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, m.pythonPath, "-I", scriptPath, outImagePath)
	cmd.Dir = dir
	// Headless matplotlib; no display, no user site-packages surprises.
	cmd.Env = append(os.Environ(), "MPLBACKEND=Agg", "PYTHONDONTWRITEBYTECODE=1")

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	runErr := cmd.Run()
	combined := buf.String()

	if ctx.Err() == context.DeadlineExceeded {
		return combined, fmt.Errorf("render code timed out after %s", m.execTimeout)
	}
	if runErr != nil {
		return combined, fmt.Errorf("render code exited with error: %w", runErr)
	}
	if info, statErr := os.Stat(outImagePath); statErr != nil || info.Size() == 0 {
		return combined, fmt.Errorf("render code produced no output image at %s", outImagePath)
	}
	return combined, nil
}

func globSorted(dir string, pattern string) ([]string, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	out := []string{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if re.MatchString(strings.ToLower(e.Name())) {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

package render

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/brightmark/assignment-backend/internal/platform/envutil"
)

const codeSystemPrompt = `You write short, self-contained Python plotting code for assignment diagrams. Rules: use only matplotlib and the standard library; save the figure to the path in sys.argv[1] with plt.savefig(sys.argv[1], dpi=150, bbox_inches="tight"); no plt.show(), no network, no file reads; draw only quantities stated in the description and leave anything the student must determine out of the figure. Reply with a single Python code block.`

var codeBlockRe = regexp.MustCompile("(?s)```(?:python|py)?\\s*(.*?)```")

// renderFromCode asks the model for plotting code and executes it in a
// sandboxed subprocess, feeding execution errors back for up to three
// self-repair iterations. Oversized responses are rejected as garbage
// rather than executed.
func (r *Renderer) renderFromCode(ctx context.Context, req Request) ([]byte, error) {
	maxBytes := envutil.Int("MAX_RENDER_CODE_BYTES", 6000)
	user := "Figure description:\n" + req.Description
	if g, ok := req.Args["guidance"].(string); ok && g != "" {
		user += "\n\nGuidance:\n" + g
	}

	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		reply, err := r.llm.GenerateText(ctx, codeSystemPrompt, user)
		if err != nil {
			return nil, fmt.Errorf("render code generation: %w", err)
		}
		code := extractCodeBlock(reply)
		if code == "" {
			lastErr = fmt.Errorf("reply contained no code block")
			user += "\n\nYour previous reply contained no code block. Reply with exactly one Python code block."
			continue
		}
		if len(code) > maxBytes {
			lastErr = fmt.Errorf("generated code too long (%d bytes)", len(code))
			user += fmt.Sprintf("\n\nYour previous code was %d bytes, far too long. Produce a minimal version.", len(code))
			continue
		}

		png, output, err := r.executeRenderCode(ctx, code)
		if err == nil {
			return png, nil
		}
		lastErr = err
		r.log.Warn("Render code execution failed", "attempt", attempt, "error", err.Error())
		user += fmt.Sprintf("\n\nYour previous code failed:\n%s\nOutput:\n%s\nFix the code and reply with the corrected code block.",
			err.Error(), tailLines(output, 12))
	}
	return nil, fmt.Errorf("render code failed after 3 attempts: %w", lastErr)
}

// executeRenderCode runs one snippet and reads back the produced image.
func (r *Renderer) executeRenderCode(ctx context.Context, code string) ([]byte, string, error) {
	dir, cleanup, err := r.tools.ScratchDir("render")
	if err != nil {
		return nil, "", err
	}
	defer cleanup()

	outPath := dir + "/figure.png"
	output, err := r.tools.RunPythonRender(ctx, code, outPath)
	if err != nil {
		return nil, output, err
	}
	png, err := os.ReadFile(outPath)
	if err != nil {
		return nil, output, fmt.Errorf("read rendered image: %w", err)
	}
	return png, output, nil
}

func extractCodeBlock(reply string) string {
	if m := codeBlockRe.FindStringSubmatch(reply); m != nil {
		return strings.TrimSpace(m[1])
	}
	// Whole-reply code is accepted when it looks like Python rather than
	// prose.
	trimmed := strings.TrimSpace(reply)
	if strings.Contains(trimmed, "import ") && !strings.Contains(trimmed, "```") {
		return trimmed
	}
	return ""
}

func tailLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

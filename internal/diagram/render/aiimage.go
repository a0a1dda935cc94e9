package render

import (
	"context"
	"fmt"
	"strings"
)

// renderAIImage generates one raster via the image model. Style guidance
// travels in Args under "style"; the retry/review loop around this call
// belongs to the agent, not the renderer.
func (r *Renderer) renderAIImage(ctx context.Context, req Request) ([]byte, error) {
	prompt := req.Description
	if style, ok := req.Args["style"].(string); ok && strings.TrimSpace(style) != "" {
		prompt = strings.TrimSpace(style) + "\n\n" + prompt
	}
	gen, err := r.llm.GenerateImage(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("ai image generation: %w", err)
	}
	if len(gen.Bytes) == 0 {
		return nil, fmt.Errorf("ai image generation returned no bytes")
	}
	return gen.Bytes, nil
}

package workflows

import (
	"math/rand"
	"strings"

	"github.com/lccanvas/canvasd/internal/core/domain"
)

// SingleControl is the resolved single-slot control state. Strength 0
// keeps the apply node wired but effectively disables guidance.
type SingleControl struct {
	Strength      float64
	ImageFilename string
}

// MultiControl pairs a slot selection with its uploaded filename.
type MultiControl struct {
	Selection     domain.ControlSelection
	ImageFilename string
}

// RandomSeed returns a non-negative seed for requests that omit one.
func RandomSeed() int64 {
	return rand.Int63()
}

// ComposePrompt merges the workflow's fixed style tokens with the user
// prompt. Token workflows dedupe case-insensitively with user tokens
// first; natural-template workflows keep the user text verbatim after
// the style trigger word.
func ComposePrompt(cfg *domain.WorkflowConfig, userPrompt string) string {
	user := strings.TrimSpace(userPrompt)
	style := strings.TrimSpace(cfg.StylePrompt)

	if cfg.NaturalTemplate() {
		switch {
		case style == "":
			return user
		case user == "":
			return style
		default:
			return style + ", " + user
		}
	}

	seen := make(map[string]bool)
	var merged []string
	for _, tok := range append(splitTokens(user), splitTokens(style)...) {
		key := strings.ToLower(tok)
		if seen[key] {
			continue
		}
		seen[key] = true
		merged = append(merged, tok)
	}
	return strings.Join(merged, ", ")
}

// BuildOverrides assembles the node override map for one submission.
// Only nodes the config names are touched; everything else in the graph
// passes through as authored.
func BuildOverrides(cfg *domain.WorkflowConfig, req domain.GenerateRequest, seed int64, control *SingleControl) map[string]any {
	overrides := make(map[string]any)

	composed := ComposePrompt(cfg, req.UserPrompt)
	if cfg.PromptNode != "" {
		key := cfg.PromptInputKey
		if key == "" {
			key = "text"
		}
		overrides[cfg.PromptNode] = nodeInputs(map[string]any{key: composed})
	} else if target := additionalPromptNode(cfg); target != "" {
		overrides[target] = nodeInputs(map[string]any{"text": composed})
	}

	if cfg.NegativePromptNode != "" {
		key := cfg.NegativePromptInputKey
		if key == "" {
			key = "text"
		}
		overrides[cfg.NegativePromptNode] = nodeInputs(map[string]any{key: cfg.NegativePrompt})
	}

	if cfg.SeedNode != "" {
		overrides[cfg.SeedNode] = nodeInputs(map[string]any{"seed": seed})
	}

	if cfg.LatentImageNode != "" {
		if size, ok := sizeFor(cfg, req.AspectRatio); ok {
			overrides[cfg.LatentImageNode] = nodeInputs(map[string]any{
				"width":  size.Width,
				"height": size.Height,
			})
		}
	}

	if cfg.ControlNet != nil && cfg.ControlNet.Enabled && control != nil {
		d := cfg.ControlNet.Defaults
		overrides[cfg.ControlNet.ApplyNode] = nodeInputs(map[string]any{
			"strength":      control.Strength,
			"start_percent": d.StartPercent,
			"end_percent":   d.EndPercent,
		})
		if control.ImageFilename != "" {
			overrides[cfg.ControlNet.ImageNode] = nodeInputs(map[string]any{"image": control.ImageFilename})
		}
	}

	applyLoras(overrides, cfg, req.Loras)

	return overrides
}

// ApplyMultiControls writes slot-addressed control overrides on top of
// BuildOverrides output. Unspecified weights fall back to the workflow
// defaults; everything is clamped to the slot's declared ranges.
func ApplyMultiControls(overrides map[string]any, cfg *domain.WorkflowConfig, controls []MultiControl) {
	if len(cfg.ControlSlots) == 0 {
		return
	}
	var defaults domain.ControlDefaults
	defaults.EndPercent = 0.33
	if cfg.ControlNet != nil {
		defaults = cfg.ControlNet.Defaults
	}
	for _, mc := range controls {
		slot, ok := cfg.ControlSlots[mc.Selection.Slot]
		if !ok {
			continue
		}
		strength := 1.0
		if mc.Selection.Strength != nil {
			strength = *mc.Selection.Strength
		}
		start := defaults.StartPercent
		if mc.Selection.StartPercent != nil {
			start = *mc.Selection.StartPercent
		}
		end := defaults.EndPercent
		if mc.Selection.EndPercent != nil {
			end = *mc.Selection.EndPercent
		}
		strength = clampRange(strength, slot.UI, "strength")
		start = clampRange(start, slot.UI, "start_percent")
		end = clampRange(end, slot.UI, "end_percent")

		if slot.ApplyNode != "" {
			overrides[slot.ApplyNode] = nodeInputs(map[string]any{
				"strength":      strength,
				"start_percent": start,
				"end_percent":   end,
			})
		}
		if slot.ImageNode != "" && mc.ImageFilename != "" {
			overrides[slot.ImageNode] = nodeInputs(map[string]any{"image": mc.ImageFilename})
		}
	}
}

// ApplyImageInput wires an uploaded reference image into an
// image-to-image workflow's load node.
func ApplyImageInput(overrides map[string]any, cfg *domain.WorkflowConfig, filename string) {
	if cfg.ImageInput == nil || cfg.ImageInput.ImageNode == "" || filename == "" {
		return
	}
	field := cfg.ImageInput.InputField
	if field == "" {
		field = "image"
	}
	overrides[cfg.ImageInput.ImageNode] = nodeInputs(map[string]any{field: filename})
}

func applyLoras(overrides map[string]any, cfg *domain.WorkflowConfig, selections []domain.LoraSelection) {
	if len(cfg.Loras) == 0 {
		return
	}
	for _, sel := range selections {
		slot, ok := cfg.Loras[sel.Slot]
		if !ok {
			continue
		}
		unet := slot.Defaults.Unet
		clip := slot.Defaults.Clip
		if sel.Value != nil {
			unet, clip = *sel.Value, *sel.Value
		}
		if sel.Unet != nil {
			unet = *sel.Unet
		}
		if sel.Clip != nil {
			clip = *sel.Clip
		}

		inputs := map[string]any{}
		inputs[slot.UnetInput] = clamp(unet, slot.Min, slot.Max)
		// ClipInput may alias UnetInput on model-only loaders.
		inputs[slot.ClipInput] = clamp(clip, slot.Min, slot.Max)
		if sel.Name != "" && slot.NameInput != "" {
			inputs[slot.NameInput] = sel.Name
		}
		overrides[slot.Node] = nodeInputs(inputs)
	}
}

func nodeInputs(inputs map[string]any) map[string]any {
	return map[string]any{"inputs": inputs}
}

func additionalPromptNode(cfg *domain.WorkflowConfig) string {
	if cfg.UI == nil {
		return ""
	}
	node, _ := cfg.UI["additionalPromptTargetNode"].(string)
	return node
}

// sizeFor resolves the latent size, falling back to square for aspect
// ratios the workflow does not declare.
func sizeFor(cfg *domain.WorkflowConfig, aspect string) (domain.Size, bool) {
	if s, ok := cfg.Sizes[aspect]; ok {
		return s, true
	}
	if s, ok := cfg.Sizes["square"]; ok {
		return s, true
	}
	return domain.Size{}, false
}

func clampRange(v float64, ranges map[string]domain.UIRange, key string) float64 {
	rng, ok := ranges[key]
	if !ok {
		return v
	}
	return clamp(v, rng.Min, rng.Max)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func splitTokens(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

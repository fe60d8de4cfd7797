package domain

import "errors"

// Size is a latent resolution in pixels.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ControlDefaults are the node values written when a control slot is
// left unconfigured by the client.
type ControlDefaults struct {
	Strength     float64 `json:"strength"`
	StartPercent float64 `json:"start_percent"`
	EndPercent   float64 `json:"end_percent"`
}

// ControlNetConfig maps the single-control path onto graph nodes.
type ControlNetConfig struct {
	Enabled   bool            `json:"enabled"`
	ApplyNode string          `json:"apply_node"`
	ImageNode string          `json:"image_node"`
	Defaults  ControlDefaults `json:"defaults"`
}

// UIRange bounds a slider exposed by the front-end.
type UIRange struct {
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Step    float64 `json:"step"`
	Default float64 `json:"default"`
}

// ControlSlot maps a named control input onto its apply/image nodes.
type ControlSlot struct {
	ApplyNode string             `json:"apply_node"`
	ImageNode string             `json:"image_node"`
	Label     string             `json:"label,omitempty"`
	Type      string             `json:"type,omitempty"`
	UI        map[string]UIRange `json:"ui,omitempty"`
}

// LoraDefaults are the strengths applied when the client omits a slot.
type LoraDefaults struct {
	Unet float64 `json:"unet"`
	Clip float64 `json:"clip"`
}

// LoraSlot maps a named LoRA slider onto a loader node. Graphs built on
// model-only loaders set ClipInput to the same key as UnetInput.
type LoraSlot struct {
	Node      string       `json:"node"`
	NameInput string       `json:"name_input"`
	UnetInput string       `json:"unet_input"`
	ClipInput string       `json:"clip_input"`
	Defaults  LoraDefaults `json:"defaults"`
	Min       float64      `json:"min"`
	Max       float64      `json:"max"`
	Step      float64      `json:"step"`
}

// ImageInput maps an image-to-image workflow's load node.
type ImageInput struct {
	ImageNode  string `json:"image_node"`
	InputField string `json:"input_field"`
}

// WorkflowConfig describes one generation recipe: node ids to override,
// fixed prompts, size presets, and UI hints the catalogue exposes as-is.
type WorkflowConfig struct {
	ID                     string                 `json:"id"`
	Hidden                 bool                   `json:"hidden,omitempty"`
	DisplayName            string                 `json:"display_name"`
	Description            string                 `json:"description"`
	DefaultUserPrompt      string                 `json:"default_user_prompt"`
	PromptNode             string                 `json:"prompt_node,omitempty"`
	NegativePromptNode     string                 `json:"negative_prompt_node,omitempty"`
	PromptInputKey         string                 `json:"prompt_input_key,omitempty"`
	NegativePromptInputKey string                 `json:"negative_prompt_input_key,omitempty"`
	SeedNode               string                 `json:"seed_node,omitempty"`
	LatentImageNode        string                 `json:"latent_image_node,omitempty"`
	StylePrompt            string                 `json:"style_prompt"`
	NegativePrompt         string                 `json:"negative_prompt"`
	RecommendedPrompt      string                 `json:"recommended_prompt,omitempty"`
	Sizes                  map[string]Size        `json:"sizes,omitempty"`
	ControlNet             *ControlNetConfig      `json:"controlnet,omitempty"`
	ControlSlots           map[string]ControlSlot `json:"control_slots,omitempty"`
	Loras                  map[string]LoraSlot    `json:"loras,omitempty"`
	LoraHint               map[string]string      `json:"lora_hint,omitempty"`
	ImageInput             *ImageInput            `json:"image_input,omitempty"`
	UI                     map[string]any         `json:"ui,omitempty"`
}

// TemplateNatural marks workflows whose prompt passes through verbatim.
const TemplateNatural = "natural"

// NaturalTemplate reports whether the workflow declares natural-language
// prompting, which bypasses the token merge.
func (w *WorkflowConfig) NaturalTemplate() bool {
	if w.UI == nil {
		return false
	}
	mode, _ := w.UI["templateMode"].(string)
	return mode == TemplateNatural
}

var ErrWorkflowNotFound = errors.New("workflow not found")

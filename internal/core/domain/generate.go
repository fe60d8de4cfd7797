package domain

// GenerateRequest is the recipe a client submits for one image.
// Node-level details (which graph node receives which value) live in the
// workflow config, not here.
type GenerateRequest struct {
	UserPrompt         string             `json:"user_prompt"`
	AspectRatio        string             `json:"aspect_ratio"`
	WorkflowID         string             `json:"workflow_id"`
	Seed               *int64             `json:"seed,omitempty"`
	InputImageID       string             `json:"input_image_id,omitempty"`
	InputImageFilename string             `json:"input_image_filename,omitempty"`
	ControlEnabled     bool               `json:"control_enabled,omitempty"`
	ControlImageID     string             `json:"control_image_id,omitempty"`
	Controls           []ControlSelection `json:"controls,omitempty"`
	Loras              []LoraSelection    `json:"loras,omitempty"`
	RmbgMaskBlur       *int               `json:"rmbg_mask_blur,omitempty"`
	RmbgMaskOffset     *int               `json:"rmbg_mask_offset,omitempty"`
}

// ControlSelection references one uploaded guide image and its weights.
type ControlSelection struct {
	Slot         string   `json:"slot"`
	ImageID      string   `json:"image_id"`
	Strength     *float64 `json:"strength,omitempty"`
	StartPercent *float64 `json:"start_percent,omitempty"`
	EndPercent   *float64 `json:"end_percent,omitempty"`
}

// LoraSelection carries per-slot LoRA strengths. A bare Value applies to
// both the UNet and CLIP keys; Unet/Clip override individually.
type LoraSelection struct {
	Slot  string   `json:"slot"`
	Name  string   `json:"name,omitempty"`
	Value *float64 `json:"value,omitempty"`
	Unet  *float64 `json:"unet,omitempty"`
	Clip  *float64 `json:"clip,omitempty"`
}

package workflows

import "github.com/lccanvas/canvasd/internal/core/domain"

// order fixes the catalogue order clients see.
var order = []string{
	"BasicWorkFlow_PixelArt",
	"BasicWorkFlow_MKStyle",
	"ILXL_Pixelator",
	"LOSstyle_Qwen",
	"LOSstyle_Qwen_ImageEdit",
}

var configs = map[string]*domain.WorkflowConfig{
	"BasicWorkFlow_PixelArt": {
		ID:                "BasicWorkFlow_PixelArt",
		DisplayName:       "픽셀 아트",
		Description:       "레트로 감성의 픽셀 아트 스타일 이미지를 생성합니다",
		DefaultUserPrompt: "1girl, solo, hanbok",

		PromptNode:         "6",
		NegativePromptNode: "7",
		SeedNode:           "3",
		LatentImageNode:    "5",

		StylePrompt:       "masterpiece, best quality, amazing quality, pixel_art",
		NegativePrompt:    "bad quality, worst quality, worst detail, sketch, censor, blurry, ugly",
		RecommendedPrompt: "1girl, solo, solid_oval_eyes, simple background",

		Sizes: map[string]domain.Size{
			"square":    {Width: 800, Height: 800},
			"landscape": {Width: 1024, Height: 576},
			"portrait":  {Width: 576, Height: 1024},
		},

		ControlNet: &domain.ControlNetConfig{
			Enabled:   true,
			ApplyNode: "23",
			ImageNode: "28",
			Defaults:  domain.ControlDefaults{Strength: 0, StartPercent: 0.0, EndPercent: 0.33},
		},
		ControlSlots: map[string]domain.ControlSlot{
			"default": {
				ApplyNode: "23",
				ImageNode: "28",
				Label:     "Scribble",
				Type:      "scribble",
				UI: map[string]domain.UIRange{
					"strength":      {Min: 0.0, Max: 1.5, Step: 0.05, Default: 0.0},
					"start_percent": {Min: 0.0, Max: 1.0, Step: 0.01, Default: 0.0},
					"end_percent":   {Min: 0.0, Max: 1.0, Step: 0.01, Default: 0.33},
				},
			},
		},

		UI: map[string]any{
			"showControlNet": true,
			"promptTemplates": []string{
				"1girl, solo, solid_oval_eyes, simple background",
				"chibi, full_body, simple background",
				"close-up, portrait, detailed eyes",
				"dynamic pose, action, motion lines",
				"fantasy armor, sword, standing",
				"cute, small animal companion",
			},
		},
	},

	"BasicWorkFlow_MKStyle": {
		ID:                "BasicWorkFlow_MKStyle",
		DisplayName:       "MK 스타일",
		Description:       "MK 스타일 템플릿 + 업스케일/리파인 + 얼굴 디테일러 적용",
		DefaultUserPrompt: "",

		PromptNode:         "6",
		NegativePromptNode: "7",
		SeedNode:           "3",
		LatentImageNode:    "5",

		StylePrompt:    "CQArt, masterpiece, best quality, amazing quality",
		NegativePrompt: "bad quality, worst quality, worst detail, signature",

		Sizes: map[string]domain.Size{
			"square":    {Width: 1024, Height: 1024},
			"landscape": {Width: 1344, Height: 768},
			"portrait":  {Width: 768, Height: 1344},
		},

		ControlNet: &domain.ControlNetConfig{
			Enabled:   true,
			ApplyNode: "23",
			ImageNode: "28",
			Defaults:  domain.ControlDefaults{Strength: 0, StartPercent: 0.0, EndPercent: 0.33},
		},
		ControlSlots: map[string]domain.ControlSlot{
			"default": {
				ApplyNode: "23",
				ImageNode: "28",
				Label:     "Scribble",
				Type:      "scribble",
				UI: map[string]domain.UIRange{
					"strength":      {Min: 0.0, Max: 1.5, Step: 0.05, Default: 0.0},
					"start_percent": {Min: 0.0, Max: 1.0, Step: 0.01, Default: 0.0},
					"end_percent":   {Min: 0.0, Max: 1.0, Step: 0.01, Default: 0.33},
				},
			},
		},

		UI: map[string]any{
			"showControlNet":    true,
			"showLora":          true,
			"showStyleLora":     true,
			"showCharacterLora": false,
		},

		// pysssss LoraLoader input keys
		Loras: map[string]domain.LoraSlot{
			"character": {
				Node:      "14",
				NameInput: "lora_name",
				UnetInput: "strength_model",
				ClipInput: "strength_clip",
				Defaults:  domain.LoraDefaults{Unet: 0.0, Clip: 0.0},
				Min:       0.0,
				Max:       1.5,
				Step:      0.05,
			},
			"style": {
				Node:      "42",
				NameInput: "lora_name",
				UnetInput: "strength_model",
				ClipInput: "strength_clip",
				Defaults:  domain.LoraDefaults{Unet: 0.8, Clip: 0.8},
				Min:       0.0,
				Max:       1.5,
				Step:      0.05,
			},
		},
		LoraHint: map[string]string{
			"style":     "강도가 높아질 수록 민국님 그림체에 점점 더 가까워집니다. 강도가 낮아질수록 모델 잠재력이 높아집니다",
			"character": "",
		},
	},

	"ILXL_Pixelator": {
		ID:                "ILXL_Pixelator",
		DisplayName:       "픽셀레이터(입력 이미지 변환)",
		Description:       "입력 이미지를 픽셀 아트 스타일로 변환합니다(자동 태깅 고정).",
		DefaultUserPrompt: "",

		ImageInput: &domain.ImageInput{ImageNode: "32", InputField: "image"},
		SeedNode:   "3",

		Sizes: map[string]domain.Size{
			"square": {Width: 800, Height: 800},
		},

		StylePrompt: "masterpiece, best quality, amazing quality, 4k, very aesthetic, ultra-detailed, (pixel art, dithering, pixelated, sprite art, 8-bit:1.2)",

		UI: map[string]any{
			"showAutoTagsReadOnly":       true,
			"showSystemPromptReadOnly":   true,
			"showNegative":               false,
			"aspectOptions":              []string{"square"},
			"additionalPromptTargetNode": "63",
			"showControlNet":             false,
		},
	},

	"LOSstyle_Qwen": {
		ID:                "LOSstyle_Qwen",
		DisplayName:       "LOS 스타일",
		Description:       "Qwen 이미지 베이스 + Lightning LoRA 고정, 스타일 LoRA 조절형(컨트롤넷 없음)",
		DefaultUserPrompt: "짧은 갈색 머리에 노란 코트를 입은 귀엽고 스타일화된 소녀가 어두운 아늑한 도서관에서 커다랗고 미소 짓는 파란 슬라임을 안고 있는 장면. 오래된 책들로 가득한 높은 나무 책장과 타일 바닥이 보이는 실내 일러스트로, 캐릭터와 마스코트의 친밀한 분위기를 강조해 주세요. 카메라는 위쪽에서 내려다보는 시점입니다.",

		PromptNode:         "6",
		NegativePromptNode: "7",
		SeedNode:           "3",
		LatentImageNode:    "58",

		StylePrompt:    "LOSart",
		NegativePrompt: "",

		Sizes: map[string]domain.Size{
			"square":    {Width: 1280, Height: 1280},
			"landscape": {Width: 1280, Height: 720},
			"portrait":  {Width: 720, Height: 1280},
		},

		UI: map[string]any{
			"showControlNet":    false,
			"showLora":          true,
			"showStyleLora":     true,
			"showCharacterLora": false,
			"templateMode":      "natural",
			"related":           map[string]any{"img2img": "LOSstyle_Qwen_ImageEdit"},
		},

		// Qwen graphs use LoraLoaderModelOnly, so there is no
		// strength_clip input; clip maps onto strength_model too.
		Loras: map[string]domain.LoraSlot{
			"style": {
				Node:      "75",
				NameInput: "lora_name",
				UnetInput: "strength_model",
				ClipInput: "strength_model",
				Defaults:  domain.LoraDefaults{Unet: 1.0, Clip: 1.0},
				Min:       0.0,
				Max:       1.5,
				Step:      0.05,
			},
			"character": {
				Node:      "76",
				NameInput: "lora_name",
				UnetInput: "strength_model",
				ClipInput: "strength_model",
				Defaults:  domain.LoraDefaults{Unet: 0.0, Clip: 0.0},
				Min:       0.0,
				Max:       1.5,
				Step:      0.05,
			},
		},
		LoraHint: map[string]string{
			"style":     "강도를 높일수록 LOS 스타일 성향이 강해집니다.",
			"character": "캐릭터 LoRA는 현재 숨김 상태입니다. 필요 시만 사용하세요.",
		},
	},

	"LOSstyle_Qwen_ImageEdit": {
		ID:                "LOSstyle_Qwen_ImageEdit",
		Hidden:            true,
		DisplayName:       "LOS 스타일 — 편집",
		Description:       "LOS 스타일 원본을 기반으로 입력 이미지를 편집합니다.",
		DefaultUserPrompt: "이미지에서 파란 슬라임을 제거하고, 강아지로 교체해 주세요.",

		PromptNode:             "111",
		NegativePromptNode:     "110",
		PromptInputKey:         "prompt",
		NegativePromptInputKey: "prompt",

		SeedNode:   "3",
		ImageInput: &domain.ImageInput{ImageNode: "78", InputField: "image"},

		StylePrompt:    "",
		NegativePrompt: "",

		Loras: map[string]domain.LoraSlot{
			"style": {
				Node:      "389",
				NameInput: "lora_name",
				UnetInput: "strength_model",
				ClipInput: "strength_model",
				Defaults:  domain.LoraDefaults{Unet: 1.0, Clip: 1.0},
				Min:       0.0,
				Max:       1.5,
				Step:      0.05,
			},
		},

		UI: map[string]any{
			"showControlNet":    false,
			"showLora":          true,
			"showStyleLora":     true,
			"showCharacterLora": false,
			"templateMode":      "natural",
			"disableAspect":     true,
		},
	},
}

package chat

import "os"

// Gemini Model IDs
//
// | Model Name                  | API Model ID                | Use Case                      |
// |-----------------------------|-----------------------------|-------------------------------|
// | Gemini 3 Flash (Preview)    | gemini-3-flash-preview      | Best for speed + intelligence |
// | Gemini 2.5 Pro              | gemini-2.5-pro              | Stable, high-reasoning tasks  |
// | Gemini 2.5 Flash            | gemini-2.5-flash            | Stable, balanced performance  |
// | Gemini 2.5 Flash Image      | gemini-2.5-flash-image      | Fast image generation         |
// | Gemini 3 Pro Image          | gemini-3-pro-image-preview  | Advanced image generation     |
const (
	// ModelGemini3FlashPreview is best for speed + intelligence.
	ModelGemini3FlashPreview = "gemini-3-flash-preview"

	// ModelGemini25Pro is stable, for high-reasoning tasks.
	ModelGemini25Pro = "gemini-2.5-pro"

	// ModelGemini25Flash is stable, balanced performance.
	ModelGemini25Flash = "gemini-2.5-flash"

	// ModelGemini25FlashImage is fast image generation.
	ModelGemini25FlashImage = "gemini-2.5-flash-image"

	// ModelGemini3ProImage is for advanced image generation.
	ModelGemini3ProImage = "gemini-3-pro-image-preview"
)

const (
	// DefaultTextModel drives outline, slide and regeneration calls.
	DefaultTextModel = ModelGemini25Flash
	// DefaultImageModel produces slide illustrations.
	DefaultImageModel = ModelGemini25FlashImage
)

// GetTextModel returns the text model, resolved from DECK_TEXT_MODEL, then
// GEMINI_MODEL, then DefaultTextModel.
func GetTextModel() string {
	if env := os.Getenv("DECK_TEXT_MODEL"); env != "" {
		return env
	}
	if env := os.Getenv("GEMINI_MODEL"); env != "" {
		return env
	}
	return DefaultTextModel
}

// GetImageModel returns the image model, resolved from DECK_IMAGE_MODEL or DefaultImageModel.
func GetImageModel() string {
	if env := os.Getenv("DECK_IMAGE_MODEL"); env != "" {
		return env
	}
	return DefaultImageModel
}

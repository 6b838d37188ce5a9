package pdf

// TextOnly returns an engine for page-text tests that need no license key.
func TextOnly(text TextEngine) *Engine { return &Engine{text: text} }

package config

// sttLanguageTags maps spoken-language names used in participant
// attributes to the BCP-47 tags the speech backend expects.
var sttLanguageTags = map[string]string{
	"english":    "en",
	"french":     "fr",
	"spanish":    "es",
	"german":     "de",
	"italian":    "it",
	"portuguese": "pt",
	"dutch":      "nl",
	"japanese":   "ja",
	"korean":     "ko",
	"chinese":    "zh",
}

// STTLanguageTag returns the speech-backend tag for the configured source
// language, falling back to English for unknown names.
func (c *Config) STTLanguageTag() string {
	if tag, ok := sttLanguageTags[c.SourceLanguage]; ok {
		return tag
	}
	return "en"
}

// Package gemini holds the shared generateContent wire schema and HTTP
// client used by the speech-to-text, language-model, and text-to-speech
// services. The API uses camelCase field names.
package gemini

// Content is one conversational turn.
type Content struct {
	Role  string `json:"role,omitempty"` // "user" or "model"
	Parts []Part `json:"parts"`
}

// Part is a single piece of a turn: text or inline binary data.
type Part struct {
	Text       string `json:"text,omitempty"`
	InlineData *Blob  `json:"inlineData,omitempty"`
}

// Blob carries base64-encoded binary data with its mime type.
type Blob struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

// SpeechConfig selects the synthesis voice.
type SpeechConfig struct {
	VoiceConfig *VoiceConfig `json:"voiceConfig,omitempty"`
}

type VoiceConfig struct {
	PrebuiltVoiceConfig *PrebuiltVoiceConfig `json:"prebuiltVoiceConfig,omitempty"`
}

type PrebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

// GenerationConfig tunes a generateContent call.
type GenerationConfig struct {
	Temperature        *float64      `json:"temperature,omitempty"`
	ResponseModalities []string      `json:"responseModalities,omitempty"`
	SpeechConfig       *SpeechConfig `json:"speechConfig,omitempty"`
}

// GenerateContentRequest is the request body for models/<model>:generateContent.
type GenerateContentRequest struct {
	Contents         []Content         `json:"contents"`
	GenerationConfig *GenerationConfig `json:"generationConfig,omitempty"`
}

// GenerateContentResponse is the response body.
type GenerateContentResponse struct {
	Candidates []Candidate `json:"candidates"`
}

type Candidate struct {
	Content      Content `json:"content"`
	FinishReason string  `json:"finishReason,omitempty"`
}

// apiError is the error envelope the API returns on non-2xx status.
type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Float64 returns a pointer to v, for optional config fields.
func Float64(v float64) *float64 {
	return &v
}

// FirstText returns the text of the first text part of the first candidate,
// or "" when the response carries none.
func (r *GenerateContentResponse) FirstText() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	for _, part := range r.Candidates[0].Content.Parts {
		if part.Text != "" {
			return part.Text
		}
	}
	return ""
}

// FirstInlineData returns the first inline data part of the first candidate,
// or nil when the response carries none.
func (r *GenerateContentResponse) FirstInlineData() *Blob {
	if len(r.Candidates) == 0 {
		return nil
	}
	for _, part := range r.Candidates[0].Content.Parts {
		if part.InlineData != nil {
			return part.InlineData
		}
	}
	return nil
}

package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	texttospeech "cloud.google.com/go/texttospeech/apiv1"
	"cloud.google.com/go/texttospeech/apiv1/texttospeechpb"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
)

// GCPClient is the subset of the Cloud TTS client the provider calls.
type GCPClient interface {
	ListVoices(ctx context.Context, req *texttospeechpb.ListVoicesRequest, opts ...grpc.CallOption) (*texttospeechpb.ListVoicesResponse, error)
	SynthesizeSpeech(ctx context.Context, req *texttospeechpb.SynthesizeSpeechRequest, opts ...grpc.CallOption) (*texttospeechpb.SynthesizeSpeechResponse, error)
	Close() error
}

// gcpClient adapts the generated client, whose methods take gax options.
type gcpClient struct {
	client *texttospeech.Client
}

func (c *gcpClient) ListVoices(ctx context.Context, req *texttospeechpb.ListVoicesRequest, _ ...grpc.CallOption) (*texttospeechpb.ListVoicesResponse, error) {
	return c.client.ListVoices(ctx, req)
}

func (c *gcpClient) SynthesizeSpeech(ctx context.Context, req *texttospeechpb.SynthesizeSpeechRequest, _ ...grpc.CallOption) (*texttospeechpb.SynthesizeSpeechResponse, error) {
	return c.client.SynthesizeSpeech(ctx, req)
}

func (c *gcpClient) Close() error {
	return c.client.Close()
}

// GCPProvider implements the Provider interface for Google Cloud Text-to-Speech.
// Voice configurations returned by the generation API use Cloud TTS names, so
// every field maps directly onto the request.
type GCPProvider struct {
	client    GCPClient
	projectID string
	voice     string
	language  string
}

// GCPProviderOption is a functional option for configuring GCPProvider
type GCPProviderOption func(*GCPProvider)

// WithGCPProjectID sets the Google Cloud project ID
func WithGCPProjectID(projectID string) GCPProviderOption {
	return func(p *GCPProvider) {
		p.projectID = projectID
	}
}

// WithGCPVoice sets the default voice
func WithGCPVoice(voice string) GCPProviderOption {
	return func(p *GCPProvider) {
		p.voice = voice
	}
}

// WithGCPLanguage sets the default language code
func WithGCPLanguage(language string) GCPProviderOption {
	return func(p *GCPProvider) {
		p.language = language
	}
}

// WithGCPClient replaces the Cloud TTS client.
func WithGCPClient(client GCPClient) GCPProviderOption {
	return func(p *GCPProvider) {
		p.client = client
	}
}

// NewGCPProvider creates a new Google Cloud TTS provider.
// Authentication is handled via GOOGLE_APPLICATION_CREDENTIALS or
// Application Default Credentials (ADC) unless a client is supplied.
func NewGCPProvider(ctx context.Context, opts ...GCPProviderOption) (*GCPProvider, error) {
	p := &GCPProvider{
		voice:    "en-US-Neural2-D",
		language: "en-US",
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.client == nil {
		client, err := texttospeech.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create GCP TTS client: %w", err)
		}
		p.client = &gcpClient{client: client}
	}

	log.Debug().Str("project", p.projectID).Str("voice", p.voice).Msg("Created GCP TTS provider")
	return p, nil
}

// Name returns the provider name
func (p *GCPProvider) Name() string {
	return "gcp"
}

// ListVoices returns available voices from Google Cloud TTS
func (p *GCPProvider) ListVoices(ctx context.Context) ([]Voice, error) {
	resp, err := p.client.ListVoices(ctx, &texttospeechpb.ListVoicesRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to list GCP voices: %w", err)
	}

	var voices []Voice
	for _, v := range resp.Voices {
		for _, langCode := range v.LanguageCodes {
			voices = append(voices, Voice{
				ID:          v.Name,
				Name:        v.Name,
				Language:    langCode,
				Gender:      genderLabel(v.SsmlGender),
				Description: fmt.Sprintf("%s voice (%s)", detectEngineType(v.Name), strings.Join(v.LanguageCodes, ", ")),
			})
		}
	}

	log.Debug().Int("count", len(voices)).Msg("Listed GCP TTS voices")
	return voices, nil
}

func genderLabel(g texttospeechpb.SsmlVoiceGender) string {
	switch g {
	case texttospeechpb.SsmlVoiceGender_MALE:
		return "male"
	case texttospeechpb.SsmlVoiceGender_FEMALE:
		return "female"
	case texttospeechpb.SsmlVoiceGender_NEUTRAL:
		return "neutral"
	default:
		return "unknown"
	}
}

// detectEngineType determines the voice family from a Cloud TTS voice name
func detectEngineType(voiceName string) string {
	name := strings.ToLower(voiceName)
	switch {
	case strings.Contains(name, "wavenet"):
		return "WaveNet"
	case strings.Contains(name, "neural2"):
		return "Neural2"
	case strings.Contains(name, "studio"):
		return "Studio"
	case strings.Contains(name, "journey"):
		return "Journey"
	case strings.Contains(name, "polyglot"):
		return "Polyglot"
	case strings.Contains(name, "news"):
		return "News"
	case strings.Contains(name, "casual"):
		return "Casual"
	default:
		return "Standard"
	}
}

// Synthesize generates audio from text using Google Cloud TTS
func (p *GCPProvider) Synthesize(ctx context.Context, text string, options SynthesizeOptions) (io.ReadCloser, error) {
	if text == "" {
		return nil, fmt.Errorf("text cannot be empty")
	}

	voice := p.voice
	if options.Voice != "" {
		voice = options.Voice
	}

	language := p.language
	if options.Language != "" {
		language = options.Language
	} else if lang := languageFromVoice(voice); lang != "" {
		language = lang
	}

	var input *texttospeechpb.SynthesisInput
	if isSSML(text) {
		input = &texttospeechpb.SynthesisInput{
			InputSource: &texttospeechpb.SynthesisInput_Ssml{Ssml: text},
		}
		log.Debug().Msg("Using SSML input for GCP TTS")
	} else {
		input = &texttospeechpb.SynthesisInput{
			InputSource: &texttospeechpb.SynthesisInput_Text{Text: text},
		}
	}

	req := &texttospeechpb.SynthesizeSpeechRequest{
		Input: input,
		Voice: &texttospeechpb.VoiceSelectionParams{
			LanguageCode: language,
			Name:         voice,
			SsmlGender:   ssmlGender(options.Gender),
		},
		AudioConfig: &texttospeechpb.AudioConfig{
			AudioEncoding:   getAudioEncoding(options.Format),
			SpeakingRate:    getSpeakingRate(options.Speed),
			Pitch:           getPitch(options.Pitch),
			SampleRateHertz: getSampleRate(options.SampleRate),
		},
	}

	log.Debug().
		Str("voice", voice).
		Str("language", language).
		Str("format", options.Format).
		Float64("speed", options.Speed).
		Float64("pitch", options.Pitch).
		Msg("Making GCP TTS synthesis request")

	resp, err := p.client.SynthesizeSpeech(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to synthesize speech: %w", err)
	}

	log.Debug().Int("audio_bytes", len(resp.AudioContent)).Msg("GCP TTS synthesis successful")
	return io.NopCloser(bytes.NewReader(resp.AudioContent)), nil
}

// languageFromVoice extracts the language from a voice name (en-US-Neural2-D -> en-US)
func languageFromVoice(voice string) string {
	parts := strings.Split(voice, "-")
	if len(parts) >= 2 {
		return parts[0] + "-" + parts[1]
	}
	return ""
}

// isSSML checks if the text contains SSML tags
func isSSML(text string) bool {
	trimmed := strings.TrimSpace(text)
	return strings.HasPrefix(trimmed, "<speak") ||
		strings.Contains(trimmed, "<prosody") ||
		strings.Contains(trimmed, "<break") ||
		strings.Contains(trimmed, "<emphasis")
}

func ssmlGender(gender string) texttospeechpb.SsmlVoiceGender {
	switch strings.ToUpper(gender) {
	case "MALE":
		return texttospeechpb.SsmlVoiceGender_MALE
	case "FEMALE":
		return texttospeechpb.SsmlVoiceGender_FEMALE
	case "NEUTRAL":
		return texttospeechpb.SsmlVoiceGender_NEUTRAL
	default:
		return texttospeechpb.SsmlVoiceGender_SSML_VOICE_GENDER_UNSPECIFIED
	}
}

// getAudioEncoding converts format string to GCP audio encoding
func getAudioEncoding(format string) texttospeechpb.AudioEncoding {
	switch strings.ToLower(format) {
	case "wav", "linear16":
		return texttospeechpb.AudioEncoding_LINEAR16
	case "ogg", "ogg_opus":
		return texttospeechpb.AudioEncoding_OGG_OPUS
	case "mulaw":
		return texttospeechpb.AudioEncoding_MULAW
	case "alaw":
		return texttospeechpb.AudioEncoding_ALAW
	default:
		return texttospeechpb.AudioEncoding_MP3
	}
}

// getSpeakingRate clamps speed to the GCP speaking rate range (0.25 to 4.0)
func getSpeakingRate(speed float64) float64 {
	switch {
	case speed <= 0:
		return 1.0
	case speed < 0.25:
		return 0.25
	case speed > 4.0:
		return 4.0
	default:
		return speed
	}
}

// getPitch clamps pitch to the GCP range (-20 to 20 semitones)
func getPitch(pitch float64) float64 {
	switch {
	case pitch < -20:
		return -20
	case pitch > 20:
		return 20
	default:
		return pitch
	}
}

// getSampleRate returns the sample rate in Hz, 0 for the voice default
func getSampleRate(sampleRate string) int32 {
	switch sampleRate {
	case "8000":
		return 8000
	case "16000":
		return 16000
	case "22050":
		return 22050
	case "24000":
		return 24000
	case "32000":
		return 32000
	case "44100":
		return 44100
	case "48000":
		return 48000
	default:
		return 0
	}
}

// IsAvailable checks if the GCP TTS service is available
func (p *GCPProvider) IsAvailable(ctx context.Context) bool {
	_, err := p.client.ListVoices(ctx, &texttospeechpb.ListVoicesRequest{LanguageCode: p.language})
	return err == nil
}

// Close closes the GCP client
func (p *GCPProvider) Close() error {
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}

package builtin

import (
	"context"
	"os"

	"github.com/harun/tandem/pkg/tools"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultGroqBaseURL is Groq's OpenAI-compatible endpoint.
const DefaultGroqBaseURL = "https://api.groq.com/openai/v1"

const whisperModel = "whisper-large-v3"

// TranscribeAudio transcribes an audio file with Whisper on Groq.
func TranscribeAudio(apiKey, baseURL string) tools.Descriptor {
	if baseURL == "" {
		baseURL = DefaultGroqBaseURL
	}
	return tools.Descriptor{
		Name: "transcribe_audio",
		Description: "Transcribe an audio file (voice note, recording) to text using Whisper. " +
			"Use this when the user sends a voice message, or when you need to read the content of an audio file.",
		Kind: tools.KindRead,
		Parameters: []tools.Parameter{
			{Name: "file_path", Type: "string", Description: "Path to the audio file. Accepts .mp3, .mp4, .m4a, .wav, .ogg, .flac, .webm.", Required: true},
		},
		Handler: func(ctx context.Context, inv tools.Invocation) tools.Result {
			if apiKey == "" {
				return tools.Failure("GROQ_API_KEY is not configured")
			}

			path := resolvePath(inv.WorkingDir, inv.String("file_path", ""))
			f, err := os.Open(path)
			if err != nil {
				if os.IsNotExist(err) {
					return tools.Failure("audio file not found: %s", path)
				}
				return tools.Failure("failed to open audio file: %v", err)
			}
			defer f.Close()

			client := openai.NewClient(
				option.WithAPIKey(apiKey),
				option.WithBaseURL(baseURL),
				option.WithMaxRetries(1),
			)
			transcription, err := client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
				File:        f,
				Model:       openai.AudioModel(whisperModel),
				Temperature: openai.Float(0),
			})
			if err != nil {
				return tools.Failure("transcription failed: %v", err)
			}
			return tools.Success(transcription.Text).WithMetadata("file", path)
		},
	}
}

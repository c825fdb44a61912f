package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rahul/switchboard/internal/observability"
)

const defaultOpenAIBase = "https://api.openai.com/v1"

// Whisper transcribes audio files through an OpenAI-compatible
// /audio/transcriptions endpoint.
type Whisper struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
	logger  *observability.Logger
}

func NewWhisper(apiKey, baseURL, model string, logger *observability.Logger) *Whisper {
	if baseURL == "" {
		baseURL = defaultOpenAIBase
	}
	if model == "" {
		model = "whisper-1"
	}
	return &Whisper{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: 60 * time.Second},
		logger:  logger.With("whisper"),
	}
}

func (w *Whisper) Transcribe(ctx context.Context, audioPath string) (string, error) {
	if w.apiKey == "" {
		return "", fmt.Errorf("speech input API key not configured")
	}
	audio, err := os.ReadFile(audioPath)
	if err != nil {
		return "", fmt.Errorf("failed to read audio: %w", err)
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("failed to write audio data: %w", err)
	}
	if err := writer.WriteField("model", w.model); err != nil {
		return "", fmt.Errorf("failed to write model field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.baseURL+"/audio/transcriptions", &buf)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+w.apiKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	start := time.Now()
	resp, err := w.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcription request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("transcription API error (%d): %s", resp.StatusCode, string(body))
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	w.logger.Debug(fmt.Sprintf("transcribed %s in %s", filepath.Base(audioPath), time.Since(start)))
	return result.Text, nil
}

// Speaker renders text to mp3 files through an OpenAI-compatible
// /audio/speech endpoint.
type Speaker struct {
	apiKey  string
	baseURL string
	model   string
	voice   string
	outDir  string
	client  *http.Client
	logger  *observability.Logger
}

func NewSpeaker(apiKey, baseURL, model, voice, outDir string, logger *observability.Logger) *Speaker {
	if baseURL == "" {
		baseURL = defaultOpenAIBase
	}
	if model == "" {
		model = "tts-1"
	}
	if voice == "" {
		voice = "alloy"
	}
	return &Speaker{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		voice:   voice,
		outDir:  outDir,
		client:  &http.Client{Timeout: 60 * time.Second},
		logger:  logger.With("tts"),
	}
}

type speechRequest struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	Voice          string `json:"voice"`
	ResponseFormat string `json:"response_format,omitempty"`
}

func (s *Speaker) Synthesize(ctx context.Context, text string) (string, error) {
	if s.apiKey == "" {
		return "", fmt.Errorf("speech output API key not configured")
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("nothing to speak")
	}

	body, err := json.Marshal(speechRequest{Model: s.model, Input: text, Voice: s.voice, ResponseFormat: "mp3"})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/audio/speech", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("speech API error (%d): %s", resp.StatusCode, string(msg))
	}

	if err := os.MkdirAll(s.outDir, 0755); err != nil {
		return "", fmt.Errorf("create audio dir: %w", err)
	}
	path := filepath.Join(s.outDir, uuid.NewString()+".mp3")
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create audio file: %w", err)
	}
	defer f.Close()
	n, err := io.Copy(f, resp.Body)
	if err != nil {
		return "", fmt.Errorf("write audio: %w", err)
	}
	s.logger.Debug(fmt.Sprintf("synthesized %d bytes to %s", n, path))
	return path, nil
}

package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	config "github.com/openscribe/backend/config/transcription"
	"github.com/openscribe/backend/services/transcription/entity"
)

// HTTPEngine talks to a local whisper inference server.
//
// The loaded model is a process-wide resource shared read-only by all
// sessions. Model swaps are serialized behind the write lock, so a
// session requesting a different model never corrupts inference calls
// running for other sessions; it waits for them to drain instead.
type HTTPEngine struct {
	baseURL    string
	httpClient *http.Client
	log        *slog.Logger

	mu     sync.RWMutex
	loaded string
}

func NewHTTP(cfg *config.EngineConfig) *HTTPEngine {
	log := slog.Default()
	log.Debug("creating engine client", slog.String("base_url", cfg.URL))
	return &HTTPEngine{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		httpClient: &http.Client{},
		log:        log,
	}
}

type loadModelRequest struct {
	Model string `json:"model"`
}

func (e *HTTPEngine) EnsureModel(ctx context.Context, modelID string, progress func(ProgressEvent)) error {
	e.mu.RLock()
	already := e.loaded == modelID
	e.mu.RUnlock()
	if already {
		if progress != nil {
			progress(ProgressEvent{Stage: StageReady, Message: "Model already loaded"})
		}
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.loaded == modelID {
		if progress != nil {
			progress(ProgressEvent{Stage: StageReady, Message: "Model already loaded"})
		}
		return nil
	}

	if progress != nil {
		progress(ProgressEvent{Stage: StageDownloading, Message: fmt.Sprintf("Preparing model %s...", modelID)})
	}

	// The load call blocks server-side while the model downloads; keep
	// the client informed on a fixed heartbeat in the meantime.
	done := make(chan struct{})
	if progress != nil {
		go func() {
			started := time.Now()
			ticker := time.NewTicker(3 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					elapsed := int(time.Since(started).Seconds())
					progress(ProgressEvent{
						Stage:   StageDownloading,
						Message: fmt.Sprintf("Downloading model... (%ds elapsed)", elapsed),
					})
				}
			}
		}()
	}

	err := e.loadModel(ctx, modelID)
	close(done)
	if err != nil {
		return fmt.Errorf("%w: %v", entity.ErrModelLoad, err)
	}

	e.loaded = modelID
	e.log.Info("model loaded", slog.String("model", modelID))
	if progress != nil {
		progress(ProgressEvent{Stage: StageReady, Message: fmt.Sprintf("Model %s loaded and verified", modelID)})
	}
	return nil
}

func (e *HTTPEngine) loadModel(ctx context.Context, modelID string) error {
	body, err := json.Marshal(loadModelRequest{Model: modelID})
	if err != nil {
		return fmt.Errorf("marshal load request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/v1/models/load", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build load request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("load model request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(payload))
	}
	return nil
}

type transcribeResponse struct {
	Segments []entity.Segment `json:"segments"`
}

func (e *HTTPEngine) Transcribe(ctx context.Context, wavPath string, language *string) ([]entity.Segment, error) {
	// Read lock: inference shares the loaded model, swaps wait.
	e.mu.RLock()
	defer e.mu.RUnlock()

	f, err := os.Open(wavPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open wav: %v", entity.ErrInference, err)
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(wavPath))
	if err != nil {
		return nil, fmt.Errorf("%w: build form: %v", entity.ErrInference, err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("%w: read wav: %v", entity.ErrInference, err)
	}
	if language != nil && *language != "" {
		mw.WriteField("language", *language)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("%w: close form: %v", entity.ErrInference, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/v1/transcribe", &buf)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", entity.ErrInference, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", entity.ErrInference, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: status %d: %s", entity.ErrInference, resp.StatusCode, string(payload))
	}

	var result transcribeResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", entity.ErrInference, err)
	}

	e.log.Debug("transcription pass completed",
		slog.String("wav", wavPath),
		slog.Int("segments", len(result.Segments)))
	return result.Segments, nil
}

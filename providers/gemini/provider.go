// Package gemini runs try-on generation in-process against the Gemini image
// model and exposes it through the asynchronous submit/status contract.
package gemini

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/raushankrgupta/tryon-orchestrator/models"
	"github.com/raushankrgupta/tryon-orchestrator/utils"
	"github.com/sirupsen/logrus"
)

var (
	ErrUnsupportedKind = errors.New("gemini provider only generates images")
	ErrUnknownTask     = errors.New("unknown task")
)

// generationTimeout bounds one Gemini generation, like the synchronous endpoint did.
const generationTimeout = 5 * time.Minute

// resultTTL is how long a finished job waits to be collected by CheckStatus.
const resultTTL = 30 * time.Minute

// MediaStore resolves input references and persists generated media.
type MediaStore interface {
	Resolve(ctx context.Context, ref string) (string, error)
	Save(ctx context.Context, key string, media Media) (string, error)
}

// S3MediaStore keeps generated media in the configured bucket. Saved media is
// referenced by object key; readers presign it when serving.
type S3MediaStore struct{}

func (S3MediaStore) Resolve(ctx context.Context, ref string) (string, error) {
	return utils.ResolveMediaURL(ctx, ref)
}

func (S3MediaStore) Save(ctx context.Context, key string, media Media) (string, error) {
	return utils.UploadFileToS3(ctx, bytes.NewReader(media.Data), key, media.MIMEType)
}

// Provider tracks in-process generation jobs by id.
type Provider struct {
	generator Generator
	media     MediaStore
	logger    logrus.FieldLogger
	fetch     func(ctx context.Context, url string) ([]byte, error)

	mu        sync.Mutex
	jobs      map[string]job
	resultTTL time.Duration
	wg        sync.WaitGroup
}

type job struct {
	report     models.StatusReport
	finishedAt time.Time
}

func NewProvider(generator Generator, media MediaStore, logger logrus.FieldLogger) *Provider {
	return &Provider{
		generator: generator,
		media:     media,
		logger:    logger,
		fetch:     fetchImage,
		jobs:      make(map[string]job),
		resultTTL: resultTTL,
	}
}

// Submit registers a job and starts generating in the background.
func (p *Provider) Submit(_ context.Context, req models.TryOnRequest) (string, error) {
	if req.Kind != models.KindImage {
		return "", fmt.Errorf("%w: got %s", ErrUnsupportedKind, req.Kind)
	}

	id := uuid.NewString()
	p.mu.Lock()
	p.pruneLocked(time.Now())
	p.jobs[id] = job{report: models.StatusReport{Status: models.ProviderPending}}
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.process(id, req)
	}()

	return id, nil
}

// CheckStatus returns the job's status. Terminal reports are handed out once.
func (p *Provider) CheckStatus(_ context.Context, providerTaskID string) (models.StatusReport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	j, ok := p.jobs[providerTaskID]
	if !ok {
		return models.StatusReport{}, fmt.Errorf("%w: %s", ErrUnknownTask, providerTaskID)
	}
	report := j.report
	if report.Status != models.ProviderPending {
		delete(p.jobs, providerTaskID)
	}

	report.ResultMedia = append([]string(nil), report.ResultMedia...)
	return report, nil
}

// Wait blocks until every started job has finished.
func (p *Provider) Wait() {
	p.wg.Wait()
}

func (p *Provider) process(id string, req models.TryOnRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), generationTimeout)
	defer cancel()

	log := p.logger.WithField("provider_task_id", id)

	urls, err := p.generate(ctx, id, req)
	if err != nil {
		log.WithError(err).Warn("try-on generation failed")
		p.finish(id, models.StatusReport{Status: models.ProviderFailed, Error: err.Error()})
		return
	}

	log.WithField("media", len(urls)).Info("try-on generation completed")
	p.finish(id, models.StatusReport{Status: models.ProviderCompleted, ResultMedia: urls})
}

func (p *Provider) generate(ctx context.Context, id string, req models.TryOnRequest) ([]string, error) {
	images, err := p.loadAll(ctx, []string{req.UserImageRef, req.SubjectMediaRef})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch input images: %w", err)
	}

	generated, err := p.generator.Generate(ctx, images[0], images[1:])
	if err != nil {
		return nil, err
	}

	urls := make([]string, 0, len(generated))
	for i, media := range generated {
		if media.MIMEType == "" {
			media.MIMEType = "image/jpeg"
		}
		key := fmt.Sprintf("generated_images/%s_%d%s", id, i, extensionFor(media.MIMEType))
		url, err := p.media.Save(ctx, key, media)
		if err != nil {
			return nil, fmt.Errorf("failed to store generated image: %w", err)
		}
		urls = append(urls, url)
	}
	return urls, nil
}

func (p *Provider) load(ctx context.Context, ref string) ([]byte, error) {
	url, err := p.media.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	return p.fetch(ctx, url)
}

func (p *Provider) finish(id string, report models.StatusReport) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	p.pruneLocked(now)
	p.jobs[id] = job{report: report, finishedAt: now}
}

// pruneLocked drops finished jobs nobody collected, such as those of canceled tasks.
func (p *Provider) pruneLocked(now time.Time) {
	for id, j := range p.jobs {
		if !j.finishedAt.IsZero() && now.Sub(j.finishedAt) > p.resultTTL {
			delete(p.jobs, id)
		}
	}
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}

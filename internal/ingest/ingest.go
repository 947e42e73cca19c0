// Package ingest persists harvested records: it optionally mirrors the
// document into blob storage, stores the record and announces it.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/paper-harvester/internal/harvest"
	"github.com/JakeFAU/paper-harvester/internal/hash/sha256"
	"github.com/JakeFAU/paper-harvester/internal/metrics"
	"github.com/JakeFAU/paper-harvester/internal/paper"
	"github.com/JakeFAU/paper-harvester/internal/telemetry"
)

// ErrNotPDF is returned when a downloaded document fails PDF validation.
var ErrNotPDF = errors.New("document is not a PDF")

// EventIngested is the type of the notification sent per stored record.
const EventIngested = "paper.ingested"

// Downloader fetches document bytes.
type Downloader interface {
	Download(ctx context.Context, documentURL string) ([]byte, error)
}

// Checksummer digests a downloaded document.
type Checksummer interface {
	Checksum(data []byte) string
}

// Config controls the service.
type Config struct {
	// Prefix is the first segment of object paths. Defaults to "papers".
	Prefix string
	// Topic receives ingestion events. Empty disables notifications.
	Topic string
}

// Event is published after a record is stored.
type Event struct {
	Type       string       `json:"type"`
	PaperID    string       `json:"paper_id"`
	Title      string       `json:"title"`
	Source     paper.Source `json:"portal"`
	Year       string       `json:"year,omitempty"`
	SourceURL  string       `json:"pdf_url"`
	StorageURL string       `json:"storage_url,omitempty"`
	Pages      int          `json:"pages,omitempty"`
	Checksum   string       `json:"sha256,omitempty"`
	OccurredAt time.Time    `json:"occurred_at"`
}

// Service implements harvest.Sink.
type Service struct {
	store      paper.Store
	blobs      paper.BlobStore
	downloader Downloader
	publisher  paper.Publisher
	clock      paper.Clock
	hasher     Checksummer
	cfg        Config
	logger     *zap.Logger
}

type mirrored struct {
	storageURL string
	pages      int
	checksum   string
}

// NewService wires the sink. blobs, downloader and publisher may be nil,
// which disables uploads or notifications respectively.
func NewService(
	store paper.Store,
	blobs paper.BlobStore,
	downloader Downloader,
	publisher paper.Publisher,
	clock paper.Clock,
	cfg Config,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "papers"
	}
	return &Service{
		store:      store,
		blobs:      blobs,
		downloader: downloader,
		publisher:  publisher,
		clock:      clock,
		hasher:     sha256.New(),
		cfg:        cfg,
		logger:     logger,
	}
}

// Ingest stores rec. Upload and notification problems are returned as
// warnings; only a failed store write is an error.
func (s *Service) Ingest(ctx context.Context, rec paper.Record, upload bool) (out harvest.Outcome, err error) {
	ctx, span := telemetry.Tracer("ingest").Start(ctx, "ingest.record")
	span.SetAttributes(
		attribute.String("paper.source", string(rec.Source)),
		attribute.String("paper.url", rec.SourceURL),
		attribute.Bool("paper.upload", upload),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	logger := s.logger.With(zap.String("url", rec.SourceURL), zap.String("title", rec.Title))
	var (
		warnings []string
		copied   mirrored
	)
	if upload && s.blobs != nil && s.downloader != nil {
		m, err := s.mirror(ctx, rec)
		if err != nil {
			logger.Warn("upload failed; storing record without copy", zap.Error(err))
			warnings = append(warnings, fmt.Sprintf("Upload failed for %s: %v", rec.Title, err))
		} else {
			rec.StorageURL = m.storageURL
			copied = m
		}
	}

	id, err := s.store.Add(ctx, rec)
	if err != nil {
		return harvest.Outcome{}, fmt.Errorf("store record: %w", err)
	}
	rec.ID = id
	span.SetAttributes(attribute.String("paper.id", id))
	logger.Debug("record stored", zap.String("id", id), zap.Int("pages", copied.pages))

	if err := s.announce(ctx, rec, copied); err != nil {
		logger.Warn("ingest notification failed", zap.Error(err))
		warnings = append(warnings, fmt.Sprintf("Notification failed for %s: %v", rec.Title, err))
	}
	return harvest.Outcome{Record: rec, Warnings: warnings}, nil
}

func (s *Service) mirror(ctx context.Context, rec paper.Record) (mirrored, error) {
	body, err := s.downloader.Download(ctx, rec.SourceURL)
	if err != nil {
		return mirrored{}, fmt.Errorf("download: %w", err)
	}
	pages, err := ValidatePDF(body)
	if err != nil {
		return mirrored{}, err
	}
	url, err := s.blobs.PutObject(ctx, ObjectPath(s.cfg.Prefix, rec), "application/pdf", bytes.NewReader(body))
	if err != nil {
		return mirrored{}, fmt.Errorf("put object: %w", err)
	}
	metrics.ObserveUpload(rec.SourceURL, len(body))
	return mirrored{storageURL: url, pages: pages, checksum: s.hasher.Checksum(body)}, nil
}

func (s *Service) announce(ctx context.Context, rec paper.Record, m mirrored) error {
	if s.publisher == nil || s.cfg.Topic == "" {
		return nil
	}
	_, err := s.publisher.Publish(ctx, s.cfg.Topic, Event{
		Type:       EventIngested,
		PaperID:    rec.ID,
		Title:      rec.Title,
		Source:     rec.Source,
		Year:       rec.Year,
		SourceURL:  rec.SourceURL,
		StorageURL: rec.StorageURL,
		Pages:      m.pages,
		Checksum:   m.checksum,
		OccurredAt: s.now(),
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", EventIngested, err)
	}
	return nil
}

func (s *Service) now() time.Time {
	if s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock.Now()
}

// ValidatePDF checks the header and parses the cross-reference table,
// returning the page count.
func ValidatePDF(data []byte) (pages int, err error) {
	if !bytes.HasPrefix(data, []byte("%PDF")) {
		return 0, fmt.Errorf("%w: missing %%PDF header", ErrNotPDF)
	}
	defer func() {
		if r := recover(); r != nil {
			pages, err = 0, fmt.Errorf("%w: %v", ErrNotPDF, r)
		}
	}()
	doc, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrNotPDF, err)
	}
	return doc.NumPage(), nil
}

// ObjectPath builds <prefix>/<source>/<year>/<branch>/<title>.pdf. Empty
// segments become "unknown" and path separators in values are replaced.
func ObjectPath(prefix string, rec paper.Record) string {
	title := segment(rec.Title)
	if !strings.HasSuffix(strings.ToLower(title), ".pdf") {
		title += ".pdf"
	}
	return path.Join(
		strings.Trim(prefix, "/"),
		segment(string(rec.Source)),
		segment(rec.Year),
		segment(rec.Branch),
		title,
	)
}

func segment(v string) string {
	v = strings.TrimSpace(strings.NewReplacer("/", "-", "\\", "-").Replace(v))
	if v == "" || v == "." || v == ".." {
		return "unknown"
	}
	return v
}

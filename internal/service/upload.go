package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/xid"

	"github.com/sakif/vidshare/internal/apperror"
	"github.com/sakif/vidshare/internal/media"
	"github.com/sakif/vidshare/internal/model"
	"github.com/sakif/vidshare/internal/repository"
	"github.com/sakif/vidshare/internal/storage"
)

const (
	// MaxTitleLength applies to both the title and the channel name.
	MaxTitleLength = 100

	// sniffLen is how much of each file mimetype looks at.
	sniffLen = 512
)

// UploadState tracks one upload through Receive.
//
//	Received → Validating → AssetsPersisted → CatalogRegistered → Complete
//	              ↘ Rejected      ↘ RolledBack (any failure after the first asset write)
type UploadState string

const (
	StateReceived          UploadState = "received"
	StateValidating        UploadState = "validating"
	StateRejected          UploadState = "rejected"
	StateAssetsPersisted   UploadState = "assets_persisted"
	StateCatalogRegistered UploadState = "catalog_registered"
	StateComplete          UploadState = "complete"
	StateRolledBack        UploadState = "rolled_back"
)

// UploadFile is one file part of an upload. Name is the client's file
// name; it is only logged, never used to build a storage key.
type UploadFile struct {
	Name   string
	Reader io.Reader
}

type UploadRequest struct {
	OwnerID     string
	Title       string
	ChannelName string
	Video       *UploadFile
	Logo        *UploadFile

	// SlotHeld is set by callers that already hold a slot from Reserve.
	// Receive then runs without claiming another one.
	SlotHeld bool
}

// UploadService turns an upload request into stored assets plus one
// catalog entry, or into nothing at all.
//
// KEYS:
// Every upload gets a fresh xid as its storage key. Titles are display
// text only, so two titles that slugify the same ("My Clip!" and
// "my_clip ") can never overwrite each other's files.
//
// CONCURRENCY CAP:
// At most maxParallel uploads run at once. A caller arriving when every
// slot is taken gets apperror.ErrTooManyRequests immediately instead of
// queueing behind multi-hundred-megabyte transfers. The HTTP handler calls
// Reserve before it reads the request body, so a rejected upload costs no
// bandwidth or disk, and then passes SlotHeld to Receive.
type UploadService struct {
	videos repository.VideoRepository
	assets storage.AssetStore
	prober media.Prober
	logger *slog.Logger
	slots  chan struct{}

	newID   func() string
	observe func(key string, state UploadState)
}

func NewUploadService(
	videos repository.VideoRepository,
	assets storage.AssetStore,
	prober media.Prober,
	maxParallel int,
	logger *slog.Logger,
) *UploadService {
	if prober == nil {
		prober = media.NopProber{}
	}
	if maxParallel <= 0 {
		maxParallel = 1
	}
	return &UploadService{
		videos:  videos,
		assets:  assets,
		prober:  prober,
		logger:  logger,
		slots:   make(chan struct{}, maxParallel),
		newID:   func() string { return xid.New().String() },
		observe: func(string, UploadState) {},
	}
}

// Reserve claims one upload slot without waiting. The returned release
// func is safe to call more than once.
func (s *UploadService) Reserve() (release func(), err error) {
	select {
	case s.slots <- struct{}{}:
	default:
		return nil, apperror.TooManyRequests("too many concurrent uploads, please retry shortly")
	}
	var once sync.Once
	return func() { once.Do(func() { <-s.slots }) }, nil
}

// Receive validates an upload, persists its assets under a new key and
// registers the catalog entry.
//
// Validation failures return apperror.ErrValidation and write nothing.
// Failures after the first asset write remove everything under the key
// and return apperror.ErrStorage.
func (s *UploadService) Receive(ctx context.Context, req UploadRequest) (*model.Video, error) {
	if req.OwnerID == "" {
		return nil, apperror.Unauthenticated()
	}
	if !req.SlotHeld {
		release, err := s.Reserve()
		if err != nil {
			return nil, err
		}
		defer release()
	}

	key := s.newID()
	log := s.logger.With(slog.String("videoID", key), slog.String("ownerID", req.OwnerID))
	s.transition(log, key, StateReceived)

	// === VALIDATING ===
	s.transition(log, key, StateValidating)
	title, channel, video, logo, err := validateUpload(req)
	if err != nil {
		s.transition(log, key, StateRejected)
		return nil, err
	}

	// === PERSISTING ASSETS ===
	// From here on, any failure must undo every write under key.
	rollback := func(cause error) error {
		if rmErr := s.assets.RemoveAll(context.WithoutCancel(ctx), key); rmErr != nil {
			log.Error("rollback failed, assets may be orphaned", slog.String("error", rmErr.Error()))
		}
		s.transition(log, key, StateRolledBack)
		if errors.Is(cause, apperror.ErrValidation) || errors.Is(cause, apperror.ErrStorage) {
			return cause
		}
		return apperror.Storage("saving upload", cause)
	}

	videoKey := storage.Key(key, "video"+video.ext)
	videoLoc, err := s.assets.Save(ctx, videoKey, video.reader)
	if err != nil {
		return nil, rollback(err)
	}
	logoLoc, err := s.assets.Save(ctx, storage.Key(key, "logo"+logo.ext), logo.reader)
	if err != nil {
		return nil, rollback(err)
	}

	entry := &model.Video{
		ID:          key,
		Title:       title,
		ChannelName: channel,
		Path:        videoLoc,
		Logo:        logoLoc,
		OwnerID:     req.OwnerID,
		CreatedAt:   time.Now().UTC(),
	}

	info, err := json.MarshalIndent(uploadInfo{
		Video:     entry,
		Slug:      legacySlug(req.Title),
		VideoType: video.mime,
		LogoType:  logo.mime,
	}, "", "  ")
	if err != nil {
		return nil, rollback(err)
	}
	if _, err := s.assets.Save(ctx, storage.Key(key, storage.InfoFile), bytes.NewReader(info)); err != nil {
		return nil, rollback(err)
	}
	s.transition(log, key, StateAssetsPersisted)

	// A failed probe only costs the duration.
	if d, err := s.prober.Duration(ctx, videoKey); err != nil {
		log.Warn("probing video duration failed", slog.String("error", err.Error()))
	} else {
		entry.DurationSeconds = d
	}

	// === REGISTERING ===
	if err := s.videos.CreateVideo(ctx, entry); err != nil {
		return nil, rollback(err)
	}
	s.transition(log, key, StateCatalogRegistered)

	log.Info("video uploaded",
		slog.String("title", entry.Title),
		slog.String("channel", entry.ChannelName),
		slog.String("clientFile", req.Video.Name),
		slog.Float64("durationSeconds", entry.DurationSeconds),
	)
	s.transition(log, key, StateComplete)
	return entry, nil
}

func (s *UploadService) transition(log *slog.Logger, key string, state UploadState) {
	log.Debug("upload state", slog.String("state", string(state)))
	s.observe(key, state)
}

// uploadInfo is written next to the assets as info.json, so a directory
// (or object prefix) can be understood without the catalog.
//
// The file is not served to clients, and the client's own file names are
// never recorded in it.
type uploadInfo struct {
	*model.Video
	Slug      string `json:"slug"`
	VideoType string `json:"videoType"`
	LogoType  string `json:"logoType"`
}

// sniffedFile is a validated file part: its detected type plus a reader
// that replays the sniffed prefix.
type sniffedFile struct {
	mime   string
	ext    string
	reader io.Reader
}

func validateUpload(req UploadRequest) (title, channel string, video, logo *sniffedFile, err error) {
	title = strings.TrimSpace(req.Title)
	channel = strings.TrimSpace(req.ChannelName)

	switch {
	case title == "":
		return "", "", nil, nil, apperror.ValidationFailed("title", "title is required")
	case utf8.RuneCountInString(title) > MaxTitleLength:
		return "", "", nil, nil, apperror.ValidationFailed("title",
			fmt.Sprintf("title must be %d characters or less", MaxTitleLength))
	case channel == "":
		return "", "", nil, nil, apperror.ValidationFailed("channelName", "channel name is required")
	case utf8.RuneCountInString(channel) > MaxTitleLength:
		return "", "", nil, nil, apperror.ValidationFailed("channelName",
			fmt.Sprintf("channel name must be %d characters or less", MaxTitleLength))
	}

	video, err = sniff(req.Video, "video", "video/")
	if err != nil {
		return "", "", nil, nil, err
	}
	logo, err = sniff(req.Logo, "logo", "image/")
	if err != nil {
		return "", "", nil, nil, err
	}
	return title, channel, video, logo, nil
}

// sniff reads the first bytes of f, detects its content type and checks
// it against wantPrefix. The client's Content-Type and file extension are
// ignored.
func sniff(f *UploadFile, field, wantPrefix string) (*sniffedFile, error) {
	if f == nil || f.Reader == nil {
		return nil, apperror.ValidationFailed(field, field+" file is required")
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(f.Reader, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, apperror.ValidationFailed(field, "error reading "+field+" file")
	}
	if n == 0 {
		return nil, apperror.ValidationFailed(field, field+" file is empty")
	}
	head = head[:n]

	mt := mimetype.Detect(head)
	if !strings.HasPrefix(mt.String(), wantPrefix) {
		return nil, apperror.ValidationFailed(field,
			fmt.Sprintf("unsupported %s format (%s)", field, mt.String()))
	}

	ext := mt.Extension()
	if ext == "" {
		ext = ".bin"
	}
	return &sniffedFile{
		mime:   mt.String(),
		ext:    ext,
		reader: io.MultiReader(bytes.NewReader(head), f.Reader),
	}, nil
}

// legacySlug is the directory name the old uploader derived from a title:
// every character outside ASCII letters and digits becomes "_" (one per
// UTF-16 code unit) and the result is lower-cased. Nothing is collapsed or
// trimmed, so "My Clip!" and "my_clip " both give "my_clip_". It is kept
// in info.json for reference; storage keys never come from it.
func legacySlug(title string) string {
	var b strings.Builder
	for _, r := range title {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
		case r > 0xFFFF:
			b.WriteString("__")
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// Package session owns the client-visible state of one search-and-refine
// cycle: the uploaded query image, the ranked result list, per-result feedback
// marks, and the latest descriptor snapshot per visualization tab.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/velia-labs/imagematch/internal/retrieval"
	"github.com/velia-labs/imagematch/internal/store"
)

// State tracks where the session sits in the upload/rank/feedback cycle.
type State int

const (
	StateIdle State = iota
	StateUploading
	StateRanked
	StateSubmittingFeedback
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateUploading:
		return "uploading"
	case StateRanked:
		return "ranked"
	case StateSubmittingFeedback:
		return "submitting_feedback"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var (
	// ErrBusy is returned when an upload or feedback submission is already in
	// flight. Issued calls cannot be aborted, so a second one must wait.
	ErrBusy = errors.New("an operation is already in flight")

	// ErrNoQuery is returned for operations that need an uploaded query image.
	ErrNoQuery = errors.New("no query image uploaded")

	// ErrNoFeedback is returned when a submission finds no explicitly set,
	// complete feedback entries.
	ErrNoFeedback = errors.New("no valid feedback items to submit")

	// ErrSuperseded is returned to a descriptor fetch whose result arrived
	// after a newer fetch for the same tab was issued.
	ErrSuperseded = errors.New("descriptor fetch superseded by a newer request")
)

// Notifier receives the transient user-facing messages the session emits.
type Notifier interface {
	Notify(level, message string)
}

// LogNotifier routes notifications to the logger, for headless use.
type LogNotifier struct {
	Logger *logrus.Logger
}

func (n LogNotifier) Notify(level, message string) {
	entry := n.Logger.WithField("notification", level)
	if level == "error" {
		entry.Error(message)
		return
	}
	entry.Info(message)
}

// SearchSession mediates the upload -> rank -> feedback -> re-rank cycle.
// Every response is applied as one atomic state replacement under the lock;
// a failed call leaves all prior state untouched.
type SearchSession struct {
	client   *retrieval.Client
	store    store.SessionStore
	notifier Notifier
	logger   *logrus.Logger

	mu               sync.Mutex
	state            State
	user             *retrieval.User
	uploadedImageURL string
	imageRef         string
	queryDescriptors retrieval.DescriptorSet
	results          []retrieval.SimilarityResult
	touched          map[int]bool

	descGen     map[retrieval.DescriptorKind]uint64
	descCancel  map[retrieval.DescriptorKind]context.CancelFunc
	descriptors map[retrieval.DescriptorKind]*retrieval.DescriptorSnapshot
}

// New creates a session against the given backend. sessionStore may be nil to
// disable persistence; notifier may be nil to route notifications to the log.
func New(client *retrieval.Client, sessionStore store.SessionStore, notifier Notifier, logger *logrus.Logger) *SearchSession {
	if notifier == nil {
		notifier = LogNotifier{Logger: logger}
	}
	return &SearchSession{
		client:      client,
		store:       sessionStore,
		notifier:    notifier,
		logger:      logger,
		state:       StateIdle,
		touched:     make(map[int]bool),
		descGen:     make(map[retrieval.DescriptorKind]uint64),
		descCancel:  make(map[retrieval.DescriptorKind]context.CancelFunc),
		descriptors: make(map[retrieval.DescriptorKind]*retrieval.DescriptorSnapshot),
	}
}

// Resume restores a previous cycle from the injected store. A missing or
// schema-incompatible snapshot leaves the session idle without error.
func (s *SearchSession) Resume(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	snap, err := s.store.Load(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrSchemaMismatch) {
			s.logger.WithError(err).Debug("No resumable session snapshot")
			return nil
		}
		return fmt.Errorf("failed to resume session: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = snap.User
	s.uploadedImageURL = snap.UploadedImageURL
	s.imageRef = imageRefFromURL(snap.UploadedImageURL)
	s.results = append([]retrieval.SimilarityResult(nil), snap.Results...)
	if snap.QueryDescriptors != nil {
		s.queryDescriptors = *snap.QueryDescriptors
	}
	s.touched = make(map[int]bool)
	if len(s.results) > 0 {
		s.state = StateRanked
	}
	return nil
}

// SubmitQuery uploads a single image and replaces the ranked list wholesale.
// On any failure the prior state is kept and exactly one user-visible error
// notification is emitted.
func (s *SearchSession) SubmitQuery(ctx context.Context, filename string, r io.Reader) error {
	s.mu.Lock()
	if s.state == StateUploading || s.state == StateSubmittingFeedback {
		s.mu.Unlock()
		return ErrBusy
	}
	prev := s.state
	s.state = StateUploading
	s.mu.Unlock()

	resp, err := s.client.SaveImage(ctx, filename, r)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.state = prev
		s.logger.WithError(err).WithField("filename", filename).Error("Image upload failed")
		s.notifier.Notify("error", "Error uploading image. Please try again.")
		return err
	}

	s.uploadedImageURL = resp.UploadedImageURL
	s.imageRef = imageRefFromURL(resp.UploadedImageURL)
	s.results = append([]retrieval.SimilarityResult(nil), resp.SimilarImages...)
	if resp.QueryDescriptors != nil {
		s.queryDescriptors = *resp.QueryDescriptors
	} else {
		s.queryDescriptors = retrieval.DescriptorSet{}
	}
	s.touched = make(map[int]bool)
	s.descriptors = make(map[retrieval.DescriptorKind]*retrieval.DescriptorSnapshot)
	s.state = StateRanked

	s.persistLocked(ctx)
	s.notifier.Notify("success", "Image uploaded successfully!")
	return nil
}

// SetFeedback records a relevance label on the result at index i. This is a
// pure local mutation; an out-of-range index is a programming error and
// panics rather than silently corrupting neighboring entries.
func (s *SearchSession) SetFeedback(i int, v retrieval.Feedback) error {
	if !v.Valid() {
		return fmt.Errorf("invalid feedback value %q", v)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.results) {
		panic(fmt.Sprintf("session: feedback index %d out of range [0,%d)", i, len(s.results)))
	}
	s.results[i].Feedback = v
	s.touched[i] = true
	return nil
}

// SubmitFeedback sends the query descriptors plus every explicitly set,
// complete feedback entry and replaces the result list with the server's
// re-ranked payload. Untouched results -- whose "neutral" is only the UI
// placeholder -- are never sent. On failure the error is logged and all state
// is left unchanged; there is no retry.
func (s *SearchSession) SubmitFeedback(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateUploading || s.state == StateSubmittingFeedback {
		s.mu.Unlock()
		return ErrBusy
	}
	if s.state != StateRanked {
		s.mu.Unlock()
		return ErrNoQuery
	}

	items := make([]retrieval.FeedbackItem, 0, len(s.touched))
	for i, result := range s.results {
		if !s.touched[i] {
			continue
		}
		item := retrieval.FeedbackItem{
			ImageName: result.ImageName,
			Category:  result.Category,
			Feedback:  result.Feedback,
		}
		if item.Complete() {
			items = append(items, item)
		}
	}
	if len(items) == 0 {
		s.mu.Unlock()
		s.logger.Error("No valid feedback items found")
		return ErrNoFeedback
	}

	submission := retrieval.FeedbackSubmission{
		QueryDescriptors: s.queryDescriptors,
		FeedbackItems:    items,
	}
	s.state = StateSubmittingFeedback
	s.mu.Unlock()

	resp, err := s.client.SubmitFeedback(ctx, submission)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateRanked
	if err != nil {
		s.logger.WithError(err).Error("Feedback submission failed")
		return err
	}

	s.results = append([]retrieval.SimilarityResult(nil), resp.SimilarImages...)
	s.touched = make(map[int]bool)
	s.persistLocked(ctx)
	return nil
}

// FetchDescriptor retrieves the visualization payload for one tab. A newer
// fetch for the same kind supersedes this one: the older call's context is
// cancelled and, if its response still arrives, the result is discarded with
// ErrSuperseded instead of overwriting the newer tab state.
func (s *SearchSession) FetchDescriptor(ctx context.Context, kind retrieval.DescriptorKind) (*retrieval.DescriptorSnapshot, error) {
	s.mu.Lock()
	if s.imageRef == "" {
		s.mu.Unlock()
		return nil, ErrNoQuery
	}
	imageRef := s.imageRef

	s.descGen[kind]++
	gen := s.descGen[kind]
	if cancel := s.descCancel[kind]; cancel != nil {
		cancel()
	}
	fetchCtx, cancel := context.WithCancel(ctx)
	s.descCancel[kind] = cancel
	s.mu.Unlock()

	snap, err := s.fetchSnapshot(fetchCtx, kind, imageRef)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.descGen[kind] != gen {
		return nil, ErrSuperseded
	}
	delete(s.descCancel, kind)
	cancel()
	if err != nil {
		s.logger.WithError(err).WithField("kind", string(kind)).Error("Descriptor fetch failed")
		s.notifier.Notify("error", fmt.Sprintf("Failed to fetch %s", kind))
		return nil, err
	}
	s.descriptors[kind] = snap
	return snap, nil
}

func (s *SearchSession) fetchSnapshot(ctx context.Context, kind retrieval.DescriptorKind, imageRef string) (*retrieval.DescriptorSnapshot, error) {
	switch kind {
	case retrieval.KindHistogram:
		resp, err := s.client.CalculateHistogram(ctx, imageRef)
		if err != nil {
			return nil, err
		}
		return &retrieval.DescriptorSnapshot{Kind: kind, Histogram: resp.Histogram, ImageURL: resp.ImageURL}, nil
	case retrieval.KindDominantColors:
		resp, err := s.client.CalculateDominantColors(ctx, imageRef)
		if err != nil {
			return nil, err
		}
		return &retrieval.DescriptorSnapshot{Kind: kind, DominantColors: resp.DominantColors}, nil
	case retrieval.KindGaborDescriptors:
		resp, err := s.client.CalculateFeatureDescriptors(ctx, imageRef, kind)
		if err != nil {
			return nil, err
		}
		snap := &retrieval.DescriptorSnapshot{Kind: kind, Descriptors: resp.Descriptors}
		if img, err := s.client.CalculateGabor(ctx, imageRef); err == nil {
			snap.ImageURL = img.GaborImageURL
		}
		return snap, nil
	case retrieval.KindHuMoments:
		resp, err := s.client.CalculateFeatureDescriptors(ctx, imageRef, kind)
		if err != nil {
			return nil, err
		}
		snap := &retrieval.DescriptorSnapshot{Kind: kind, Descriptors: resp.Descriptors}
		if img, err := s.client.CalculateHuMoments(ctx, imageRef); err == nil {
			snap.ImageURL = img.HuMomentsImageURL
		}
		return snap, nil
	}
	return nil, fmt.Errorf("unknown descriptor kind %q", kind)
}

// SetUser records the authenticated user and persists it with the snapshot.
func (s *SearchSession) SetUser(ctx context.Context, user *retrieval.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = user
	s.persistLocked(ctx)
}

// User returns the recorded user, or nil for a guest session.
func (s *SearchSession) User() *retrieval.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// State returns the current workflow state.
func (s *SearchSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Results returns a copy of the ranked list in backend order.
func (s *SearchSession) Results() []retrieval.SimilarityResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]retrieval.SimilarityResult(nil), s.results...)
}

// UploadedImageURL returns the client-visible URL of the query image.
func (s *SearchSession) UploadedImageURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uploadedImageURL
}

// QueryDescriptors returns the descriptor set recorded for the query image.
func (s *SearchSession) QueryDescriptors() retrieval.DescriptorSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queryDescriptors
}

// Descriptor returns the last applied snapshot for one tab, or nil.
func (s *SearchSession) Descriptor(kind retrieval.DescriptorKind) *retrieval.DescriptorSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.descriptors[kind]
}

// Clear drops all cycle state and the persisted snapshot.
func (s *SearchSession) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateIdle
	s.user = nil
	s.uploadedImageURL = ""
	s.imageRef = ""
	s.queryDescriptors = retrieval.DescriptorSet{}
	s.results = nil
	s.touched = make(map[int]bool)
	s.descriptors = make(map[retrieval.DescriptorKind]*retrieval.DescriptorSnapshot)
	if s.store == nil {
		return nil
	}
	return s.store.Clear(ctx)
}

// persistLocked saves a snapshot best-effort; persistence failures are logged
// and never fail the operation that triggered them.
func (s *SearchSession) persistLocked(ctx context.Context) {
	if s.store == nil {
		return
	}
	snap := &store.Snapshot{
		User:             s.user,
		UploadedImageURL: s.uploadedImageURL,
		Results:          append([]retrieval.SimilarityResult(nil), s.results...),
	}
	if !s.queryDescriptors.Empty() {
		descriptors := s.queryDescriptors
		snap.QueryDescriptors = &descriptors
	}
	if err := s.store.Save(ctx, snap); err != nil {
		s.logger.WithError(err).Warn("Failed to persist session snapshot")
	}
}

// imageRefFromURL reduces an absolute uploaded-image URL to the backend-side
// reference the descriptor endpoints expect ("processed/<name>").
func imageRefFromURL(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return strings.TrimPrefix(rawURL, "/")
	}
	return strings.TrimPrefix(parsed.Path, "/")
}

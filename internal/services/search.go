package services

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/velia-labs/imagematch/internal/database"
	"github.com/velia-labs/imagematch/internal/descriptor"
	"github.com/velia-labs/imagematch/internal/models"
	"github.com/velia-labs/imagematch/internal/ranking"
	"github.com/velia-labs/imagematch/internal/repository"
)

const maxResults = 10

// sessionState carries the per-session query and adapted weights between
// the upload and the feedback rounds.
type sessionState struct {
	query   descriptor.Set
	weights ranking.Weights
	results []models.RankedImage
}

// SearchService ranks dataset images against uploaded queries and applies
// relevance feedback to the per-session descriptor weights.
type SearchService struct {
	repoManager  *repository.RepositoryManager
	cache        *database.Cache
	logger       *logrus.Logger
	datasetDir   string
	processedDir string

	mu       sync.Mutex
	index    []ranking.IndexedImage
	sessions map[string]*sessionState
}

// NewSearchService creates a search service. repoManager and cache may be
// nil when running without postgres and redis; the index is then built by
// walking the dataset directory.
func NewSearchService(
	repoManager *repository.RepositoryManager,
	cache *database.Cache,
	datasetDir, processedDir string,
	logger *logrus.Logger,
) *SearchService {
	return &SearchService{
		repoManager:  repoManager,
		cache:        cache,
		logger:       logger,
		datasetDir:   datasetDir,
		processedDir: processedDir,
		sessions:     make(map[string]*sessionState),
	}
}

// LoadIndex populates the in-memory index from the descriptor repository,
// falling back to a dataset directory walk when no repository is wired or
// the repository is empty.
func (s *SearchService) LoadIndex(ctx context.Context) error {
	if s.repoManager != nil {
		descs, err := s.repoManager.Descriptors.GetAll()
		if err == nil && len(descs) > 0 {
			index := make([]ranking.IndexedImage, 0, len(descs))
			for _, d := range descs {
				index = append(index, ranking.IndexedImage{
					Category:  d.Category,
					ImageName: d.ImageName,
					Descriptors: descriptor.Set{
						Histogram:        d.Histogram,
						DominantColors:   d.DominantColors,
						GaborDescriptors: d.GaborDescriptors,
						HuMoments:        d.HuMoments,
						TextureEnergy:    d.TextureEnergy,
						Circularity:      d.Circularity,
					},
				})
			}
			s.mu.Lock()
			s.index = index
			s.mu.Unlock()
			s.logger.WithField("images", len(index)).Info("Loaded descriptor index from database")
			return nil
		}
		if err != nil {
			s.logger.WithError(err).Warn("Descriptor repository unavailable, building index from disk")
		}
	}
	return s.BuildIndexFromDisk(ctx)
}

// BuildIndexFromDisk walks datasetDir/<category>/<image> and extracts
// descriptors for every image found.
func (s *SearchService) BuildIndexFromDisk(ctx context.Context) error {
	entries, err := os.ReadDir(s.datasetDir)
	if err != nil {
		return fmt.Errorf("failed to read dataset directory: %w", err)
	}

	var index []ranking.IndexedImage
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		category := entry.Name()
		images, err := os.ReadDir(filepath.Join(s.datasetDir, category))
		if err != nil {
			s.logger.WithError(err).WithField("category", category).Warn("Skipping unreadable category")
			continue
		}
		for _, img := range images {
			if img.IsDir() || !isImageFile(img.Name()) {
				continue
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			path := filepath.Join(s.datasetDir, category, img.Name())
			decoded, err := descriptor.Load(path)
			if err != nil {
				s.logger.WithError(err).WithField("image", path).Warn("Skipping undecodable image")
				continue
			}
			index = append(index, ranking.IndexedImage{
				Category:    category,
				ImageName:   img.Name(),
				Descriptors: descriptor.Extract(decoded),
			})
		}
	}

	s.mu.Lock()
	s.index = index
	s.mu.Unlock()
	s.logger.WithField("images", len(index)).Info("Built descriptor index from disk")
	return nil
}

// IndexSize reports the number of indexed images.
func (s *SearchService) IndexSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.index)
}

// ListImages returns every indexed image as "category/name", sorted.
func (s *SearchService) ListImages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.index))
	for _, img := range s.index {
		names = append(names, img.Category+"/"+img.ImageName)
	}
	sort.Strings(names)
	return names
}

// Search extracts descriptors from the uploaded image, stores the query on
// the session with fresh weights, and returns the ranked matches.
func (s *SearchService) Search(ctx context.Context, session, originalName string, img image.Image) (string, descriptor.Set, []models.RankedImage, error) {
	query := descriptor.Extract(img)

	processedName := processedFileName(originalName)
	if err := os.MkdirAll(s.processedDir, 0o755); err != nil {
		return "", descriptor.Set{}, nil, fmt.Errorf("failed to create processed directory: %w", err)
	}
	if err := descriptor.SaveJPEG(filepath.Join(s.processedDir, processedName), img); err != nil {
		return "", descriptor.Set{}, nil, fmt.Errorf("failed to save uploaded image: %w", err)
	}

	weights := ranking.DefaultWeights()

	s.mu.Lock()
	matches := ranking.Rank(query, s.index, weights, maxResults)
	results := s.toRankedImages(matches)
	s.sessions[session] = &sessionState{query: query, weights: weights, results: results}
	s.mu.Unlock()

	if s.cache != nil {
		// Drop the previous query's entries first so the three session
		// keys never mix state from two different queries.
		if err := s.cache.InvalidateSession(ctx, session); err != nil {
			s.logger.WithError(err).Debug("Failed to invalidate session cache")
		}
		s.cacheSession(ctx, session, query, weights, results)
	}

	s.logger.WithFields(logrus.Fields{
		"session": session,
		"results": len(matches),
	}).Info("Search completed")

	return "/processed/" + processedName, query, results, nil
}

// CurrentResults returns the last ranked list for the session; when the
// in-memory state is gone it falls back to the redis cache.
func (s *SearchService) CurrentResults(ctx context.Context, session string) []models.RankedImage {
	s.mu.Lock()
	state, ok := s.sessions[session]
	s.mu.Unlock()
	if ok {
		return state.results
	}

	if s.cache != nil {
		if results, err := s.cache.GetCachedRankedResults(ctx, session); err == nil {
			return results
		}
	}
	return nil
}

// ApplyFeedback re-weights the session's descriptor kinds from the marked
// results and returns the new weights with the re-ranked list. When the
// in-memory session is gone (restart, new session id) the query is recovered
// from the redis cache or, failing that, from the descriptors echoed back in
// the submission itself.
func (s *SearchService) ApplyFeedback(ctx context.Context, session string, submitted descriptor.Set, items []models.FeedbackItem) (ranking.Weights, []models.RankedImage, error) {
	s.mu.Lock()
	state, ok := s.sessions[session]
	s.mu.Unlock()
	if !ok {
		recovered, err := s.recoverSession(ctx, session, submitted)
		if err != nil {
			return nil, nil, err
		}
		state = recovered
	}

	var relevant, irrelevant []descriptor.Set
	for _, item := range items {
		set, found := s.lookupDescriptors(item.Category, item.ImageName)
		if !found {
			return nil, nil, fmt.Errorf("unknown image %s/%s", item.Category, item.ImageName)
		}
		switch item.Feedback {
		case "relevant":
			relevant = append(relevant, set)
		case "irrelevant":
			irrelevant = append(irrelevant, set)
		case "neutral":
			// Counts as submitted but moves no weight.
		default:
			return nil, nil, fmt.Errorf("invalid feedback value: %s", item.Feedback)
		}
	}

	s.mu.Lock()
	query := state.query
	before := state.weights.Clone()
	state.weights = ranking.UpdateWeights(query, relevant, irrelevant, state.weights)
	after := state.weights.Clone()
	matches := ranking.Rank(query, s.index, state.weights, maxResults)
	reranked := s.toRankedImages(matches)
	state.results = reranked
	s.mu.Unlock()

	if s.repoManager != nil {
		for _, item := range items {
			event := &models.FeedbackEvent{
				UserSession:   session,
				ImageName:     item.ImageName,
				Category:      item.Category,
				Feedback:      item.Feedback,
				WeightsBefore: weightsVector(before),
				WeightsAfter:  weightsVector(after),
				AppliedAt:     time.Now(),
			}
			if err := s.repoManager.Feedback.Create(event); err != nil {
				s.logger.WithError(err).Warn("Failed to record feedback event")
			}
		}
	}

	if s.cache != nil {
		s.cacheSession(ctx, session, query, after, reranked)
	}

	s.logger.WithFields(logrus.Fields{
		"session":    session,
		"relevant":   len(relevant),
		"irrelevant": len(irrelevant),
	}).Info("Relevance feedback applied")

	return after, reranked, nil
}

// ResolveImage loads a dataset or processed image referenced as
// "category/name" or "processed/name".
func (s *SearchService) ResolveImage(ref string) (image.Image, error) {
	ref = filepath.ToSlash(filepath.Clean(ref))
	if strings.HasPrefix(ref, "..") || filepath.IsAbs(ref) {
		return nil, fmt.Errorf("invalid image reference: %s", ref)
	}

	parts := strings.SplitN(ref, "/", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid image reference: %s", ref)
	}

	var path string
	if parts[0] == "processed" {
		path = filepath.Join(s.processedDir, parts[1])
	} else {
		path = filepath.Join(s.datasetDir, parts[0], parts[1])
	}
	return descriptor.Load(path)
}

// recoverSession rebuilds session state after the in-memory map lost it. The
// redis cache is preferred because it keeps the adapted weights; the
// submitted descriptors restart from the default weights.
func (s *SearchService) recoverSession(ctx context.Context, session string, submitted descriptor.Set) (*sessionState, error) {
	query := descriptor.Set{}
	weights := ranking.DefaultWeights()
	var results []models.RankedImage

	if s.cache != nil {
		var cached descriptor.Set
		if err := s.cache.GetCachedQueryDescriptors(ctx, session, &cached); err == nil && !cached.Empty() {
			query = cached
			if w, err := s.cache.GetCachedSessionWeights(ctx, session); err == nil && len(w) > 0 {
				weights = w
			}
			if r, err := s.cache.GetCachedRankedResults(ctx, session); err == nil {
				results = r
			}
			s.logger.WithField("session", session).Info("Recovered session from cache")
		}
	}

	if query.Empty() {
		if submitted.Empty() {
			return nil, fmt.Errorf("no active query for session %s", session)
		}
		query = submitted
		s.logger.WithField("session", session).Info("Recovered session from submitted descriptors")
	}

	state := &sessionState{query: query, weights: weights, results: results}
	s.mu.Lock()
	s.sessions[session] = state
	s.mu.Unlock()
	return state, nil
}

func (s *SearchService) cacheSession(ctx context.Context, session string, query descriptor.Set, weights ranking.Weights, results []models.RankedImage) {
	if err := s.cache.CacheRankedResults(ctx, session, results, time.Hour); err != nil {
		s.logger.WithError(err).Debug("Failed to cache ranked results")
	}
	if err := s.cache.CacheSessionWeights(ctx, session, weights, time.Hour); err != nil {
		s.logger.WithError(err).Debug("Failed to cache session weights")
	}
	if err := s.cache.CacheQueryDescriptors(ctx, session, query, time.Hour); err != nil {
		s.logger.WithError(err).Debug("Failed to cache query descriptors")
	}
}

func (s *SearchService) lookupDescriptors(category, imageName string) (descriptor.Set, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, img := range s.index {
		if img.Category == category && img.ImageName == imageName {
			return img.Descriptors, true
		}
	}
	return descriptor.Set{}, false
}

func (s *SearchService) toRankedImages(matches []ranking.Match) []models.RankedImage {
	results := make([]models.RankedImage, 0, len(matches))
	for _, m := range matches {
		results = append(results, models.RankedImage{
			ImageName:       m.ImageName,
			Category:        m.Category,
			SimilarityScore: m.Score,
			ImagePath:       "/static/dataset/" + m.Category + "/" + m.ImageName,
		})
	}
	return results
}

// weightsVector flattens weights into the fixed kind order.
func weightsVector(w ranking.Weights) models.FloatArray {
	out := make(models.FloatArray, 0, len(ranking.Kinds))
	for _, k := range ranking.Kinds {
		out = append(out, w[k])
	}
	return out
}

func processedFileName(originalName string) string {
	base := filepath.Base(originalName)
	base = strings.ReplaceAll(base, " ", "_")
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	if ext == "" {
		ext = ".jpg"
	}
	return fmt.Sprintf("%s_%d%s", stem, time.Now().UnixNano(), ext)
}

func isImageFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png", ".gif":
		return true
	}
	return false
}

package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velia-labs/imagematch/internal/retrieval"
	"github.com/velia-labs/imagematch/internal/store"
)

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) Notify(level, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, level+": "+message)
}

func (n *recordingNotifier) count(level string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	total := 0
	for _, m := range n.messages {
		if strings.HasPrefix(m, level+": ") {
			total++
		}
	}
	return total
}

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func rankedBackend(t *testing.T, results []retrieval.SimilarityResult) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/save-image":
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(retrieval.SaveImageResponse{
				Message:          "Image uploaded successfully",
				UploadedImageURL: "http://localhost:5001/processed/cat1.jpg",
				SimilarImages:    results,
			})
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestSubmitQuery_ReplacesResultsWholesale(t *testing.T) {
	ranked := []retrieval.SimilarityResult{
		{ImageName: "cat2.jpg", Category: "cats", SimilarityScore: 0.87},
		{ImageName: "cat9.jpg", Category: "cats", SimilarityScore: 1.44},
	}
	server := rankedBackend(t, ranked)
	defer server.Close()

	notifier := &recordingNotifier{}
	s := New(retrieval.NewClient(server.URL, newTestLogger()), nil, notifier, newTestLogger())

	require.NoError(t, s.SubmitQuery(context.Background(), "cat1.jpg", strings.NewReader("jpeg")))

	assert.Equal(t, StateRanked, s.State())
	assert.Equal(t, "http://localhost:5001/processed/cat1.jpg", s.UploadedImageURL())

	got := s.Results()
	require.Len(t, got, 2)
	assert.Equal(t, ranked[0].ImageName, got[0].ImageName)
	assert.Equal(t, "0.8700", got[0].SimilarityScore.String())
	assert.Equal(t, 1, notifier.count("success"))
}

func TestSubmitQuery_FailureLeavesStateUntouched(t *testing.T) {
	ranked := []retrieval.SimilarityResult{{ImageName: "cat2.jpg", Category: "cats", SimilarityScore: 0.87}}
	server := rankedBackend(t, ranked)

	notifier := &recordingNotifier{}
	s := New(retrieval.NewClient(server.URL, newTestLogger()), nil, notifier, newTestLogger())
	require.NoError(t, s.SubmitQuery(context.Background(), "cat1.jpg", strings.NewReader("jpeg")))

	// Kill the backend to simulate a network error on the second upload.
	server.Close()
	err := s.SubmitQuery(context.Background(), "cat5.jpg", strings.NewReader("jpeg"))
	require.Error(t, err)

	assert.Equal(t, StateRanked, s.State())
	assert.Equal(t, "http://localhost:5001/processed/cat1.jpg", s.UploadedImageURL())
	got := s.Results()
	require.Len(t, got, 1)
	assert.Equal(t, "cat2.jpg", got[0].ImageName)
	assert.Equal(t, 1, notifier.count("error"))
}

func TestSetFeedback_DoesNotTouchNeighbors(t *testing.T) {
	ranked := []retrieval.SimilarityResult{
		{ImageName: "a.jpg", Category: "cats", SimilarityScore: 0.1},
		{ImageName: "b.jpg", Category: "cats", SimilarityScore: 0.2},
		{ImageName: "c.jpg", Category: "dogs", SimilarityScore: 0.3},
	}
	server := rankedBackend(t, ranked)
	defer server.Close()

	s := New(retrieval.NewClient(server.URL, newTestLogger()), nil, &recordingNotifier{}, newTestLogger())
	require.NoError(t, s.SubmitQuery(context.Background(), "q.jpg", strings.NewReader("jpeg")))

	require.NoError(t, s.SetFeedback(1, retrieval.FeedbackIrrelevant))

	got := s.Results()
	assert.Equal(t, retrieval.Feedback(""), got[0].Feedback)
	assert.Equal(t, retrieval.FeedbackIrrelevant, got[1].Feedback)
	assert.Equal(t, retrieval.Feedback(""), got[2].Feedback)

	assert.Error(t, s.SetFeedback(0, retrieval.Feedback("maybe")))
	assert.Panics(t, func() { s.SetFeedback(17, retrieval.FeedbackRelevant) })
	assert.Panics(t, func() { s.SetFeedback(-1, retrieval.FeedbackRelevant) })
}

func TestSubmitFeedback_SendsOnlyExplicitEntries(t *testing.T) {
	reranked := []retrieval.SimilarityResult{
		{ImageName: "cat3.jpg", Category: "cats", SimilarityScore: 0.05},
	}
	var captured retrieval.FeedbackSubmission
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/save-image":
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(retrieval.SaveImageResponse{
				UploadedImageURL: "http://localhost:5001/processed/cat1.jpg",
				SimilarImages: []retrieval.SimilarityResult{
					{ImageName: "cat2.jpg", Category: "cats", SimilarityScore: 0.87},
					{ImageName: "dog1.jpg", Category: "dogs", SimilarityScore: 1.2},
					{ImageName: "cat8.jpg", Category: "cats", SimilarityScore: 1.9},
				},
				QueryDescriptors: &retrieval.DescriptorSet{Histogram: []float64{1, 2}},
			})
		case "/submit_feedback":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(retrieval.FeedbackResponse{Status: "success", SimilarImages: reranked})
		}
	}))
	defer server.Close()

	s := New(retrieval.NewClient(server.URL, newTestLogger()), nil, &recordingNotifier{}, newTestLogger())
	require.NoError(t, s.SubmitQuery(context.Background(), "cat1.jpg", strings.NewReader("jpeg")))

	// Only index 0 is explicitly marked; index 1 and 2 keep their untouched
	// placeholder and must not be sent.
	require.NoError(t, s.SetFeedback(0, retrieval.FeedbackRelevant))
	require.NoError(t, s.SubmitFeedback(context.Background()))

	require.Len(t, captured.FeedbackItems, 1)
	assert.Equal(t, retrieval.FeedbackItem{
		ImageName: "cat2.jpg", Category: "cats", Feedback: retrieval.FeedbackRelevant,
	}, captured.FeedbackItems[0])
	assert.Equal(t, []float64{1, 2}, captured.QueryDescriptors.Histogram)

	// The result list is fully replaced and marks cleared for a fresh round.
	got := s.Results()
	require.Len(t, got, 1)
	assert.Equal(t, "cat3.jpg", got[0].ImageName)
	assert.ErrorIs(t, s.SubmitFeedback(context.Background()), ErrNoFeedback)
}

func TestSubmitFeedback_NeutralSetExplicitlyIsSent(t *testing.T) {
	var captured retrieval.FeedbackSubmission
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/save-image":
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(retrieval.SaveImageResponse{
				UploadedImageURL: "http://x/processed/q.jpg",
				SimilarImages: []retrieval.SimilarityResult{
					{ImageName: "a.jpg", Category: "cats", SimilarityScore: 0.5},
				},
			})
		case "/submit_feedback":
			json.NewDecoder(r.Body).Decode(&captured)
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(retrieval.FeedbackResponse{Status: "success", SimilarImages: []retrieval.SimilarityResult{}})
		}
	}))
	defer server.Close()

	s := New(retrieval.NewClient(server.URL, newTestLogger()), nil, &recordingNotifier{}, newTestLogger())
	require.NoError(t, s.SubmitQuery(context.Background(), "q.jpg", strings.NewReader("jpeg")))

	// An affirmative neutral choice is a real selection, unlike the untouched
	// placeholder.
	require.NoError(t, s.SetFeedback(0, retrieval.FeedbackNeutral))
	require.NoError(t, s.SubmitFeedback(context.Background()))
	require.Len(t, captured.FeedbackItems, 1)
	assert.Equal(t, retrieval.FeedbackNeutral, captured.FeedbackItems[0].Feedback)
}

func TestSubmitFeedback_FailureKeepsResultsAndMarks(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/save-image":
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(retrieval.SaveImageResponse{
				UploadedImageURL: "http://x/processed/q.jpg",
				SimilarImages: []retrieval.SimilarityResult{
					{ImageName: "a.jpg", Category: "cats", SimilarityScore: 0.5},
				},
			})
		case "/submit_feedback":
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(retrieval.FeedbackResponse{Status: "error", Message: "boom"})
		}
	}))
	defer server.Close()

	s := New(retrieval.NewClient(server.URL, newTestLogger()), nil, &recordingNotifier{}, newTestLogger())
	require.NoError(t, s.SubmitQuery(context.Background(), "q.jpg", strings.NewReader("jpeg")))
	require.NoError(t, s.SetFeedback(0, retrieval.FeedbackRelevant))

	require.Error(t, s.SubmitFeedback(context.Background()))
	assert.Equal(t, StateRanked, s.State())

	got := s.Results()
	require.Len(t, got, 1)
	assert.Equal(t, retrieval.FeedbackRelevant, got[0].Feedback)

	// The mark survived, so a second submission still sends the entry.
	assert.NotErrorIs(t, s.SubmitFeedback(context.Background()), ErrNoFeedback)
}

func TestFetchDescriptor_SupersededFetchIsDiscarded(t *testing.T) {
	release := make(chan struct{})
	var calls int
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/save-image":
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(retrieval.SaveImageResponse{
				UploadedImageURL: "http://x/processed/q.jpg",
				SimilarImages:    []retrieval.SimilarityResult{},
			})
		case "/calculate-histogram":
			mu.Lock()
			calls++
			first := calls == 1
			mu.Unlock()
			if first {
				<-release
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(retrieval.HistogramResponse{
				Histogram: &retrieval.Histogram{Red: []float64{float64(calls)}, Green: []float64{0}, Blue: []float64{0}},
			})
		}
	}))
	defer server.Close()

	s := New(retrieval.NewClient(server.URL, newTestLogger()), nil, &recordingNotifier{}, newTestLogger())
	require.NoError(t, s.SubmitQuery(context.Background(), "q.jpg", strings.NewReader("jpeg")))

	firstErr := make(chan error, 1)
	go func() {
		_, err := s.FetchDescriptor(context.Background(), retrieval.KindHistogram)
		firstErr <- err
	}()

	// Wait for the first fetch to reach the backend, then supersede it.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 1
	}, time.Second, 5*time.Millisecond)

	snap, err := s.FetchDescriptor(context.Background(), retrieval.KindHistogram)
	require.NoError(t, err)
	close(release)

	err = <-firstErr
	assert.ErrorIs(t, err, ErrSuperseded)

	// The applied snapshot is the newer fetch's, not the stale one.
	applied := s.Descriptor(retrieval.KindHistogram)
	require.NotNil(t, applied)
	assert.Equal(t, snap.Histogram.Red, applied.Histogram.Red)
}

func TestFetchDescriptor_RequiresQueryImage(t *testing.T) {
	server := rankedBackend(t, nil)
	defer server.Close()
	s := New(retrieval.NewClient(server.URL, newTestLogger()), nil, &recordingNotifier{}, newTestLogger())
	_, err := s.FetchDescriptor(context.Background(), retrieval.KindHistogram)
	assert.ErrorIs(t, err, ErrNoQuery)
}

func TestResume_RestoresRankedState(t *testing.T) {
	dir := t.TempDir()
	fileStore := store.NewFileStore(filepath.Join(dir, "session.json"))

	ranked := []retrieval.SimilarityResult{{ImageName: "cat2.jpg", Category: "cats", SimilarityScore: 0.87}}
	server := rankedBackend(t, ranked)
	defer server.Close()

	s := New(retrieval.NewClient(server.URL, newTestLogger()), fileStore, &recordingNotifier{}, newTestLogger())
	require.NoError(t, s.SubmitQuery(context.Background(), "cat1.jpg", strings.NewReader("jpeg")))

	// A fresh session over the same store resumes without a round trip.
	resumed := New(retrieval.NewClient(server.URL, newTestLogger()), fileStore, &recordingNotifier{}, newTestLogger())
	require.NoError(t, resumed.Resume(context.Background()))
	assert.Equal(t, StateRanked, resumed.State())
	got := resumed.Results()
	require.Len(t, got, 1)
	assert.Equal(t, "cat2.jpg", got[0].ImageName)
	assert.Equal(t, "http://localhost:5001/processed/cat1.jpg", resumed.UploadedImageURL())
}

func TestEndToEnd_CatScenario(t *testing.T) {
	var captured retrieval.FeedbackSubmission
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/save-image":
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(retrieval.SaveImageResponse{
				UploadedImageURL: "http://localhost:5001/processed/cat1.jpg",
				SimilarImages: []retrieval.SimilarityResult{
					{ImageName: "cat2.jpg", Category: "cats", SimilarityScore: 0.87},
				},
			})
		case "/submit_feedback":
			json.NewDecoder(r.Body).Decode(&captured)
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(retrieval.FeedbackResponse{Status: "success", SimilarImages: []retrieval.SimilarityResult{}})
		}
	}))
	defer server.Close()

	s := New(retrieval.NewClient(server.URL, newTestLogger()), nil, &recordingNotifier{}, newTestLogger())
	require.NoError(t, s.SubmitQuery(context.Background(), "cat1.jpg", strings.NewReader("jpeg")))

	got := s.Results()
	require.Len(t, got, 1)
	assert.Equal(t, "Category: cats", "Category: "+got[0].Category)
	assert.Equal(t, "Similarity Score: 0.8700", "Similarity Score: "+got[0].SimilarityScore.String())

	require.NoError(t, s.SetFeedback(0, retrieval.FeedbackRelevant))
	require.NoError(t, s.SubmitFeedback(context.Background()))

	assert.Equal(t, []retrieval.FeedbackItem{
		{ImageName: "cat2.jpg", Category: "cats", Feedback: retrieval.FeedbackRelevant},
	}, captured.FeedbackItems)
}

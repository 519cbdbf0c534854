package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velia-labs/imagematch/internal/api"
	"github.com/velia-labs/imagematch/internal/api/handlers"
	"github.com/velia-labs/imagematch/internal/models"
	"github.com/velia-labs/imagematch/internal/services"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func writePNG(t *testing.T, path string, c color.RGBA) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 24, 24))
	for y := 0; y < 24; y++ {
		for x := 0; x < 24; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func newTestRouter(t *testing.T) (*gin.Engine, *services.SearchService) {
	t.Helper()
	root := t.TempDir()
	datasetDir := filepath.Join(root, "dataset")
	writePNG(t, filepath.Join(datasetDir, "reds", "red1.png"), color.RGBA{R: 250, A: 255})
	writePNG(t, filepath.Join(datasetDir, "reds", "red2.png"), color.RGBA{R: 200, G: 20, B: 20, A: 255})
	writePNG(t, filepath.Join(datasetDir, "blues", "blue1.png"), color.RGBA{B: 250, A: 255})

	logger := quietLogger()
	searchService := services.NewSearchService(nil, nil, datasetDir, filepath.Join(root, "processed"), logger)
	require.NoError(t, searchService.BuildIndexFromDisk(context.Background()))

	descriptorService := services.NewDescriptorService(
		searchService, filepath.Join(root, "gabor"), filepath.Join(root, "humoments"), logger)

	router := api.NewRouter(
		handlers.NewRetrievalHandler(searchService, logger),
		handlers.NewDescriptorHandler(descriptorService, logger),
		nil,
		nil,
		api.StaticPaths{
			Dataset:   datasetDir,
			Processed: filepath.Join(root, "processed"),
			Gabor:     filepath.Join(root, "gabor"),
			HuMoments: filepath.Join(root, "humoments"),
		},
		logger,
	)
	return router, searchService
}

func uploadRequest(t *testing.T, c color.RGBA) *http.Request {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 24, 24))
	for y := 0; y < 24; y++ {
		for x := 0; x < 24; x++ {
			img.SetRGBA(x, y, c)
		}
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", "query.png")
	require.NoError(t, err)
	require.NoError(t, png.Encode(part, img))
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/save-image", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("X-Session-ID", "test-session")
	return req
}

func TestSaveImageRanksDataset(t *testing.T) {
	router, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, uploadRequest(t, color.RGBA{R: 250, A: 255}))
	require.Equal(t, http.StatusOK, w.Code)

	var resp models.SaveImageResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	assert.Equal(t, "Image uploaded successfully", resp.Message)
	assert.Contains(t, resp.UploadedImageURL, "/processed/")
	require.Len(t, resp.SimilarImages, 3)
	assert.Equal(t, "red1.png", resp.SimilarImages[0].ImageName)
	assert.LessOrEqual(t, resp.SimilarImages[0].SimilarityScore, resp.SimilarImages[1].SimilarityScore)
	assert.LessOrEqual(t, resp.SimilarImages[1].SimilarityScore, resp.SimilarImages[2].SimilarityScore)
	require.NotNil(t, resp.QueryDescriptors)
	assert.Len(t, resp.QueryDescriptors.Histogram, 768)
}

func TestSaveImageRejectsMissingFile(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/save-image", bytes.NewBufferString("{}"))
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSaveImageRejectsUndecodableUpload(t *testing.T) {
	router, _ := newTestRouter(t)

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", "nope.png")
	require.NoError(t, err)
	part.Write([]byte("not an image"))
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/save-image", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetImages(t *testing.T) {
	router, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/get-images", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp models.GetImagesResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, []string{"blues/blue1.png", "reds/red1.png", "reds/red2.png"}, resp.Images)
}

func TestGetSimilarImagesFollowsSession(t *testing.T) {
	router, _ := newTestRouter(t)

	// Before any upload the list is empty.
	req := httptest.NewRequest(http.MethodGet, "/get-similar-images", nil)
	req.Header.Set("X-Session-ID", "test-session")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var empty models.GetSimilarImagesResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &empty))
	assert.Empty(t, empty.SimilarImages)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, uploadRequest(t, color.RGBA{R: 250, A: 255}))
	require.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/get-similar-images", nil)
	req.Header.Set("X-Session-ID", "test-session")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp models.GetSimilarImagesResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.SimilarImages, 3)
}

func TestSubmitFeedbackRerankAndWeights(t *testing.T) {
	router, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, uploadRequest(t, color.RGBA{R: 250, A: 255}))
	require.Equal(t, http.StatusOK, w.Code)

	body, err := json.Marshal(models.SubmitFeedbackRequest{
		FeedbackItems: []models.FeedbackItem{
			{ImageName: "red1.png", Category: "reds", Feedback: "relevant"},
			{ImageName: "blue1.png", Category: "blues", Feedback: "irrelevant"},
		},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/submit_feedback", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Session-ID", "test-session")

	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp models.SubmitFeedbackResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "success", resp.Status)
	assert.NotEmpty(t, resp.NewWeights)
	assert.Len(t, resp.SimilarImages, 3)
}

func TestSubmitFeedbackWithoutQueryReportsError(t *testing.T) {
	router, _ := newTestRouter(t)

	body, err := json.Marshal(models.SubmitFeedbackRequest{
		FeedbackItems: []models.FeedbackItem{
			{ImageName: "red1.png", Category: "reds", Feedback: "relevant"},
		},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/submit_feedback", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Session-ID", "fresh-session")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp models.SubmitFeedbackResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.NotEmpty(t, resp.Message)
}

func TestSubmitFeedbackRecoversFreshSessionFromDescriptors(t *testing.T) {
	router, searchService := newTestRouter(t)

	// Upload under one session id, then submit feedback under another,
	// echoing the query descriptors back the way the upload response
	// delivered them. The backend rebuilds the query from the payload.
	w := httptest.NewRecorder()
	router.ServeHTTP(w, uploadRequest(t, color.RGBA{R: 250, A: 255}))
	require.Equal(t, http.StatusOK, w.Code)

	var uploaded models.SaveImageResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &uploaded))
	require.NotNil(t, uploaded.QueryDescriptors)

	body, err := json.Marshal(models.SubmitFeedbackRequest{
		QueryDescriptors: *uploaded.QueryDescriptors,
		FeedbackItems: []models.FeedbackItem{
			{ImageName: "red1.png", Category: "reds", Feedback: "relevant"},
		},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/submit_feedback", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Session-ID", "session-after-restart")

	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp models.SubmitFeedbackResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "success", resp.Status)
	require.Len(t, resp.SimilarImages, 3)
	assert.Equal(t, "red1.png", resp.SimilarImages[0].ImageName)

	assert.NotEmpty(t, searchService.CurrentResults(context.Background(), "session-after-restart"))
}

func TestSubmitFeedbackRejectsEmptyItems(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/submit_feedback",
		bytes.NewBufferString(`{"feedback_items":[]}`))
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthWithoutChecker(t *testing.T) {
	router, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

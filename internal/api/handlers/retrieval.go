package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/velia-labs/imagematch/internal/descriptor"
	"github.com/velia-labs/imagematch/internal/models"
	"github.com/velia-labs/imagematch/internal/services"
	"github.com/velia-labs/imagematch/pkg/utils"
)

const maxUploadBytes = 16 << 20

// RetrievalHandler serves the upload, ranking and feedback endpoints.
type RetrievalHandler struct {
	searchService *services.SearchService
	logger        *logrus.Logger
}

func NewRetrievalHandler(searchService *services.SearchService, logger *logrus.Logger) *RetrievalHandler {
	return &RetrievalHandler{
		searchService: searchService,
		logger:        logger,
	}
}

// HandleSaveImage accepts a multipart upload, ranks the dataset against it
// and returns the ranked matches.
func (h *RetrievalHandler) HandleSaveImage(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Missing file field", err)
		return
	}
	defer file.Close()

	img, err := descriptor.Decode(file)
	if err != nil {
		h.logger.WithError(err).WithField("filename", header.Filename).Warn("Rejected undecodable upload")
		utils.ErrorResponse(c, http.StatusBadRequest, "Unsupported image format", err)
		return
	}

	session := h.userSession(c)
	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	uploadedURL, query, results, err := h.searchService.Search(ctx, session, header.Filename, img)
	if err != nil {
		h.logger.WithError(err).Error("Search failed")
		utils.ErrorResponse(c, http.StatusInternalServerError, "Search failed", err)
		return
	}

	c.JSON(http.StatusOK, models.SaveImageResponse{
		Message:          "Image uploaded successfully",
		UploadedImageURL: uploadedURL,
		SimilarImages:    results,
		QueryDescriptors: queryPayload(query),
	})
}

// HandleGetImages lists every indexed dataset image.
func (h *RetrievalHandler) HandleGetImages(c *gin.Context) {
	c.JSON(http.StatusOK, models.GetImagesResponse{Images: h.searchService.ListImages()})
}

// HandleGetSimilarImages returns the current ranked list for the session.
func (h *RetrievalHandler) HandleGetSimilarImages(c *gin.Context) {
	results := h.searchService.CurrentResults(c.Request.Context(), h.userSession(c))
	if results == nil {
		results = []models.RankedImage{}
	}
	c.JSON(http.StatusOK, models.GetSimilarImagesResponse{SimilarImages: results})
}

// HandleSubmitFeedback applies relevance feedback and returns the re-ranked
// matches with the new weights.
func (h *RetrievalHandler) HandleSubmitFeedback(c *gin.Context) {
	var req models.SubmitFeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid feedback format", err)
		return
	}
	if len(req.FeedbackItems) == 0 {
		utils.ErrorResponse(c, http.StatusBadRequest, "No feedback items submitted", nil)
		return
	}

	session := h.userSession(c)
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	weights, results, err := h.searchService.ApplyFeedback(ctx, session, querySet(req.QueryDescriptors), req.FeedbackItems)
	if err != nil {
		h.logger.WithError(err).Error("Feedback application failed")
		c.JSON(http.StatusOK, models.SubmitFeedbackResponse{
			Status:  "error",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, models.SubmitFeedbackResponse{
		Status:        "success",
		Message:       "Feedback applied",
		NewWeights:    weights,
		SimilarImages: results,
	})
}

func queryPayload(q descriptor.Set) *models.QueryDescriptors {
	return &models.QueryDescriptors{
		Histogram:        q.Histogram,
		DominantColors:   q.DominantColors,
		GaborDescriptors: q.GaborDescriptors,
		HuMoments:        q.HuMoments,
		TextureEnergy:    q.TextureEnergy,
		Circularity:      q.Circularity,
	}
}

func querySet(q models.QueryDescriptors) descriptor.Set {
	return descriptor.Set{
		Histogram:        q.Histogram,
		DominantColors:   q.DominantColors,
		GaborDescriptors: q.GaborDescriptors,
		HuMoments:        q.HuMoments,
		TextureEnergy:    q.TextureEnergy,
		Circularity:      q.Circularity,
	}
}

func (h *RetrievalHandler) userSession(c *gin.Context) string {
	if session := c.GetHeader("X-Session-ID"); session != "" {
		return session
	}
	return utils.GenerateSessionID(c.ClientIP() + c.GetHeader("User-Agent"))
}

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/velia-labs/imagematch/internal/models"
	"github.com/velia-labs/imagematch/internal/services"
	"github.com/velia-labs/imagematch/pkg/utils"
)

// DescriptorHandler serves the descriptor calculation and visualization
// endpoints.
type DescriptorHandler struct {
	descriptorService *services.DescriptorService
	logger            *logrus.Logger
}

func NewDescriptorHandler(descriptorService *services.DescriptorService, logger *logrus.Logger) *DescriptorHandler {
	return &DescriptorHandler{
		descriptorService: descriptorService,
		logger:            logger,
	}
}

// HandleCalculateHistogram returns per-channel histograms.
func (h *DescriptorHandler) HandleCalculateHistogram(c *gin.Context) {
	var req models.DescriptorImageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request format", err)
		return
	}

	resp, err := h.descriptorService.Histogram(req.Image)
	if err != nil {
		h.logger.WithError(err).WithField("image", req.Image).Warn("Histogram calculation failed")
		utils.ErrorResponse(c, http.StatusNotFound, "Image not found", err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleCalculateDominantColors returns the dominant color palette.
func (h *DescriptorHandler) HandleCalculateDominantColors(c *gin.Context) {
	var req models.DescriptorImageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request format", err)
		return
	}

	resp, err := h.descriptorService.DominantColors(req.Image)
	if err != nil {
		h.logger.WithError(err).WithField("image", req.Image).Warn("Dominant color calculation failed")
		utils.ErrorResponse(c, http.StatusNotFound, "Image not found", err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleCalculateFeatureDescriptors returns the gabor or hu-moment vector.
func (h *DescriptorHandler) HandleCalculateFeatureDescriptors(c *gin.Context) {
	var req models.FeatureDescriptorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	if req.DescriptorType != "gabor" && req.DescriptorType != "hu_moments" {
		utils.ErrorResponse(c, http.StatusBadRequest, "Unknown descriptor type", nil)
		return
	}

	resp, err := h.descriptorService.FeatureDescriptors(req.Image, req.DescriptorType)
	if err != nil {
		h.logger.WithError(err).WithField("image", req.Image).Warn("Feature descriptor calculation failed")
		utils.ErrorResponse(c, http.StatusNotFound, "Image not found", err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleCalculateGabor renders the gabor filter response image.
func (h *DescriptorHandler) HandleCalculateGabor(c *gin.Context) {
	var req models.DescriptorImageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request format", err)
		return
	}

	resp, err := h.descriptorService.GaborImage(req.Image)
	if err != nil {
		h.logger.WithError(err).WithField("image", req.Image).Warn("Gabor rendering failed")
		utils.ErrorResponse(c, http.StatusNotFound, "Image not found", err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleCalculateHuMoments renders the binarized shape image.
func (h *DescriptorHandler) HandleCalculateHuMoments(c *gin.Context) {
	var req models.DescriptorImageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request format", err)
		return
	}

	resp, err := h.descriptorService.HuMomentsImage(req.Image)
	if err != nil {
		h.logger.WithError(err).WithField("image", req.Image).Warn("Hu moments rendering failed")
		utils.ErrorResponse(c, http.StatusNotFound, "Image not found", err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

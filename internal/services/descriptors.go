package services

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/velia-labs/imagematch/internal/descriptor"
	"github.com/velia-labs/imagematch/internal/models"
)

// DescriptorService computes descriptor payloads and renders the gabor and
// hu-moment visualization images.
type DescriptorService struct {
	search   *SearchService
	gaborDir string
	huDir    string
	logger   *logrus.Logger
}

func NewDescriptorService(search *SearchService, gaborDir, huDir string, logger *logrus.Logger) *DescriptorService {
	return &DescriptorService{
		search:   search,
		gaborDir: gaborDir,
		huDir:    huDir,
		logger:   logger,
	}
}

// Histogram returns the per-channel histograms of the referenced image.
func (d *DescriptorService) Histogram(ref string) (*models.HistogramResponse, error) {
	img, err := d.search.ResolveImage(ref)
	if err != nil {
		return nil, err
	}
	red, green, blue := descriptor.ChannelHistograms(img)
	return &models.HistogramResponse{
		Histogram: &models.HistogramData{Red: red, Green: green, Blue: blue},
	}, nil
}

// DominantColors returns the dominant color palette of the referenced image
// as rounded RGB triples.
func (d *DescriptorService) DominantColors(ref string) (*models.DominantColorsResponse, error) {
	img, err := d.search.ResolveImage(ref)
	if err != nil {
		return nil, err
	}
	palette := descriptor.DominantColors(img)
	colors := make([][]int, 0, len(palette))
	for _, c := range palette {
		rgb := make([]int, len(c))
		for i, v := range c {
			rgb[i] = int(math.Round(v))
		}
		colors = append(colors, rgb)
	}
	return &models.DominantColorsResponse{DominantColors: colors}, nil
}

// FeatureDescriptors returns the gabor or hu-moment vector of the referenced
// image together with its rendered visualization.
func (d *DescriptorService) FeatureDescriptors(ref, kind string) (*models.FeatureDescriptorsResponse, error) {
	img, err := d.search.ResolveImage(ref)
	if err != nil {
		return nil, err
	}

	switch kind {
	case "gabor":
		url, err := d.renderGabor(ref)
		if err != nil {
			d.logger.WithError(err).Warn("Failed to render gabor image")
		}
		return &models.FeatureDescriptorsResponse{
			Kind:        kind,
			Descriptors: descriptor.GaborDescriptors(img),
			ImageURL:    url,
		}, nil
	case "hu_moments":
		url, err := d.renderHuMoments(ref)
		if err != nil {
			d.logger.WithError(err).Warn("Failed to render hu moments image")
		}
		return &models.FeatureDescriptorsResponse{
			Kind:        kind,
			Descriptors: descriptor.HuMoments(img),
			ImageURL:    url,
		}, nil
	}
	return nil, fmt.Errorf("unknown descriptor type: %s", kind)
}

// GaborImage renders the gabor filter response of the referenced image and
// returns its URL.
func (d *DescriptorService) GaborImage(ref string) (*models.GaborImageResponse, error) {
	url, err := d.renderGabor(ref)
	if err != nil {
		return nil, err
	}
	return &models.GaborImageResponse{GaborImageURL: url}, nil
}

// HuMomentsImage renders the binarized shape image used for hu moments and
// returns its URL.
func (d *DescriptorService) HuMomentsImage(ref string) (*models.HuMomentsImageResponse, error) {
	img, err := d.search.ResolveImage(ref)
	if err != nil {
		return nil, err
	}
	url, err := d.renderHuMoments(ref)
	if err != nil {
		return nil, err
	}
	return &models.HuMomentsImageResponse{
		HuMoments:         descriptor.HuMoments(img),
		HuMomentsImageURL: url,
	}, nil
}

func (d *DescriptorService) renderGabor(ref string) (string, error) {
	img, err := d.search.ResolveImage(ref)
	if err != nil {
		return "", err
	}
	name := renderedFileName(ref)
	if err := os.MkdirAll(d.gaborDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create gabor directory: %w", err)
	}
	if err := descriptor.SaveJPEG(filepath.Join(d.gaborDir, name), descriptor.GaborImage(img)); err != nil {
		return "", fmt.Errorf("failed to save gabor image: %w", err)
	}
	return "/gabor/" + name, nil
}

func (d *DescriptorService) renderHuMoments(ref string) (string, error) {
	img, err := d.search.ResolveImage(ref)
	if err != nil {
		return "", err
	}
	name := renderedFileName(ref)
	if err := os.MkdirAll(d.huDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create hu moments directory: %w", err)
	}
	if err := descriptor.SaveJPEG(filepath.Join(d.huDir, name), descriptor.HuMomentsImage(img)); err != nil {
		return "", fmt.Errorf("failed to save hu moments image: %w", err)
	}
	return "/humoments/" + name, nil
}

func renderedFileName(ref string) string {
	flat := strings.NewReplacer("/", "_", "\\", "_", " ", "_").Replace(ref)
	ext := filepath.Ext(flat)
	stem := strings.TrimSuffix(flat, ext)
	return fmt.Sprintf("%s_%d.jpg", stem, time.Now().UnixNano())
}

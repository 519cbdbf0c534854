// Package seeder extracts descriptors for whole dataset directories ahead
// of serving time.
package seeder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/velia-labs/imagematch/internal/descriptor"
	"github.com/velia-labs/imagematch/internal/models"
)

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// Processor walks a dataset directory and extracts descriptors with a fixed
// number of workers.
type Processor struct {
	concurrency int
	logger      *logrus.Logger
}

func NewProcessor(concurrency int, logger *logrus.Logger) *Processor {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Processor{
		concurrency: concurrency,
		logger:      logger,
	}
}

type job struct {
	category string
	name     string
	path     string
}

// ProcessDataset extracts descriptors for every image under
// datasetDir/<category>/<image>. Undecodable images are skipped with a
// warning; the returned slice is ordered by category then name.
func (p *Processor) ProcessDataset(ctx context.Context, datasetDir string) ([]models.ImageDescriptor, error) {
	jobs, err := p.collectJobs(datasetDir)
	if err != nil {
		return nil, err
	}

	jobCh := make(chan job)
	results := make([]models.ImageDescriptor, 0, len(jobs))

	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < p.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobCh {
				desc, err := p.processOne(j)
				if err != nil {
					p.logger.WithError(err).WithField("image", j.path).Warn("Skipping image")
					continue
				}
				mu.Lock()
				results = append(results, desc)
				mu.Unlock()
			}
		}()
	}

	for _, j := range jobs {
		if err := ctx.Err(); err != nil {
			break
		}
		jobCh <- j
	}
	close(jobCh)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, k int) bool {
		if results[i].Category != results[k].Category {
			return results[i].Category < results[k].Category
		}
		return results[i].ImageName < results[k].ImageName
	})

	p.logger.WithFields(logrus.Fields{
		"images":  len(results),
		"skipped": len(jobs) - len(results),
	}).Info("Dataset processing completed")

	return results, nil
}

func (p *Processor) collectJobs(datasetDir string) ([]job, error) {
	categories, err := os.ReadDir(datasetDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset directory: %w", err)
	}

	var jobs []job
	for _, cat := range categories {
		if !cat.IsDir() {
			continue
		}
		images, err := os.ReadDir(filepath.Join(datasetDir, cat.Name()))
		if err != nil {
			p.logger.WithError(err).WithField("category", cat.Name()).Warn("Skipping unreadable category")
			continue
		}
		for _, img := range images {
			if img.IsDir() || !IsSupportedImage(img.Name()) {
				continue
			}
			jobs = append(jobs, job{
				category: cat.Name(),
				name:     img.Name(),
				path:     filepath.Join(datasetDir, cat.Name(), img.Name()),
			})
		}
	}
	return jobs, nil
}

func (p *Processor) processOne(j job) (models.ImageDescriptor, error) {
	img, err := descriptor.Load(j.path)
	if err != nil {
		return models.ImageDescriptor{}, err
	}

	set := descriptor.Extract(img)
	return models.ImageDescriptor{
		Category:         j.category,
		ImageName:        j.name,
		Histogram:        set.Histogram,
		DominantColors:   set.DominantColors,
		GaborDescriptors: set.GaborDescriptors,
		HuMoments:        set.HuMoments,
		TextureEnergy:    set.TextureEnergy,
		Circularity:      set.Circularity,
	}, nil
}

// IsSupportedImage reports whether the filename carries a decodable image
// extension.
func IsSupportedImage(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png", ".gif":
		return true
	}
	return false
}

// NormalizeImageName makes a downloaded filename safe to store on disk.
func NormalizeImageName(name string) string {
	name = filepath.Base(name)
	name = strings.ReplaceAll(name, " ", "_")
	return unsafeNameChars.ReplaceAllString(name, "")
}

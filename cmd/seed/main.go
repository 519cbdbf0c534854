package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/velia-labs/imagematch/internal/config"
	"github.com/velia-labs/imagematch/internal/database"
	"github.com/velia-labs/imagematch/internal/repository"
	"github.com/velia-labs/imagematch/internal/seeder"
	"github.com/velia-labs/imagematch/pkg/utils"
)

var (
	dryRun     = flag.Bool("dry-run", false, "Don't write to the database, just print what would be stored")
	verbose    = flag.Bool("verbose", false, "Enable verbose logging")
	imageLimit = flag.Int("limit", 0, "Limit number of images to process (0 = all)")
	concurrent = flag.Int("concurrent", 2, "Number of concurrent descriptor extractions")
	delay      = flag.Duration("delay", 2*time.Second, "Delay between remote downloads")
	remoteURL  = flag.String("remote", "", "Remote gallery page to download dataset images from")
	category   = flag.String("category", "misc", "Category to file remote downloads under")
)

func main() {
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	logger := utils.GetLogger()
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	if *remoteURL != "" {
		if err := downloadRemoteImages(cfg.Paths.Dataset, *remoteURL, *category, logger); err != nil {
			logger.WithError(err).Fatal("Remote download failed")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	processor := seeder.NewProcessor(*concurrent, logger)
	descriptors, err := processor.ProcessDataset(ctx, cfg.Paths.Dataset)
	if err != nil {
		logger.WithError(err).Fatal("Dataset processing failed")
	}

	if *imageLimit > 0 && *imageLimit < len(descriptors) {
		descriptors = descriptors[:*imageLimit]
		logger.WithField("limit", *imageLimit).Info("Limited images to store")
	}

	if *dryRun {
		for _, d := range descriptors {
			fmt.Printf("%s/%s  histogram=%d colors=%d gabor=%d\n",
				d.Category, d.ImageName, len(d.Histogram), len(d.DominantColors), len(d.GaborDescriptors))
		}
		logger.WithField("images", len(descriptors)).Info("Dry run completed, nothing stored")
		return
	}

	dbManager, err := database.NewManager(&database.Config{
		DatabaseURL: cfg.Database.URL,
		RedisURL:    cfg.Redis.URL,
		LogLevel:    cfg.LogLevel,
	}, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}
	defer dbManager.Close()

	if err := dbManager.Migrate(); err != nil {
		logger.WithError(err).Fatal("Migration failed")
	}

	repoManager := repository.NewRepositoryManager(dbManager.DB)

	stored := 0
	for _, d := range descriptors {
		desc := d
		if err := repoManager.Descriptors.Upsert(&desc); err != nil {
			logger.WithError(err).WithFields(logrus.Fields{
				"category": d.Category,
				"image":    d.ImageName,
			}).Error("Failed to store descriptors")
			continue
		}
		stored++
	}

	// Cached ranked results refer to the old dataset contents.
	cache := database.NewCache(dbManager.Redis, logger)
	if err := cache.ClearAllCache(ctx); err != nil {
		logger.WithError(err).Warn("Failed to clear cache after seeding")
	}

	logger.WithFields(logrus.Fields{
		"stored": stored,
		"total":  len(descriptors),
	}).Info("Seeding completed")
}

// downloadRemoteImages crawls a gallery page and saves every linked image
// into the dataset directory under the given category.
func downloadRemoteImages(datasetDir, pageURL, category string, logger *logrus.Logger) error {
	targetDir := filepath.Join(datasetDir, category)
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return fmt.Errorf("failed to create category directory: %w", err)
	}

	parsed, err := url.Parse(pageURL)
	if err != nil {
		return fmt.Errorf("invalid source URL: %w", err)
	}

	c := colly.NewCollector(
		colly.UserAgent("imagematch-seeder/1.0"),
		colly.AllowedDomains(parsed.Host),
	)

	c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: 1,
		Delay:       *delay,
	})

	downloaded := 0
	c.OnHTML("img[src]", func(e *colly.HTMLElement) {
		src := e.Request.AbsoluteURL(e.Attr("src"))
		name := seeder.NormalizeImageName(src)
		if name == "" || !seeder.IsSupportedImage(name) {
			return
		}
		if err := e.Request.Visit(src); err != nil && !strings.Contains(err.Error(), "already visited") {
			logger.WithError(err).WithField("url", src).Debug("Skipping image link")
		}
	})

	c.OnResponse(func(r *colly.Response) {
		if !strings.HasPrefix(r.Headers.Get("Content-Type"), "image/") {
			return
		}
		name := seeder.NormalizeImageName(r.Request.URL.Path)
		if name == "" || !seeder.IsSupportedImage(name) {
			return
		}
		path := filepath.Join(targetDir, name)
		if err := r.Save(path); err != nil {
			logger.WithError(err).WithField("image", name).Error("Failed to save image")
			return
		}
		downloaded++
		logger.WithField("image", name).Debug("Downloaded image")
	})

	c.OnError(func(r *colly.Response, err error) {
		logger.WithError(err).WithField("url", r.Request.URL.String()).Warn("Request failed")
	})

	if err := c.Visit(pageURL); err != nil {
		return fmt.Errorf("failed to crawl %s: %w", pageURL, err)
	}
	c.Wait()

	logger.WithFields(logrus.Fields{
		"downloaded": downloaded,
		"category":   category,
	}).Info("Remote download completed")
	return nil
}

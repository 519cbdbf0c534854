package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/velia-labs/imagematch/internal/retrieval"
	"github.com/velia-labs/imagematch/internal/session"
	"github.com/velia-labs/imagematch/internal/store"
	"github.com/velia-labs/imagematch/pkg/utils"
)

var (
	backendURL = flag.String("backend", "http://localhost:8080", "Backend base URL")
	statePath  = flag.String("state", defaultStatePath(), "Session state file")
	verbose    = flag.Bool("verbose", false, "Enable verbose logging")
	timeout    = flag.Duration("timeout", 30*time.Second, "Request timeout")
)

const usage = `Usage:
  imagematch signup <name> <email> <password>  register an account
  imagematch login <email> <password>          log in and remember the user
  imagematch upload <image>          upload a query image and print the ranked results
  imagematch results                 print the current ranked results
  imagematch gallery [rotations]     list the dataset gallery and rotate it
  imagematch feedback <i>=<value>... mark results (relevant|irrelevant|neutral) and submit
  imagematch descriptor <kind>       fetch a descriptor (histogram|dominant_colors|gabor_descriptors|hu_moments)
  imagematch clear                   discard the current session
`

func main() {
	flag.Parse()

	if err := godotenv.Load(); err == nil {
		log.Println("Loaded .env")
	}

	logger := utils.GetLogger()
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.WarnLevel)
	}

	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	client := retrieval.NewClient(*backendURL, logger)
	fileStore := store.NewFileStore(*statePath)
	sess := session.New(client, fileStore, session.LogNotifier{Logger: logger}, logger)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := sess.Resume(ctx); err != nil {
		logger.WithError(err).Warn("Could not resume previous session")
	}

	var err error
	switch args[0] {
	case "signup":
		err = runSignup(ctx, client, args[1:])
	case "login":
		err = runLogin(ctx, client, sess, args[1:])
	case "upload":
		err = runUpload(ctx, sess, args[1:])
	case "results":
		err = runResults(ctx, client, sess)
	case "gallery":
		err = runGallery(ctx, client, args[1:])
	case "feedback":
		err = runFeedback(ctx, sess, args[1:])
	case "descriptor":
		err = runDescriptor(ctx, sess, args[1:])
	case "clear":
		err = sess.Clear(ctx)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func runSignup(ctx context.Context, client *retrieval.Client, args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("signup needs <name> <email> <password>")
	}
	if err := client.Signup(ctx, retrieval.SignupRequest{
		FullName: args[0],
		Email:    args[1],
		Password: args[2],
	}); err != nil {
		return err
	}
	fmt.Println("Account created. Log in with: imagematch login", args[1], "<password>")
	return nil
}

func runLogin(ctx context.Context, client *retrieval.Client, sess *session.SearchSession, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("login needs <email> <password>")
	}
	resp, err := client.Login(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	sess.SetUser(ctx, &resp.User)
	fmt.Println("Logged in as", resp.User.FullName)
	return nil
}

func runUpload(ctx context.Context, sess *session.SearchSession, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("upload needs exactly one image path")
	}

	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	if err := sess.SubmitQuery(ctx, filepath.Base(args[0]), f); err != nil {
		return err
	}

	fmt.Println("Uploaded:", sess.UploadedImageURL())
	printResults(sess)
	return nil
}

func printResults(sess *session.SearchSession) {
	results := sess.Results()
	if len(results) == 0 {
		fmt.Println("No results. Upload a query image first.")
		return
	}
	printRanked(results)
}

func printRanked(results []retrieval.SimilarityResult) {
	for i, r := range results {
		fmt.Printf("%2d. %-24s Category: %-12s Similarity Score: %s  [%s]\n",
			i, r.ImageName, r.Category, r.SimilarityScore.String(), r.Feedback)
	}
}

// runResults prints the local session's ranking, or asks the backend for the
// server-side copy when no results were persisted here.
func runResults(ctx context.Context, client *retrieval.Client, sess *session.SearchSession) error {
	if len(sess.Results()) > 0 {
		printResults(sess)
		return nil
	}

	resp, err := client.GetSimilarImages(ctx)
	if err != nil {
		return err
	}
	if len(resp.SimilarImages) == 0 {
		fmt.Println("No results. Upload a query image first.")
		return nil
	}
	printRanked(resp.SimilarImages)
	return nil
}

// runGallery fetches the dataset listing and steps the carousel rotation,
// printing which image is at the front after each tick.
func runGallery(ctx context.Context, client *retrieval.Client, args []string) error {
	steps := 3
	switch len(args) {
	case 0:
	case 1:
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 0 {
			return fmt.Errorf("invalid rotation count %q", args[0])
		}
		steps = n
	default:
		return fmt.Errorf("gallery takes at most one rotation count")
	}

	resp, err := client.GetImages(ctx)
	if err != nil {
		return err
	}
	if len(resp.Images) == 0 {
		fmt.Println("The dataset is empty.")
		return nil
	}

	carousel := session.NewCarousel(resp.Images, session.DefaultRotationInterval)
	defer carousel.Stop()

	fmt.Printf("Gallery (%d images):\n", len(resp.Images))
	for _, img := range carousel.Images() {
		fmt.Println("  " + img)
	}
	for i := 0; i < steps; i++ {
		order := carousel.Rotate()
		fmt.Printf("Rotation %d: showing %s\n", i+1, order[0])
	}
	return nil
}

func runFeedback(ctx context.Context, sess *session.SearchSession, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("feedback needs at least one <index>=<value> pair")
	}

	for _, arg := range args {
		parts := strings.SplitN(arg, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid feedback %q, expected <index>=<value>", arg)
		}
		idx, err := strconv.Atoi(parts[0])
		if err != nil {
			return fmt.Errorf("invalid index %q", parts[0])
		}
		if idx < 0 || idx >= len(sess.Results()) {
			return fmt.Errorf("index %d out of range", idx)
		}
		if err := sess.SetFeedback(idx, retrieval.Feedback(parts[1])); err != nil {
			return err
		}
	}

	if err := sess.SubmitFeedback(ctx); err != nil {
		return err
	}

	fmt.Println("Feedback applied, re-ranked results:")
	printResults(sess)
	return nil
}

func runDescriptor(ctx context.Context, sess *session.SearchSession, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("descriptor needs exactly one kind")
	}

	kind := retrieval.DescriptorKind(args[0])
	snapshot, err := sess.FetchDescriptor(ctx, kind)
	if err != nil {
		return err
	}

	fmt.Printf("%s: %+v\n", kind, snapshot)
	return nil
}

func defaultStatePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".imagematch-session.json"
	}
	return filepath.Join(home, ".imagematch-session.json")
}

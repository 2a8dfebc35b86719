package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/kydzhou/go-jwxt-client/cache_store"
	"github.com/kydzhou/go-jwxt-client/credential_store"
	"github.com/kydzhou/go-jwxt-client/download_manager"
	"github.com/kydzhou/go-jwxt-client/jwxt_portal_api"
	"github.com/kydzhou/go-jwxt-client/logger"
	"github.com/kydzhou/go-jwxt-client/request_scheduler"
)

const Version = "0.1.0"

// documentListMaxAge is how long a cached course document listing is
// trusted before the portal is asked again.
const documentListMaxAge = 10 * time.Minute

func init() {
	if err := godotenv.Load(); err != nil {
		fmt.Println("No .env file found, relying on environment variables")
	}
}

// printUsage prints the complete usage information including flags and environment variables
func printUsage() {
	fmt.Fprintf(flag.CommandLine.Output(), "Usage of %s [flags] [url ...]:\n", os.Args[0])
	flag.PrintDefaults()

	fmt.Fprintln(flag.CommandLine.Output(), "\nLogger environment variables:")
	for _, v := range logger.GetEnvVarsHelp() {
		fmt.Fprintf(flag.CommandLine.Output(), "  %-20s %s\n", v.Name, v.Description)
	}

	portalEnvVars := []struct {
		Name        string
		Description string
	}{
		{"JWXT_USER", "Portal username (student account)"},
		{"JWXT_PASS", "Portal password"},
		{"JWXT_BASE_URL", "Portal base URL"},
		{"JWXT_DOWNLOAD_DIR", "Directory to save downloaded files (default: current directory)"},
	}

	fmt.Fprintln(flag.CommandLine.Output(), "\nPortal environment variables:")
	for _, v := range portalEnvVars {
		fmt.Fprintf(flag.CommandLine.Output(), "  %-20s %s\n", v.Name, v.Description)
	}
}

func main() {
	flag.Usage = printUsage

	userFlag := flag.String("user", "", "Portal username")
	passFlag := flag.String("pass", "", "Portal password")
	urlFlag := flag.String("url", "", "Portal base URL")
	downloadDirFlag := flag.String("output", "", "Directory to save downloaded files")
	courseFlag := flag.String("course", "", "Course id: download every document of the course")
	rememberFlag := flag.Bool("remember", false, "Persist credentials and session cookie for later runs")

	flag.Parse()

	cfg, err := logger.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading logger config: %v\n\n", err)
		flag.Usage()
		os.Exit(1)
	}

	log := logger.NewHybridLogger(*cfg)
	defer func() {
		if err := log.FlushWebhook(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to flush webhook logs: %v\n", err)
		}
	}()

	user := firstNonEmpty(*userFlag, os.Getenv("JWXT_USER"))
	pass := firstNonEmpty(*passFlag, os.Getenv("JWXT_PASS"))
	baseURL := firstNonEmpty(*urlFlag, os.Getenv("JWXT_BASE_URL"))
	downloadDir := firstNonEmpty(*downloadDirFlag, os.Getenv("JWXT_DOWNLOAD_DIR"), ".")

	if baseURL == "" {
		fmt.Fprintln(os.Stderr, "Missing required parameter: url must be provided as a flag or environment variable")
		os.Exit(1)
	}
	if *courseFlag == "" && flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "Nothing to download: pass -course or at least one document URL")
		flag.Usage()
		os.Exit(1)
	}

	downloadDir, err = prepareDownloadDir(downloadDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Files will be downloaded to: %s\n", downloadDir)

	stateDir, err := defaultStateDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to resolve state directory: %v\n", err)
		os.Exit(1)
	}

	credStore, err := credential_store.NewStore(filepath.Join(stateDir, "credentials.json"))
	if err != nil {
		log.Error("Failed to open credential store", "error", err)
		os.Exit(1)
	}
	cache, err := cache_store.NewCacheStore(filepath.Join(stateDir, "cache.json"))
	if err != nil {
		log.Error("Failed to open cache store", "error", err)
		os.Exit(1)
	}
	if err := cache.Load(); err != nil {
		log.Warn("Could not load cache, starting empty", "error", err)
	}

	log.Info("jwxtdl started", "version", Version)

	session, err := jwxt_portal_api.NewPortalSession(baseURL, jwxt_portal_api.WithLogger(log))
	if err != nil {
		log.Error("Failed to create portal session", "error", err)
		os.Exit(1)
	}
	session.OnSessionExpired(func() {
		log.Warn("Portal session expired, dropping saved session cookie")
		if err := credStore.ClearSessionCookie(); err != nil {
			log.Warn("Could not clear saved session cookie", "error", err)
		}
	})

	ctx := context.Background()
	if err := authenticate(ctx, session, credStore, user, pass, *rememberFlag, log); err != nil {
		log.Error("Authentication failed", "error", err)
		os.Exit(1)
	}

	sched := request_scheduler.NewDefaultScheduler()

	manager, err := download_manager.NewManager(session, baseURL, downloadDir, download_manager.WithLogger(log))
	if err != nil {
		log.Error("Failed to create download manager", "error", err)
		os.Exit(1)
	}
	view := newProgressView(manager)

	if *courseFlag != "" {
		docs, err := courseDocuments(ctx, session, sched, cache, *courseFlag, log)
		if err != nil {
			log.Error("Could not list course documents", "course", *courseFlag, "error", err)
			os.Exit(1)
		}
		for _, doc := range docs {
			_, err := manager.AddTask(download_manager.AddTaskParams{
				URL:      doc.URL,
				FileName: doc.FileName,
				Type:     download_manager.TypeDocument,
				Metadata: map[string]string{"course_id": doc.CourseID, "document_id": doc.ID},
			})
			if err != nil {
				log.Error("Could not queue document", "title", doc.Title, "error", err)
			}
		}
	}

	for _, rawurl := range flag.Args() {
		if _, err := manager.AddTask(download_manager.AddTaskParams{URL: rawurl}); err != nil {
			log.Error("Could not queue download", "url", rawurl, "error", err)
		}
	}

	manager.Wait()
	view.Wait()

	stats := manager.Stats()
	log.Info("Downloads finished", "completed", stats.Completed, "failed", stats.Failed, "cancelled", stats.Cancelled)
	fmt.Printf("Completed: %d, Failed: %d, Cancelled: %d\n", stats.Completed, stats.Failed, stats.Cancelled)
	if stats.Failed > 0 {
		os.Exit(1)
	}
}

// authenticate restores a saved session when possible and falls back to an
// interactive captcha login.
func authenticate(ctx context.Context, session *jwxt_portal_api.PortalSession, credStore *credential_store.Store, user, pass string, remember bool, log logger.Logger) error {
	saved, err := credStore.Load()
	if err == nil && saved.SessionCookie != "" && (user == "" || user == saved.Username) {
		ok, rerr := session.RestoreSession(ctx, saved.Username, saved.PasswordFingerprint, saved.SessionCookie)
		if rerr != nil {
			log.Warn("Session restore failed, falling back to login", "error", rerr)
		} else if ok {
			fmt.Printf("Restored session for %s\n", saved.Username)
			return nil
		}
	}

	if user == "" || pass == "" {
		return fmt.Errorf("no saved session; user and pass must be provided")
	}

	image, err := session.FetchCaptcha(ctx)
	if err != nil {
		return fmt.Errorf("could not fetch captcha: %w", err)
	}
	captchaPath := filepath.Join(os.TempDir(), "jwxtdl_captcha.png")
	if err := os.WriteFile(captchaPath, image, 0o644); err != nil {
		return fmt.Errorf("could not write captcha image: %w", err)
	}
	fmt.Printf("Captcha saved to %s\nEnter captcha: ", captchaPath)

	reader := bufio.NewReader(os.Stdin)
	answer, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("could not read captcha answer: %w", err)
	}

	result, err := session.Login(ctx, user, pass, strings.TrimSpace(answer))
	if err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("portal rejected login: %s", result.Message)
	}
	fmt.Printf("Logged in as %s\n", user)

	if remember {
		creds := credential_store.SavedCredentials{
			Username:            user,
			PasswordFingerprint: jwxt_portal_api.Fingerprint(pass),
		}
		if cookie, ok := session.SessionCookie(); ok {
			creds.SessionCookie = cookie
		}
		if err := credStore.Save(creds); err != nil {
			log.Warn("Could not persist credentials", "error", err)
		}
	}
	return nil
}

// courseDocuments returns the course's document listing, served from the
// cache when fresh, otherwise fetched through the rate-limited scheduler.
func courseDocuments(ctx context.Context, session *jwxt_portal_api.PortalSession, sched *request_scheduler.Scheduler, cache *cache_store.CacheStore, courseID string, log logger.Logger) ([]jwxt_portal_api.DocumentInfo, error) {
	cacheKey := "course_documents:" + courseID

	if raw, ok := cache.Fresh(cacheKey, documentListMaxAge); ok {
		var docs []jwxt_portal_api.DocumentInfo
		if err := json.Unmarshal(raw, &docs); err == nil {
			log.Debug("Course documents served from cache", "course", courseID, "count", len(docs))
			return docs, nil
		}
		log.Warn("Dropping unreadable cache entry", "key", cacheKey)
		cache.Delete(cacheKey)
	}

	docs, err := request_scheduler.Schedule(ctx, sched, func() ([]jwxt_portal_api.DocumentInfo, error) {
		return session.ListCourseDocuments(ctx, courseID)
	})
	if err != nil {
		return nil, err
	}

	if raw, merr := json.Marshal(docs); merr == nil {
		cache.Set(cacheKey, raw)
		if serr := cache.Save(); serr != nil {
			log.Warn("Could not persist cache", "error", serr)
		}
	}
	return docs, nil
}

func prepareDownloadDir(dir string) (string, error) {
	if stat, err := os.Stat(dir); err != nil {
		fmt.Printf("Warning: Download directory '%s' does not exist. Attempting to create it.\n", dir)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("failed to create download directory: %w", err)
		}
	} else if !stat.IsDir() {
		return "", fmt.Errorf("specified path '%s' is not a directory", dir)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve absolute path of download directory: %w", err)
	}
	return abs, nil
}

func defaultStateDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".jwxtdl")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

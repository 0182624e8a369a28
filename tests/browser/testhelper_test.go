package browser_test

import (
	"database/sql"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/playwright-community/playwright-go"

	_ "modernc.org/sqlite"

	web "licensure/internal/adapters/http"
	"licensure/internal/adapters/http/binder"
	"licensure/internal/adapters/http/perf"
	"licensure/internal/adapters/storage"
	"licensure/internal/adapters/storage/slot"
	"licensure/internal/application/filters"
	"licensure/internal/domain/flow"
)

// testApp holds the running test server and Playwright handles.
type testApp struct {
	BaseURL string
	DB      *sql.DB
	Server  *http.Server
	PW      *playwright.Playwright
	Browser playwright.Browser
	Slots   *slot.SQLiteStore
}

// newTestApp creates a fully wired app with a temp SQLite DB and starts an HTTP server.
func newTestApp(t *testing.T, conv flow.ClearConvention) *testApp {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping browser test in short mode")
	}

	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("failed to open test DB: %v", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)

	if err := storage.MigrateDB(db, dbPath); err != nil {
		t.Fatalf("failed to migrate test DB: %v", err)
	}

	collector := perf.NewCollector(1000)
	slots := slot.NewSQLiteStore(storage.NewTimedDB(db, collector))
	resolver := flow.NewResolver(flow.DefaultTable(), flow.DefaultPageKeys())
	hub := filters.NewHub()
	deps := web.Deps{
		Filters:   filters.NewService(slots, filters.Options{Hub: hub, LegacySlot: filters.DefaultLegacySlot}),
		Hub:       hub,
		Resolver:  resolver,
		Binder:    binder.New(resolver, binder.Options{Convention: conv}),
		Collector: collector,
	}

	// Find a free port
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find free port: %v", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	listener.Close()

	// Change to project root so the static directory resolves
	projectRoot := findProjectRoot(t)
	origDir, _ := os.Getwd()
	if err := os.Chdir(projectRoot); err != nil {
		t.Fatalf("failed to chdir to project root: %v", err)
	}
	t.Cleanup(func() { os.Chdir(origDir) })

	csrfKey, err := web.LoadCSRFKey("", false)
	if err != nil {
		t.Fatalf("csrf key: %v", err)
	}
	// Browser tests click fast; keep the limiter out of the way.
	web.RateLimitPerSecond = 1000
	handler, err := web.NewMux(web.Config{
		StaticDir: "static",
		CSRFKey:   csrfKey,
		TrustedOrigins: []string{
			fmt.Sprintf("127.0.0.1:%d", port),
			fmt.Sprintf("localhost:%d", port),
		},
	}, deps)
	if err != nil {
		t.Fatalf("NewMux: %v", err)
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf("127.0.0.1:%d", port),
		Handler: handler,
	}
	go func() {
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("test server error: %v", err)
		}
	}()

	// Wait for server to be ready
	baseURL := fmt.Sprintf("http://127.0.0.1:%d", port)
	for i := 0; i < 50; i++ {
		resp, err := http.Get(baseURL + "/api/flows")
		if err == nil {
			resp.Body.Close()
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	pw, err := playwright.Run()
	if err != nil {
		t.Skipf("playwright unavailable: %v", err)
	}
	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(true),
	})
	if err != nil {
		pw.Stop()
		t.Skipf("chromium unavailable: %v", err)
	}

	app := &testApp{
		BaseURL: baseURL,
		DB:      db,
		Server:  srv,
		PW:      pw,
		Browser: browser,
		Slots:   slots,
	}

	t.Cleanup(func() {
		browser.Close()
		pw.Stop()
		srv.Close()
		db.Close()
	})

	return app
}

// newContext creates an isolated browser context, i.e. one visitor.
func (a *testApp) newContext(t *testing.T) playwright.BrowserContext {
	t.Helper()
	bc, err := a.Browser.NewContext()
	if err != nil {
		t.Fatalf("failed to create context: %v", err)
	}
	t.Cleanup(func() { bc.Close() })
	return bc
}

// newPage creates a page (tab) in bc.
func (a *testApp) newPage(t *testing.T, bc playwright.BrowserContext) playwright.Page {
	t.Helper()
	page, err := bc.NewPage()
	if err != nil {
		t.Fatalf("failed to create page: %v", err)
	}
	t.Cleanup(func() { page.Close() })
	return page
}

// open navigates page to path.
func (a *testApp) open(t *testing.T, page playwright.Page, path string) {
	t.Helper()
	if _, err := page.Goto(a.BaseURL + path); err != nil {
		t.Fatalf("failed to navigate to %s: %v", path, err)
	}
}

// click activates the control matching selector and waits for path.
func (a *testApp) click(t *testing.T, page playwright.Page, selector, path string) {
	t.Helper()
	if err := page.Locator(selector).Click(); err != nil {
		t.Fatalf("failed to click %s: %v", selector, err)
	}
	if err := page.WaitForURL(a.BaseURL+path, playwright.PageWaitForURLOptions{
		Timeout: playwright.Float(10000),
	}); err != nil {
		t.Fatalf("%s did not navigate to %s: %v", selector, path, err)
	}
}

// summary returns the text of the selection summary.
func summary(t *testing.T, page playwright.Page) string {
	t.Helper()
	text, err := page.Locator("[data-filter-summary]").TextContent()
	if err != nil {
		t.Fatalf("failed to read summary: %v", err)
	}
	return text
}

// findProjectRoot walks up from the working directory to find the project root (contains go.mod).
func findProjectRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("failed to get working directory: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatalf("could not find project root (go.mod) from working directory")
		}
		dir = parent
	}
}

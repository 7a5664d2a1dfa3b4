package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"radiology-simulator/internal/db"
	"radiology-simulator/internal/gateway"
	"radiology-simulator/internal/hl7"
	"radiology-simulator/internal/lab"
	"radiology-simulator/internal/middleware"
	"radiology-simulator/internal/models"
	"radiology-simulator/internal/registry"
	"radiology-simulator/internal/session"
	"radiology-simulator/internal/store"
	"radiology-simulator/internal/workflow"
	"radiology-simulator/internal/worklist"
)

var (
	logger *slog.Logger

	reg      *registry.Registry
	tracker  *workflow.Tracker
	gw       *gateway.Gateway
	inbox    *gateway.Inbox
	wlWriter *worklist.Writer

	inboundAE string

	sessionCodes *session.Codes
	adminToken   string

	// HL7 feed: every workflow transition appends the message it would
	// emit, per the hospital's interface conventions.
	hl7Mu  sync.RWMutex
	hl7Log []HL7LogEntry

	forwardAddr string
)

// HL7LogEntry is one rendered message in the session feed.
type HL7LogEntry struct {
	Scope string    `json:"-"`
	Kind  string    `json:"kind"`
	At    time.Time `json:"at"`
	Text  string    `json:"text"`
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func newLogger() *slog.Logger {
	var w io.Writer = os.Stdout
	if path := os.Getenv("LOG_FILE"); path != "" {
		w = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   path,
			MaxSize:    20, // megabytes
			MaxBackups: 3,
			MaxAge:     14, // days
		})
	}
	return slog.New(slog.NewTextHandler(w, nil))
}

func main() {
	logger = newLogger()
	slog.SetDefault(logger)
	ctx := context.Background()

	port := envOr("PORT", "8080")
	pacsAddr := envOr("PACS_ADDR", "127.0.0.1:4242")
	pacsAE := envOr("PACS_AE_TITLE", "ORTHANC")
	callingAE := envOr("CALLING_AE_TITLE", "SIMULATOR")
	inboundAE = envOr("INBOUND_AE_TITLE", "RECEIVER")
	inboundAddr := envOr("INBOUND_ADDR", ":11113")
	forwardAddr = os.Getenv("HL7_FORWARD_ADDR")
	hl7ListenAddr := os.Getenv("HL7_LISTEN_ADDR")
	adminToken = os.Getenv("ADMIN_TOKEN")

	sessionCodes = session.NewCodes()
	if raw := os.Getenv("AUTO_GENERATE_SESSIONS"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			n = session.DefaultBatch
		}
		codes := sessionCodes.Generate(n)
		logger.Info("session codes generated at boot", "count", len(codes))
	}

	var (
		caseStore   workflow.CaseStore
		wlStore     worklist.Store
		reportStore workflow.ReportStore
	)
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		conn, err := db.Open(ctx, dsn)
		if err != nil {
			logger.Error("database connection failed", "error", err)
			os.Exit(1)
		}
		pg := store.NewPostgresStore(conn)
		if err := pg.Migrate(ctx); err != nil {
			logger.Error("database migration failed", "error", err)
			os.Exit(1)
		}
		caseStore, wlStore, reportStore = pg, pg, pg
		logger.Info("using postgres persistence")
	} else {
		mem := store.NewMemoryStore()
		caseStore, reportStore = mem, mem
		wlStore = worklist.NewMemoryStore()
		logger.Info("using in-memory persistence")
	}

	reg = registry.New(caseStore)
	wlWriter = worklist.NewWriter(wlStore, callingAE)
	gw = gateway.New(gateway.Config{
		PACSAddress:    pacsAddr,
		PACSAETitle:    pacsAE,
		CallingAETitle: callingAE,
		InboundAETitle: inboundAE,
		Logger:         logger,
	})
	inbox = gateway.NewInbox(inboundAE, logger)
	tracker = workflow.NewTracker(caseStore, reg, wlWriter, gw, reportStore)

	// The inbound store listener is what flips cases to retrieved: a move
	// acknowledgement alone never does.
	go func() {
		if err := inbox.Run(ctx, inboundAddr); err != nil {
			logger.Error("inbound store listener stopped", "error", err)
		}
	}()
	deliveries, cancel := inbox.Subscribe()
	defer cancel()
	go func() {
		for inst := range deliveries {
			tracker.ObserveInbound(ctx, inst)
		}
	}()

	if hl7ListenAddr != "" {
		go func() {
			if err := runHL7Intake(ctx, hl7ListenAddr); err != nil {
				logger.Error("hl7 intake stopped", "error", err)
			}
		}()
	}

	http.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.Dir("ui/static"))))
	http.HandleFunc("/", middleware.CSRF(handleDashboard))
	http.HandleFunc("/worklist", middleware.CSRF(handleWorklistPage))
	http.HandleFunc("/inbox", middleware.CSRF(handleInboxPage))

	http.HandleFunc("/api/session", middleware.CSRF(handleSession))
	http.HandleFunc("/api/admin/sessions", middleware.CSRF(handleAdminSessions))
	http.HandleFunc("/api/patients", middleware.CSRF(handleAdmit))
	http.HandleFunc("/api/lab", middleware.CSRF(handleLab))
	http.HandleFunc("/api/orders", middleware.CSRF(handleOrder))
	http.HandleFunc("/api/worklist/publish", middleware.CSRF(handlePublishWorklist))
	http.HandleFunc("/api/exam/begin", middleware.CSRF(handleBeginExam))
	http.HandleFunc("/api/images", middleware.CSRF(handleUpload))
	http.HandleFunc("/api/studies", middleware.CSRF(handleStudies))
	http.HandleFunc("/api/echo", middleware.CSRF(handleEcho))
	http.HandleFunc("/api/retrieve", middleware.CSRF(handleRetrieve))
	http.HandleFunc("/api/report", middleware.CSRF(handleReport))
	http.HandleFunc("/api/reports", middleware.CSRF(handleReports))
	http.HandleFunc("/api/cases", middleware.CSRF(handleCases))
	http.HandleFunc("/api/messages", middleware.CSRF(handleMessages))
	http.HandleFunc("/api/inbox/live", handleInboxLive)

	logger.Info("simulator UI started", "port", port, "pacs", pacsAddr)
	if err := http.ListenAndServe(":"+port, nil); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

// scopeFrom resolves the session code for a request. An empty scope is the
// trainer view over every session.
func scopeFrom(r *http.Request) string {
	if r.URL.Query().Get("all") == "1" {
		return ""
	}
	if c, err := r.Cookie("session_code"); err == nil {
		return session.Normalize(c.Value)
	}
	return ""
}

func appendHL7(scope, kind, text string) {
	hl7Mu.Lock()
	hl7Log = append(hl7Log, HL7LogEntry{Scope: scope, Kind: kind, At: time.Now(), Text: text})
	hl7Mu.Unlock()

	if forwardAddr != "" {
		go forwardHL7(text)
	}
}

func logRendered(scope string, kind hl7.EventKind, snap models.Case) {
	text, err := hl7.Render(kind, snap)
	if err != nil {
		logger.Warn("hl7 render failed", "kind", string(kind), "error", err)
		return
	}
	appendHL7(scope, string(kind), text)
}

func messagesFor(scope string) []HL7LogEntry {
	hl7Mu.RLock()
	defer hl7Mu.RUnlock()
	out := make([]HL7LogEntry, 0, len(hl7Log))
	for _, e := range hl7Log {
		if scope != "" && e.Scope != scope {
			continue
		}
		out = append(out, e)
	}
	return out
}

// httpStatusFor maps domain errors onto HTTP statuses.
func httpStatusFor(err error) int {
	var transition *workflow.TransitionError
	var missing *hl7.MissingFieldError
	var conn *gateway.ConnectivityError
	var proto *gateway.ProtocolError
	switch {
	case errors.As(err, &transition):
		return http.StatusConflict
	case errors.Is(err, registry.ErrDuplicateIdentifier), errors.Is(err, registry.ErrAlreadyBound):
		return http.StatusConflict
	case errors.Is(err, registry.ErrNotFound), errors.Is(err, registry.ErrUnknownPatient):
		return http.StatusNotFound
	case errors.Is(err, worklist.ErrMissingAccession), errors.As(err, &missing):
		return http.StatusBadRequest
	case errors.As(err, &conn):
		return http.StatusBadGateway
	case errors.As(err, &proto):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func fail(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), httpStatusFor(err))
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("response encoding failed", "error", err)
	}
}

// Session handling

func handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	code := session.Normalize(r.FormValue("code"))
	// An empty code leaves the session (trainer view); issued codes gate
	// non-empty joins once a batch exists.
	if code != "" && !sessionCodes.Allowed(code) {
		http.Error(w, "unknown session code", http.StatusForbidden)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:  "session_code",
		Value: code,
		Path:  "/",
	})
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// handleAdminSessions mints the batch of session codes for a class. The
// endpoint only exists when ADMIN_TOKEN is configured.
func handleAdminSessions(w http.ResponseWriter, r *http.Request) {
	if adminToken == "" {
		http.Error(w, "admin is not enabled", http.StatusForbidden)
		return
	}
	provided := r.Header.Get("X-Admin-Token")
	if provided == "" {
		provided = r.FormValue("token")
	}
	if provided != adminToken {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	switch r.Method {
	case "GET":
		writeJSON(w, sessionCodes.List())
	case "POST":
		n, err := strconv.Atoi(r.FormValue("count"))
		if err != nil {
			n = session.DefaultBatch
		}
		codes := sessionCodes.Generate(n)
		logger.Info("session codes generated", "count", len(codes))
		writeJSON(w, codes)
	default:
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	}
}

// Workflow handlers

func handleAdmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	scope := scopeFrom(r)
	snap, err := tracker.Admit(r.Context(), scope, r.FormValue("name"), r.FormValue("patient_id"))
	if err != nil {
		fail(w, err)
		return
	}
	logRendered(scope, hl7.ADTA01, snap)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func handleLab(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	scope := scopeFrom(r)
	patientID := registry.ScopedID(scope, r.FormValue("patient_id"))

	// The lab round trip is simulated: a query out, a result back. The
	// value is deterministic per patient so reruns reproduce.
	result := lab.Creatinine(patientID)
	snap, err := tracker.RecordLabResult(r.Context(), scope, r.FormValue("patient_id"), result.Value)
	if err != nil {
		fail(w, err)
		return
	}
	logRendered(scope, hl7.QRYQ02, snap)
	logRendered(scope, hl7.ORUR01Lab, snap)

	writeJSON(w, result)
}

func handleOrder(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	scope := scopeFrom(r)
	snap, err := tracker.ReleaseOrder(r.Context(), scope, r.FormValue("patient_id"), r.FormValue("procedure"))
	if err != nil {
		fail(w, err)
		return
	}
	logRendered(scope, hl7.ORMO01, snap)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func handlePublishWorklist(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	scope := scopeFrom(r)
	if _, err := tracker.PublishWorklist(r.Context(), scope, r.FormValue("patient_id")); err != nil {
		fail(w, err)
		return
	}
	http.Redirect(w, r, "/worklist", http.StatusSeeOther)
}

func handleBeginExam(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	scope := scopeFrom(r)
	if _, err := tracker.BeginExam(r.Context(), scope, r.FormValue("patient_id")); err != nil {
		fail(w, err)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseMultipartForm(256 << 20); err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	scope := scopeFrom(r)

	var files []models.UploadFile
	if r.MultipartForm != nil {
		for _, headers := range r.MultipartForm.File {
			for _, fh := range headers {
				f, err := fh.Open()
				if err != nil {
					http.Error(w, "Bad Request", http.StatusBadRequest)
					return
				}
				data, err := io.ReadAll(f)
				f.Close()
				if err != nil {
					http.Error(w, "Bad Request", http.StatusBadRequest)
					return
				}
				files = append(files, models.UploadFile{Name: fh.Filename, Data: data})
			}
		}
	}

	rec, err := tracker.StoreImages(r.Context(), scope, r.FormValue("patient_id"), files)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, rec)
}

func handleStudies(w http.ResponseWriter, r *http.Request) {
	if r.Method != "GET" {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	scope := scopeFrom(r)

	// With a patient the query also confirms that patient's own study,
	// advancing the case. Without one it is a plain browse.
	if pid := r.URL.Query().Get("patient_id"); pid != "" {
		studies, err := tracker.QueryStudy(r.Context(), scope, pid)
		if err != nil {
			fail(w, err)
			return
		}
		writeJSON(w, studies)
		return
	}

	studies, err := gw.FindStudies(r.Context(), scope)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, studies)
}

func handleEcho(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	result, err := gw.Echo(r.Context())
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, result)
}

func handleRetrieve(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	scope := scopeFrom(r)
	destination := r.FormValue("destination")
	if destination == "" {
		destination = inboundAE
	}
	ack, err := tracker.RetrieveStudy(r.Context(), scope, r.FormValue("patient_id"), destination)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, ack)
}

func handleReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	scope := scopeFrom(r)
	text := r.FormValue("text")
	snap, err := tracker.SubmitReport(r.Context(), scope, r.FormValue("patient_id"), text)
	if err != nil {
		fail(w, err)
		return
	}
	if rendered, err := hl7.RenderReport(snap, text); err == nil {
		appendHL7(scope, string(hl7.ORUR01Report), rendered)
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// Read-only JSON endpoints

func handleCases(w http.ResponseWriter, r *http.Request) {
	scope := scopeFrom(r)
	if key := r.URL.Query().Get("key"); key != "" {
		snap, err := tracker.Case(r.Context(), scope, key)
		if err != nil {
			fail(w, err)
			return
		}
		writeJSON(w, snap)
		return
	}
	cases, err := tracker.Cases(r.Context(), scope)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, cases)
}

func handleReports(w http.ResponseWriter, r *http.Request) {
	reports, err := tracker.Reports(r.Context(), scopeFrom(r))
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, reports)
}

func handleMessages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, messagesFor(scopeFrom(r)))
}

package httpapi

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"sufrah/backend/internal/domain"
	"sufrah/backend/internal/service"
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	loginLimiter  *attemptLimiter
	csrfSecret    []byte
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string) *API {
	csrfSecret := make([]byte, 32)
	if _, err := rand.Read(csrfSecret); err != nil {
		// Fall back to a deterministic secret if crypto/rand fails (should not happen in practice).
		csrfSecret = []byte("csrf-fallback-secret-change-me!!")
	}
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		csrfSecret:    csrfSecret,
	}
}

// csrfTokenForHour computes an HMAC-SHA256 token for the given hour bucket
// (expressed as Unix time truncated to the hour). The token is hex-encoded.
func (a *API) csrfTokenForHour(hourBucket int64) string {
	h := hmac.New(sha256.New, a.csrfSecret)
	fmt.Fprintf(h, "%d", hourBucket)
	return hex.EncodeToString(h.Sum(nil))
}

// generateCSRFToken returns a token valid for the current hour bucket.
func (a *API) generateCSRFToken() string {
	now := time.Now().UTC()
	bucket := now.Truncate(time.Hour).Unix()
	return a.csrfTokenForHour(bucket)
}

// validateCSRFToken checks whether the provided token matches the current or
// previous hour bucket, giving a 2-hour validity window.
func (a *API) validateCSRFToken(token string) bool {
	if token == "" {
		return false
	}
	now := time.Now().UTC()
	currentBucket := now.Truncate(time.Hour).Unix()
	prevBucket := currentBucket - 3600

	expected1 := a.csrfTokenForHour(currentBucket)
	expected2 := a.csrfTokenForHour(prevBucket)

	return hmac.Equal([]byte(token), []byte(expected1)) ||
		hmac.Equal([]byte(token), []byte(expected2))
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	kept = append(kept, now)
	l.entries[key] = kept
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/api/v1/auth/login", a.handleLogin)
	mux.HandleFunc("/api/v1/auth/csrf-token", a.handleCSRFToken)

	anyRole := []string{domain.RoleCashier, domain.RoleOwner}
	ownerOnly := []string{domain.RoleOwner}

	mux.HandleFunc("/api/v1/inventory/items", a.requireAuth(a.handleItems, anyRole...))
	mux.HandleFunc("/api/v1/inventory/adjustments", a.requireAuth(a.handleAdjustments, anyRole...))
	mux.HandleFunc("/api/v1/inventory/receipts", a.requireAuth(a.handleReceipts, anyRole...))
	mux.HandleFunc("/api/v1/inventory/transfers", a.requireAuth(a.handleTransfers, anyRole...))
	mux.HandleFunc("/api/v1/inventory/counts", a.requireAuth(a.handleStockCounts, anyRole...))
	mux.HandleFunc("/api/v1/inventory/counts/", a.requireAuth(a.handleStockCountActions, ownerOnly...))
	mux.HandleFunc("/api/v1/inventory/levels", a.requireAuth(a.handleStockLevels, anyRole...))
	mux.HandleFunc("/api/v1/inventory/ledger", a.requireAuth(a.handleLedger, anyRole...))
	mux.HandleFunc("/api/v1/inventory/import", a.requireAuth(a.handleImport, ownerOnly...))
	mux.HandleFunc("/api/v1/inventory/reconcile", a.requireAuth(a.handleReconcile, ownerOnly...))
	mux.HandleFunc("/api/v1/inventory/reorder-suggestions", a.requireAuth(a.handleReorderSuggestions, ownerOnly...))

	mux.HandleFunc("/api/v1/units/conversions", a.requireAuth(a.handleConversions, anyRole...))
	mux.HandleFunc("/api/v1/menu/items", a.requireAuth(a.handleMenuItems, anyRole...))
	mux.HandleFunc("/api/v1/menu/recipes", a.requireAuth(a.handleRecipes, ownerOnly...))

	mux.HandleFunc("/api/v1/orders", a.requireAuth(a.handleOrders, anyRole...))
	mux.HandleFunc("/api/v1/orders/pay-table", a.requireAuth(a.handlePayTable, anyRole...))
	mux.HandleFunc("/api/v1/orders/", a.requireAuth(a.handleOrderActions, anyRole...))

	mux.HandleFunc("/api/v1/reports/daily", a.requireAuth(a.handleDailyReport, ownerOnly...))
	mux.HandleFunc("/api/v1/audit-logs", a.requireAuth(a.handleAuditLogs, ownerOnly...))
	mux.HandleFunc("/api/v1/users/cashiers", a.requireAuth(a.handleCashiers, ownerOnly...))

	return a.withMiddleware(mux)
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, domain.Err(domain.CodeUnauthorized, "missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, domain.Err(domain.CodeUnauthorized, err.Error()))
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			writeError(w, domain.Err(domain.CodeForbidden))
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeStatusError(w, http.StatusTooManyRequests, "too many login attempts")
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, domain.Err(domain.CodeValidation, err.Error()))
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		writeError(w, domain.Err(domain.CodeUnauthorized, err.Error()))
		return
	}

	writeOK(w, http.StatusOK, resp)
}

// handleCSRFToken returns a stateless CSRF token valid for the current hour
// bucket. Clients include it in the X-CSRF-Token header on mutating requests.
func (a *API) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{
		"csrf_token": a.generateCSRFToken(),
	})
}

// csrfExemptPaths lists paths that are exempt from CSRF validation. Login is
// excluded because it is called without a prior CSRF token fetch.
var csrfExemptPaths = []string{
	"/api/v1/auth/login",
}

// checkCSRF enforces CSRF token validation for state-changing methods.
// Returns false and writes an error response if validation fails.
func (a *API) checkCSRF(w http.ResponseWriter, r *http.Request) bool {
	method := r.Method
	if method != http.MethodPost && method != http.MethodPut && method != http.MethodPatch {
		return true
	}
	for _, exempt := range csrfExemptPaths {
		if r.URL.Path == exempt {
			return true
		}
	}
	token := strings.TrimSpace(r.Header.Get("X-CSRF-Token"))
	if !a.validateCSRFToken(token) {
		writeStatusError(w, http.StatusForbidden, "missing or invalid CSRF token")
		return false
	}
	return true
}

func (a *API) handleItems(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		items, err := a.service.ListInventoryItems(r.Context(), r.URL.Query().Get("branch_id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeOK(w, http.StatusOK, map[string]any{"items": items})
	case http.MethodPost:
		var req domain.ItemCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, domain.Err(domain.CodeValidation, err.Error()))
			return
		}
		item, err := a.service.CreateInventoryItem(r.Context(), req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeOK(w, http.StatusCreated, map[string]any{"item": item})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleConversions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		conversions, err := a.service.ListUnitConversions(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeOK(w, http.StatusOK, map[string]any{"conversions": conversions})
	case http.MethodPost:
		var req domain.ConversionCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, domain.Err(domain.CodeValidation, err.Error()))
			return
		}
		conv, err := a.service.CreateUnitConversion(r.Context(), req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeOK(w, http.StatusCreated, map[string]any{"conversion": conv})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleMenuItems(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		items, err := a.service.ListMenuItems(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeOK(w, http.StatusOK, map[string]any{"menu_items": items})
	case http.MethodPost:
		var req domain.MenuItemCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, domain.Err(domain.CodeValidation, err.Error()))
			return
		}
		item, err := a.service.CreateMenuItem(r.Context(), req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeOK(w, http.StatusCreated, map[string]any{"menu_item": item})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleRecipes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut && r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var req domain.RecipeSetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, domain.Err(domain.CodeValidation, err.Error()))
		return
	}
	recipe, err := a.service.SetRecipe(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"recipe": recipe})
}

func (a *API) handleAdjustments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var req domain.AdjustmentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, domain.Err(domain.CodeValidation, err.Error()))
		return
	}
	resp, err := a.service.Adjust(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusOK, resp)
}

func (a *API) handleReceipts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var req domain.ReceiptCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, domain.Err(domain.CodeValidation, err.Error()))
		return
	}
	resp, err := a.service.ReceivePurchase(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusCreated, resp)
}

func (a *API) handleTransfers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var req domain.TransferRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, domain.Err(domain.CodeValidation, err.Error()))
		return
	}
	resp, err := a.service.Transfer(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusCreated, resp)
}

func (a *API) handleStockCounts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		limit := parsePositiveLimit(r.URL.Query().Get("limit"), 50, 200)
		counts, err := a.service.ListStockCounts(r.Context(), r.URL.Query().Get("branch_id"), limit)
		if err != nil {
			writeError(w, err)
			return
		}
		writeOK(w, http.StatusOK, map[string]any{"counts": counts})
	case http.MethodPost:
		var req domain.StockCountCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, domain.Err(domain.CodeValidation, err.Error()))
			return
		}
		count, err := a.service.CreateStockCount(r.Context(), req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeOK(w, http.StatusCreated, map[string]any{"count": count})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleStockCountActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	prefix := "/api/v1/inventory/counts/"
	tail := strings.TrimSpace(strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/"))
	switch {
	case strings.HasSuffix(tail, "/approve"):
		countID := strings.Trim(strings.TrimSuffix(tail, "/approve"), "/")
		if countID == "" {
			writeError(w, domain.Err(domain.CodeValidation, "count id required"))
			return
		}
		resp, err := a.service.ApproveStockCount(r.Context(), countID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeOK(w, http.StatusOK, resp)
	case strings.HasSuffix(tail, "/cancel"):
		countID := strings.Trim(strings.TrimSuffix(tail, "/cancel"), "/")
		if countID == "" {
			writeError(w, domain.Err(domain.CodeValidation, "count id required"))
			return
		}
		if err := a.service.CancelStockCount(r.Context(), countID); err != nil {
			writeError(w, err)
			return
		}
		writeOK(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeError(w, domain.Err(domain.CodeValidation, "unknown count action"))
	}
}

func (a *API) handleStockLevels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	resp, err := a.service.StockLevels(r.Context(), r.URL.Query().Get("branch_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusOK, resp)
}

func (a *API) handleLedger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)
	entries, err := a.service.LedgerHistory(r.Context(), r.URL.Query().Get("branch_id"), r.URL.Query().Get("item_id"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"entries": entries})
}

// handleImport accepts the raw CSV in the request body. The branch is named
// in the query string so the body stays a plain file upload.
func (a *API) handleImport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, 4<<20)
	resp, err := a.service.ImportItemsCSV(r.Context(), r.URL.Query().Get("branch_id"), r.Body)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusOK, resp)
}

func (a *API) handleReconcile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	fix := strings.EqualFold(r.URL.Query().Get("fix"), "true")
	resp, err := a.service.Reconcile(r.Context(), r.URL.Query().Get("branch_id"), fix)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusOK, resp)
}

func (a *API) handleReorderSuggestions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	suggestions, err := a.service.ReorderSuggestions(r.Context(), r.URL.Query().Get("branch_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"suggestions": suggestions})
}

func (a *API) handleOrders(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		limit := parsePositiveLimit(r.URL.Query().Get("limit"), 50, 200)
		orders, err := a.service.ListOrders(r.Context(), r.URL.Query().Get("branch_id"), r.URL.Query().Get("status"), limit)
		if err != nil {
			writeError(w, err)
			return
		}
		writeOK(w, http.StatusOK, map[string]any{"orders": orders})
	case http.MethodPost:
		var req domain.OrderCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, domain.Err(domain.CodeValidation, err.Error()))
			return
		}
		order, err := a.service.CreateOrder(r.Context(), req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeOK(w, http.StatusCreated, map[string]any{"order": order})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handlePayTable(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var req domain.PayTableRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, domain.Err(domain.CodeValidation, err.Error()))
		return
	}
	resp, err := a.service.PayTable(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusOK, resp)
}

func (a *API) handleOrderActions(w http.ResponseWriter, r *http.Request) {
	prefix := "/api/v1/orders/"
	tail := strings.TrimSpace(strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/"))
	if tail == "" {
		writeError(w, domain.Err(domain.CodeValidation, "order id required"))
		return
	}

	switch {
	case strings.HasSuffix(tail, "/pay"):
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		orderID := strings.Trim(strings.TrimSuffix(tail, "/pay"), "/")
		var req domain.PayOrderRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, domain.Err(domain.CodeValidation, err.Error()))
			return
		}
		resp, err := a.service.PayOrder(r.Context(), orderID, req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeOK(w, http.StatusOK, resp)
	case strings.HasSuffix(tail, "/refunds"):
		orderID := strings.Trim(strings.TrimSuffix(tail, "/refunds"), "/")
		switch r.Method {
		case http.MethodGet:
			refunds, err := a.service.ListRefunds(r.Context(), orderID)
			if err != nil {
				writeError(w, err)
				return
			}
			writeOK(w, http.StatusOK, map[string]any{"refunds": refunds})
		case http.MethodPost:
			var req domain.RefundCreateRequest
			if err := decodeJSON(r, &req); err != nil {
				writeError(w, domain.Err(domain.CodeValidation, err.Error()))
				return
			}
			resp, err := a.service.CreateRefund(r.Context(), orderID, req)
			if err != nil {
				writeError(w, err)
				return
			}
			writeOK(w, http.StatusCreated, resp)
		default:
			writeMethodNotAllowed(w)
		}
	default:
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w)
			return
		}
		order, err := a.service.GetOrder(r.Context(), tail)
		if err != nil {
			writeError(w, err)
			return
		}
		writeOK(w, http.StatusOK, map[string]any{"order": order})
	}
}

func (a *API) handleDailyReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	report, err := a.service.DailyReport(r.Context(), r.URL.Query().Get("branch_id"), r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusOK, report)
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)
	logs, err := a.service.ListAuditLogs(r.Context(), r.URL.Query().Get("date"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"logs": logs})
}

func (a *API) handleCashiers(w http.ResponseWriter, r *http.Request) {
	actor, ok := service.ActorFromContext(r.Context())
	if !ok {
		writeError(w, domain.Err(domain.CodeUnauthorized))
		return
	}
	switch r.Method {
	case http.MethodGet:
		cashiers, err := a.auth.ListCashiers(r.Context(), actor)
		if err != nil {
			writeError(w, err)
			return
		}
		writeOK(w, http.StatusOK, map[string]any{"cashiers": cashiers})
	case http.MethodPost:
		var req domain.CashierCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, domain.Err(domain.CodeValidation, err.Error()))
			return
		}
		cashier, err := a.auth.CreateCashier(r.Context(), actor, req)
		if err != nil {
			writeError(w, domain.Err(domain.CodeValidation, err.Error()))
			return
		}
		writeOK(w, http.StatusCreated, map[string]any{"cashier": cashier})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-CSRF-Token")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if (r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut) && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if !a.checkCSRF(w, r) {
			return
		}

		startedAt := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(startedAt))
	})
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeStatusError(w, http.StatusMethodNotAllowed, "method not allowed")
}

// statusForCode maps domain error codes onto HTTP statuses.
func statusForCode(code string) int {
	switch code {
	case domain.CodeUnauthorized:
		return http.StatusUnauthorized
	case domain.CodeForbidden, domain.CodeSubscriptionExpired, domain.CodeInventoryDisabled:
		return http.StatusForbidden
	case domain.CodeValidation, domain.CodeInvalidQuantity, domain.CodeInvalidBranch,
		domain.CodeInvalidPaymentMethod, domain.CodeInvalidRefundType:
		return http.StatusBadRequest
	case domain.CodeItemNotFound, domain.CodeOrderNotFound:
		return http.StatusNotFound
	case domain.CodeInsufficientStock, domain.CodeRaceCondition, domain.CodeConflict,
		domain.CodeCountImmutable, domain.CodeOrderNotOpen:
		return http.StatusConflict
	case domain.CodeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusUnprocessableEntity
	}
}

// writeError renders any service error as the bilingual error envelope.
// Unclassified errors are treated as internal and their details kept out of
// the response.
func writeError(w http.ResponseWriter, err error) {
	coded, ok := domain.AsCoded(err)
	if !ok {
		log.Printf("internal error: %v", err)
		coded = domain.Err(domain.CodeInternal)
	}
	status := statusForCode(coded.Code)
	if status >= 500 {
		log.Printf("internal error (status %d): %v", status, err)
	}
	writeJSON(w, status, map[string]any{
		"success": false,
		"error": map[string]any{
			"code":       coded.Code,
			"message":    coded.Message,
			"message_ar": coded.MessageAr,
		},
	})
}

// writeStatusError is for transport-level failures that happen before a
// domain error code exists.
func writeStatusError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"error": map[string]any{
			"code":    "http_error",
			"message": message,
		},
	})
}

func writeOK(w http.ResponseWriter, status int, payload any) {
	writeJSON(w, status, map[string]any{
		"success": true,
		"data":    payload,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

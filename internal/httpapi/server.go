package httpapi

import (
	"crypto/hmac"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/dtgportal/portalsync/internal/cart"
	"github.com/dtgportal/portalsync/internal/listing"
	"github.com/dtgportal/portalsync/internal/portal"
	"github.com/dtgportal/portalsync/internal/remote"
)

type Logger interface {
	Printf(format string, args ...any)
}

type ServerConfig struct {
	AuthToken    string
	UserID       string
	MaxBodyBytes int64
}

// Server is the local HTTP facade over the sync layer: cart operations,
// listing views, quote submission, and account address management.
type Server struct {
	cart     *cart.Store
	listing  *listing.Controller
	client   remote.Client
	cfg      ServerConfig
	validate *validator.Validate
	logger   Logger
}

func NewServer(cartStore *cart.Store, controller *listing.Controller, client remote.Client, cfg ServerConfig, logger Logger) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		cart:     cartStore,
		listing:  controller,
		client:   client,
		cfg:      cfg,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Route("/v1", func(r chi.Router) {
		r.Use(s.requireAuth)

		r.Get("/products", s.handleProducts)

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", s.handleCartView)
			r.Post("/items", s.handleCartAdd)
			r.Patch("/items/{identifier}", s.handleCartUpdateQuantity)
			r.Delete("/items/{identifier}", s.handleCartRemove)
			r.Post("/clear", s.handleCartClear)
			r.Post("/submit", s.handleCartSubmit)
		})

		r.Route("/listing", func(r chi.Router) {
			r.Get("/", s.handleListingView)
			r.Post("/quotes/{id}/edit", s.handleQuoteEdit)
			r.Delete("/quotes/{id}", s.handleQuoteDelete)
			r.Get("/quotes/{id}/pdf", s.handleQuotePDF)
			r.Post("/orders/{id}/copy", s.handleOrderCopy)
		})

		r.Get("/address", s.handleAddressFetch)
		r.Put("/address", s.handleAddressUpdate)
	})
	return r
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AuthToken == "" {
			next.ServeHTTP(w, r)
			return
		}
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || !hmac.Equal([]byte(token), []byte(s.cfg.AuthToken)) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token", getCorrelationID(r))
			return
		}
		next.ServeHTTP(w, r)
	})
}

type cartItemView struct {
	ID         string `json:"id"`
	PartNumber string `json:"partnumber"`
	Name       string `json:"name"`
	Quantity   int    `json:"qty"`
	UnitPrice  string `json:"price"`
	LineTotal  string `json:"line_total"`
	Image      string `json:"image,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

type cartView struct {
	Items      []cartItemView `json:"items"`
	TotalItems int            `json:"total_items"`
	TotalPrice string         `json:"total_price"`
}

func (s *Server) cartViewNow() cartView {
	items := s.cart.Items()
	view := cartView{
		Items:      make([]cartItemView, 0, len(items)),
		TotalItems: s.cart.TotalItems(),
		TotalPrice: s.cart.TotalPrice().StringFixed(2),
	}
	for _, item := range items {
		view.Items = append(view.Items, cartItemView{
			ID:         item.ID,
			PartNumber: item.PartNumber,
			Name:       item.Name,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice.StringFixed(2),
			LineTotal:  item.LineTotal().StringFixed(2),
			Image:      item.Image,
			Notes:      item.Notes,
		})
	}
	return view
}

func (s *Server) handleCartView(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cartViewNow())
}

func (s *Server) handleCartAdd(w http.ResponseWriter, r *http.Request) {
	correlationID := getCorrelationID(r)
	var raw map[string]any
	if !s.decodeJSONBody(w, r, correlationID, &raw) {
		return
	}
	if _, err := s.cart.AddItem(r.Context(), raw); err != nil {
		writeError(w, http.StatusInternalServerError, "cart_error", err.Error(), correlationID)
		return
	}
	writeJSON(w, http.StatusOK, s.cartViewNow())
}

func (s *Server) handleCartUpdateQuantity(w http.ResponseWriter, r *http.Request) {
	correlationID := getCorrelationID(r)
	identifier := chi.URLParam(r, "identifier")
	var body struct {
		Quantity int `json:"qty"`
	}
	if !s.decodeJSONBody(w, r, correlationID, &body) {
		return
	}
	if err := s.cart.UpdateQuantity(r.Context(), identifier, body.Quantity); err != nil {
		writeError(w, http.StatusInternalServerError, "cart_error", err.Error(), correlationID)
		return
	}
	writeJSON(w, http.StatusOK, s.cartViewNow())
}

func (s *Server) handleCartRemove(w http.ResponseWriter, r *http.Request) {
	if err := s.cart.RemoveItem(r.Context(), chi.URLParam(r, "identifier")); err != nil {
		writeError(w, http.StatusInternalServerError, "cart_error", err.Error(), getCorrelationID(r))
		return
	}
	writeJSON(w, http.StatusOK, s.cartViewNow())
}

func (s *Server) handleCartClear(w http.ResponseWriter, r *http.Request) {
	if err := s.cart.Clear(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "cart_error", err.Error(), getCorrelationID(r))
		return
	}
	writeJSON(w, http.StatusOK, s.cartViewNow())
}

// handleCartSubmit sends the current cart as a quote and clears it only after
// the backend accepted the submission.
func (s *Server) handleCartSubmit(w http.ResponseWriter, r *http.Request) {
	correlationID := getCorrelationID(r)
	items := s.cart.Items()
	if len(items) == 0 {
		writeError(w, http.StatusBadRequest, "empty_cart", "nothing to submit", correlationID)
		return
	}
	reference, err := s.client.SubmitQuote(r.Context(), remote.QuoteSubmission{
		UserID: s.cfg.UserID,
		Items:  items,
	})
	if err != nil {
		writeError(w, http.StatusBadGateway, "submit_failed", err.Error(), correlationID)
		return
	}
	if err := s.cart.Clear(r.Context()); err != nil {
		s.logger.Printf("httpapi: cart clear after submit failed: %v", err)
	}
	writeJSON(w, http.StatusOK, map[string]string{"reference": reference})
}

func (s *Server) handleProducts(w http.ResponseWriter, r *http.Request) {
	correlationID := getCorrelationID(r)
	products, err := s.client.Products(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, "products_failed", err.Error(), correlationID)
		return
	}
	if err := s.cart.Reconcile(r.Context(), products); err != nil {
		s.logger.Printf("httpapi: cart reconcile failed: %v", err)
	}
	views := make([]map[string]any, 0, len(products))
	for _, p := range products {
		views = append(views, map[string]any{
			"id":         p.ID,
			"partnumber": p.PartNumber,
			"name":       p.Name,
			"category":   p.Category,
			"price":      p.UnitPrice.StringFixed(2),
			"image":      p.Image,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": views})
}

type lineItemView struct {
	PartNumber string `json:"partnumber"`
	Name       string `json:"name"`
	Quantity   int    `json:"qty"`
	UnitPrice  string `json:"price"`
	Status     string `json:"status"`
	Tracking   string `json:"tracking,omitempty"`
}

type listingEntryView struct {
	ID       string         `json:"id"`
	Kind     string         `json:"type"`
	Status   string         `json:"status"`
	Total    string         `json:"total"`
	Tracking string         `json:"tracking,omitempty"`
	Lines    []lineItemView `json:"lines"`
}

type listingView struct {
	Entries        []listingEntryView `json:"entries"`
	Page           int                `json:"page"`
	PageSize       int                `json:"page_size"`
	TotalItems     int                `json:"total_items"`
	TotalPages     int                `json:"total_pages"`
	LoadingAccount bool               `json:"loading_account"`
	LoadingRemote  bool               `json:"loading_remote"`
	Error          string             `json:"error,omitempty"`
}

// handleListingView applies the query to the controller and reports the
// current view. The fetch itself is debounced and asynchronous; callers poll
// until the loading flags drop.
func (s *Server) handleListingView(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if account := q.Get("account"); account != "" {
		s.listing.SetAccount(account)
	}
	switch q.Get("type") {
	case "orders":
		s.listing.SetKind(portal.KindOrder)
	case "quotes":
		s.listing.SetKind(portal.KindQuote)
	}
	if pageParam := q.Get("page"); pageParam != "" {
		if page, err := strconv.Atoi(pageParam); err == nil {
			s.listing.SetPage(page)
		}
	}
	if q.Has("search") {
		s.listing.SetSearch(q.Get("search"))
	}

	entries := s.listing.Entries()
	view := listingView{
		Entries:        make([]listingEntryView, 0, len(entries)),
		Page:           s.listing.Page(),
		PageSize:       s.listing.PageSize(),
		TotalItems:     s.listing.TotalItems(),
		TotalPages:     s.listing.TotalPages(),
		LoadingAccount: s.listing.LoadingAccount(),
		LoadingRemote:  s.listing.LoadingRemote(),
	}
	if err := s.listing.Err(); err != nil {
		view.Error = err.Error()
	}
	for _, entry := range entries {
		entryView := listingEntryView{
			ID:       entry.ID,
			Kind:     string(entry.Kind),
			Status:   entry.Status,
			Total:    entry.Total.StringFixed(2),
			Tracking: entry.TrackingRef,
			Lines:    make([]lineItemView, 0, len(entry.LineItems)),
		}
		for _, line := range entry.LineItems {
			entryView.Lines = append(entryView.Lines, lineItemView{
				PartNumber: line.PartNumber,
				Name:       line.Name,
				Quantity:   line.Quantity,
				UnitPrice:  line.UnitPrice.StringFixed(2),
				Status:     line.Status,
				Tracking:   line.TrackingRef,
			})
		}
		view.Entries = append(view.Entries, entryView)
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleQuoteEdit(w http.ResponseWriter, r *http.Request) {
	correlationID := getCorrelationID(r)
	quoteID := chi.URLParam(r, "id")
	var body struct {
		Lines []struct {
			PartNumber string  `json:"partnumber"`
			Name       string  `json:"name"`
			Quantity   int     `json:"qty"`
			UnitPrice  float64 `json:"price"`
		} `json:"lines"`
	}
	if !s.decodeJSONBody(w, r, correlationID, &body) {
		return
	}

	surface := &listing.EditSurface{QuoteID: quoteID}
	for _, line := range body.Lines {
		surface.Lines = append(surface.Lines, portal.LineItem{
			PartNumber: line.PartNumber,
			Name:       line.Name,
			Quantity:   line.Quantity,
			UnitPrice:  decimal.NewFromFloat(line.UnitPrice),
		})
	}

	if err := s.listing.SaveQuoteEdit(r.Context(), surface); err != nil {
		if errors.Is(err, listing.ErrEntryNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "quote not in current listing", correlationID)
			return
		}
		writeError(w, http.StatusBadGateway, "edit_failed", err.Error(), correlationID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

func (s *Server) handleQuoteDelete(w http.ResponseWriter, r *http.Request) {
	if !s.listing.DeleteQuoteLocally(chi.URLParam(r, "id")) {
		writeError(w, http.StatusNotFound, "not_found", "quote not in current listing", getCorrelationID(r))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleQuotePDF(w http.ResponseWriter, r *http.Request) {
	correlationID := getCorrelationID(r)
	payload, err := s.listing.DownloadQuotePDF(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, remote.ErrQuoteNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "quote pdf not available", correlationID)
			return
		}
		writeError(w, http.StatusBadGateway, "pdf_failed", err.Error(), correlationID)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

func (s *Server) handleOrderCopy(w http.ResponseWriter, r *http.Request) {
	correlationID := getCorrelationID(r)
	if err := s.listing.CopyOrder(r.Context(), chi.URLParam(r, "id")); err != nil {
		if errors.Is(err, listing.ErrEmptyOrder) {
			writeError(w, http.StatusBadRequest, "empty_order", err.Error(), correlationID)
			return
		}
		writeError(w, http.StatusBadGateway, "copy_failed", err.Error(), correlationID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "copied"})
}

func (s *Server) handleAddressFetch(w http.ResponseWriter, r *http.Request) {
	address, err := s.client.FetchAddress(r.Context(), s.cfg.UserID)
	if err != nil {
		writeError(w, http.StatusBadGateway, "address_failed", err.Error(), getCorrelationID(r))
		return
	}
	writeJSON(w, http.StatusOK, address)
}

func (s *Server) handleAddressUpdate(w http.ResponseWriter, r *http.Request) {
	correlationID := getCorrelationID(r)
	var address remote.Address
	if !s.decodeJSONBody(w, r, correlationID, &address) {
		return
	}
	if err := s.validate.Struct(address); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_address", err.Error(), correlationID)
		return
	}
	if err := s.client.UpdateAddress(r.Context(), s.cfg.UserID, address); err != nil {
		writeError(w, http.StatusBadGateway, "address_failed", err.Error(), correlationID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) decodeJSONBody(w http.ResponseWriter, r *http.Request, correlationID string, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body exceeds configured limit", correlationID)
			return false
		}
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read request body", correlationID)
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON payload", correlationID)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message, correlationID string) {
	writeJSON(w, status, map[string]any{
		"code":          code,
		"message":       message,
		"correlationId": correlationID,
	})
}

func getCorrelationID(r *http.Request) string {
	return r.Header.Get("X-Correlation-Id")
}

package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dtgportal/portalsync/internal/cart"
	"github.com/dtgportal/portalsync/internal/listing"
	"github.com/dtgportal/portalsync/internal/portal"
	"github.com/dtgportal/portalsync/internal/remote"
	"github.com/shopspring/decimal"
)

type fakeRemote struct {
	products []portal.Product
	page     portal.AccountPage

	submitted []remote.QuoteSubmission
	submitRef string
	submitErr error

	address    remote.Address
	updated    []remote.Address
	pdfPayload []byte
	pdfErr     error
}

func (f *fakeRemote) Products(ctx context.Context) ([]portal.Product, error) {
	return f.products, nil
}

func (f *fakeRemote) AccountData(ctx context.Context, query remote.AccountQuery) (portal.AccountPage, error) {
	return f.page, nil
}

func (f *fakeRemote) EditQuote(ctx context.Context, quoteID string, lines []remote.QuoteEditLine) (remote.QuoteEditResult, error) {
	return remote.QuoteEditResult{}, nil
}

func (f *fakeRemote) SubmitQuote(ctx context.Context, submission remote.QuoteSubmission) (string, error) {
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.submitted = append(f.submitted, submission)
	return f.submitRef, nil
}

func (f *fakeRemote) CopyOrder(ctx context.Context, orderID string) error {
	return nil
}

func (f *fakeRemote) QuotePDF(ctx context.Context, quoteID string) ([]byte, error) {
	return f.pdfPayload, f.pdfErr
}

func (f *fakeRemote) FetchAddress(ctx context.Context, userID string) (remote.Address, error) {
	return f.address, nil
}

func (f *fakeRemote) UpdateAddress(ctx context.Context, userID string, address remote.Address) error {
	f.updated = append(f.updated, address)
	return nil
}

func newTestServer(t *testing.T, client *fakeRemote, cfg ServerConfig) (*Server, *cart.Store) {
	t.Helper()
	store := cart.NewStore(cart.StoreOptions{Backend: cart.NewInMemoryBackend()})
	if err := store.Load(context.Background(), nil); err != nil {
		t.Fatalf("load cart: %v", err)
	}
	controller := listing.NewController(listing.ControllerOptions{
		Client:   client,
		Debounce: time.Millisecond,
	})
	t.Cleanup(controller.Close)
	return NewServer(store, controller, client, cfg, nil), store
}

func doRequest(t *testing.T, handler http.Handler, method, target, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthNeedsNoAuth(t *testing.T) {
	server, _ := newTestServer(t, &fakeRemote{}, ServerConfig{AuthToken: "secret"})
	rec := doRequest(t, server.Router(), http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d", rec.Code)
	}
}

func TestAuthRejectsBadToken(t *testing.T) {
	server, _ := newTestServer(t, &fakeRemote{}, ServerConfig{AuthToken: "secret"})
	router := server.Router()

	rec := doRequest(t, router, http.MethodGet, "/v1/cart/", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token status = %d", rec.Code)
	}
	rec = doRequest(t, router, http.MethodGet, "/v1/cart/", "wrong", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token status = %d", rec.Code)
	}
	rec = doRequest(t, router, http.MethodGet, "/v1/cart/", "secret", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("valid token status = %d", rec.Code)
	}
}

func TestCartAddAndView(t *testing.T) {
	server, _ := newTestServer(t, &fakeRemote{}, ServerConfig{})
	router := server.Router()

	rec := doRequest(t, router, http.MethodPost, "/v1/cart/items", "", map[string]any{
		"partnumber": "DTG-1",
		"name":       "Printhead",
		"price":      "100.00",
		"qty":        2,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("add status = %d body = %s", rec.Code, rec.Body.String())
	}

	var view cartView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	if len(view.Items) != 1 || view.TotalItems != 2 || view.TotalPrice != "200.00" {
		t.Fatalf("unexpected view %+v", view)
	}
	if view.Items[0].LineTotal != "200.00" {
		t.Fatalf("line total = %s", view.Items[0].LineTotal)
	}
}

func TestCartUpdateAndRemove(t *testing.T) {
	server, _ := newTestServer(t, &fakeRemote{}, ServerConfig{})
	router := server.Router()

	doRequest(t, router, http.MethodPost, "/v1/cart/items", "", map[string]any{"partnumber": "DTG-1"})
	rec := doRequest(t, router, http.MethodPatch, "/v1/cart/items/DTG-1", "", map[string]any{"qty": 5})
	var view cartView
	_ = json.Unmarshal(rec.Body.Bytes(), &view)
	if view.TotalItems != 5 {
		t.Fatalf("total items = %d", view.TotalItems)
	}

	rec = doRequest(t, router, http.MethodDelete, "/v1/cart/items/DTG-1", "", nil)
	_ = json.Unmarshal(rec.Body.Bytes(), &view)
	if len(view.Items) != 0 {
		t.Fatalf("expected empty cart, got %+v", view.Items)
	}
}

func TestCartSubmitClearsAfterSuccess(t *testing.T) {
	client := &fakeRemote{submitRef: "Q-900"}
	server, store := newTestServer(t, client, ServerConfig{UserID: "user-7"})
	router := server.Router()

	doRequest(t, router, http.MethodPost, "/v1/cart/items", "", map[string]any{
		"partnumber": "DTG-1", "price": "10", "qty": 1,
	})
	rec := doRequest(t, router, http.MethodPost, "/v1/cart/submit", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("submit status = %d body = %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["reference"] != "Q-900" {
		t.Fatalf("reference = %q", resp["reference"])
	}
	if len(client.submitted) != 1 || client.submitted[0].UserID != "user-7" {
		t.Fatalf("unexpected submission %+v", client.submitted)
	}
	if len(store.Items()) != 0 {
		t.Fatal("cart not cleared after successful submit")
	}
}

func TestCartSubmitEmptyCart(t *testing.T) {
	server, _ := newTestServer(t, &fakeRemote{}, ServerConfig{})
	rec := doRequest(t, server.Router(), http.MethodPost, "/v1/cart/submit", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty submit status = %d", rec.Code)
	}
}

func TestProductsReconcilesCart(t *testing.T) {
	client := &fakeRemote{products: []portal.Product{{
		PartNumber: "DTG-1",
		Name:       "Printhead v2",
		UnitPrice:  decimal.RequireFromString("150.00"),
	}}}
	server, store := newTestServer(t, client, ServerConfig{})
	router := server.Router()

	doRequest(t, router, http.MethodPost, "/v1/cart/items", "", map[string]any{
		"partnumber": "DTG-1", "name": "Stale", "price": "1", "qty": 3,
	})
	rec := doRequest(t, router, http.MethodGet, "/v1/products", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("products status = %d", rec.Code)
	}

	items := store.Items()
	if items[0].Name != "Printhead v2" || items[0].Quantity != 3 {
		t.Fatalf("cart not reconciled: %+v", items[0])
	}
}

func TestAddressUpdateValidation(t *testing.T) {
	client := &fakeRemote{}
	server, _ := newTestServer(t, client, ServerConfig{})
	router := server.Router()

	rec := doRequest(t, router, http.MethodPut, "/v1/address", "", map[string]any{
		"address_line1": "1 Main St",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("incomplete address status = %d", rec.Code)
	}
	if len(client.updated) != 0 {
		t.Fatal("invalid address must not reach the backend")
	}

	rec = doRequest(t, router, http.MethodPut, "/v1/address", "", map[string]any{
		"address_line1": "1 Main St",
		"city":          "Springfield",
		"zip":           "12345",
		"country":       "US",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("valid address status = %d body = %s", rec.Code, rec.Body.String())
	}
	if len(client.updated) != 1 {
		t.Fatal("valid address not forwarded")
	}
}

func TestQuotePDFNotFoundMapsTo404(t *testing.T) {
	client := &fakeRemote{pdfErr: &remote.NotFoundError{Resource: "Q-404"}}
	server, _ := newTestServer(t, client, ServerConfig{})
	rec := doRequest(t, server.Router(), http.MethodGet, "/v1/listing/quotes/Q-404/pdf", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("pdf status = %d", rec.Code)
	}
}

func TestQuotePDFStreamsBytes(t *testing.T) {
	client := &fakeRemote{pdfPayload: []byte("%PDF-1.4 fake")}
	server, _ := newTestServer(t, client, ServerConfig{})
	rec := doRequest(t, server.Router(), http.MethodGet, "/v1/listing/quotes/Q-1/pdf", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("pdf status = %d", rec.Code)
	}
	if rec.Header().Get("Content-Type") != "application/pdf" {
		t.Fatalf("content type = %s", rec.Header().Get("Content-Type"))
	}
	if rec.Body.String() != "%PDF-1.4 fake" {
		t.Fatalf("payload = %q", rec.Body.String())
	}
}

func TestListingViewReflectsControllerState(t *testing.T) {
	client := &fakeRemote{page: portal.AccountPage{
		Entries: []portal.ListingEntry{{
			ID:     "Q-1",
			Kind:   portal.KindQuote,
			Status: "Open",
			Total:  decimal.RequireFromString("99.00"),
		}},
		TotalCount: 8,
		PageSize:   5,
	}}
	server, _ := newTestServer(t, client, ServerConfig{})
	router := server.Router()

	rec := doRequest(t, router, http.MethodGet, "/v1/listing/?account=Acme&type=quotes", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("listing status = %d", rec.Code)
	}

	deadline := time.Now().Add(2 * time.Second)
	var view listingView
	for time.Now().Before(deadline) {
		rec = doRequest(t, router, http.MethodGet, "/v1/listing/?account=Acme&type=quotes", "", nil)
		if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
			t.Fatalf("decode view: %v", err)
		}
		if len(view.Entries) == 1 && !view.LoadingRemote {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if len(view.Entries) != 1 || view.Entries[0].ID != "Q-1" {
		t.Fatalf("unexpected entries %+v", view.Entries)
	}
	if view.TotalItems != 8 || view.TotalPages != 2 || view.PageSize != 5 {
		t.Fatalf("unexpected pagination %+v", view)
	}
}

package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"pricewatch/config"
	"pricewatch/internal/aggregate"
	"pricewatch/internal/livingapps"
	"pricewatch/internal/repository"
	"pricewatch/logger"
	"pricewatch/models"
	"pricewatch/writer"
)

type fakeStore[F any] struct {
	mu         sync.Mutex
	collection string
	records    []models.Record[F]
	err        error
	created    []F
	cookies    []*http.Cookie
}

func (s *fakeStore[F]) List(ctx context.Context) ([]models.Record[F], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cookies = livingapps.CookiesFromContext(ctx)
	if s.err != nil {
		return nil, s.err
	}
	return s.records, nil
}

func (s *fakeStore[F]) Get(ctx context.Context, id models.ID) (*models.Record[F], error) {
	return nil, nil
}

func (s *fakeStore[F]) Create(ctx context.Context, fields F) (*models.Record[F], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.created = append(s.created, fields)
	return &models.Record[F]{ID: hexID(100 + len(s.created)), Fields: fields}, nil
}

func (s *fakeStore[F]) Update(ctx context.Context, id models.ID, fields map[string]any) (*models.Record[F], error) {
	return nil, nil
}

func (s *fakeStore[F]) Delete(ctx context.Context, id models.ID) error {
	return nil
}

func (s *fakeStore[F]) Reference(id models.ID) models.Reference {
	return models.MakeReference("https://example.test/rest", s.collection, id)
}

func (s *fakeStore[F]) createdCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.created)
}

type fakeExporter struct {
	histories []aggregate.History
	err       error
}

func (e *fakeExporter) Export(ctx context.Context, histories []aggregate.History) (*writer.ExportResult, error) {
	if e.err != nil {
		return nil, e.err
	}
	e.histories = histories
	return &writer.ExportResult{BatchID: "batch", Bucket: "bucket", Key: "k.parquet", Rows: len(histories)}, nil
}

func hexID(n int) models.ID {
	return models.ID(fmt.Sprintf("%024x", n))
}

type fixture struct {
	products *fakeStore[models.Product]
	shops    *fakeStore[models.Shop]
	prices   *fakeStore[models.PriceObservation]
	repo     *repository.Repository
}

func newFixture() *fixture {
	price := 1.29
	f := &fixture{
		products: &fakeStore[models.Product]{
			collection: config.DefaultProductsAppID,
			records: []models.Record[models.Product]{
				{ID: hexID(1), Fields: models.Product{Name: "Milch", Category: "Lebensmittel", Brand: "Weihenstephan"}},
			},
		},
		shops: &fakeStore[models.Shop]{
			collection: config.DefaultShopsAppID,
			records: []models.Record[models.Shop]{
				{ID: hexID(2), Fields: models.Shop{Name: "Rewe", City: "Berlin", Street: "Hauptstr.", HouseNumber: "1"}},
			},
		},
		prices: &fakeStore[models.PriceObservation]{
			collection: config.DefaultPricesAppID,
			records: []models.Record[models.PriceObservation]{
				{ID: hexID(3), Fields: models.PriceObservation{
					Product: models.MakeReference("https://example.test/rest", config.DefaultProductsAppID, hexID(1)),
					Shop:    models.MakeReference("https://example.test/rest", config.DefaultShopsAppID, hexID(2)),
					Price:   &price,
					Date:    "2024-03-01",
				}},
			},
		},
	}
	f.repo = &repository.Repository{Products: f.products, Shops: f.shops, Prices: f.prices}
	return f
}

func newTestRouter(t *testing.T, f *fixture, exporter Exporter) (*Server, *gin.Engine) {
	t.Helper()
	cfg := config.DashboardConfig{Enabled: true, RefreshInterval: time.Second, MetricsHistory: 10, LogHistory: 10}
	deps := Deps{Repository: f.repo, Environment: config.EnvironmentProduction}
	if exporter != nil {
		deps.Exporter = exporter
	}
	srv, err := NewServer(cfg, deps, logger.Logger())
	if err != nil {
		t.Fatalf("NewServer error: %v", err)
	}
	t.Cleanup(srv.cleanup)

	router, err := srv.buildRouter("pricewatch")
	if err != nil {
		t.Fatalf("buildRouter error: %v", err)
	}
	return srv, router
}

func serve(router http.Handler, req *http.Request) *httptest.ResponseRecorder {
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)
	return res
}

func postForm(path string, values url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func postJSON(path, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestIndexRendersDashboard(t *testing.T) {
	f := newFixture()
	_, router := newTestRouter(t, f, nil)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "AUTH_TOKEN", Value: "secret"})
	res := serve(router, req)
	if res.Code != http.StatusOK {
		t.Fatalf("unexpected status code: %d", res.Code)
	}

	body := res.Body.String()
	for _, want := range []string{"Preisvergleich Dashboard", "Milch", "Rewe", "1,29 €", "Lebensmittel"} {
		if !strings.Contains(body, want) {
			t.Fatalf("page is missing %q", want)
		}
	}
	if strings.Contains(body, "Erneut versuchen") {
		t.Fatal("page shows the error banner after a successful load")
	}
	if len(f.products.cookies) != 1 || f.products.cookies[0].Value != "secret" {
		t.Fatalf("browser cookies were not forwarded: %v", f.products.cookies)
	}
}

func TestIndexShowsRetryBannerOnLoadFailure(t *testing.T) {
	f := newFixture()
	f.shops.err = &livingapps.APIError{Method: http.MethodGet, Path: "/apps/x/records", StatusCode: http.StatusForbidden, Body: "not logged in"}
	_, router := newTestRouter(t, f, nil)

	res := serve(router, httptest.NewRequest(http.MethodGet, "/", nil))
	if res.Code != http.StatusBadGateway {
		t.Fatalf("unexpected status code: %d", res.Code)
	}
	body := res.Body.String()
	if !strings.Contains(body, "Erneut versuchen") || !strings.Contains(body, loadFailedMessage) {
		t.Fatal("error banner missing")
	}
	if strings.Contains(body, "Milch") {
		t.Fatal("partial data rendered after a failed load")
	}
}

func TestDashboardAPI(t *testing.T) {
	f := newFixture()
	_, router := newTestRouter(t, f, nil)

	res := serve(router, httptest.NewRequest(http.MethodGet, "/api/dashboard", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("unexpected status code: %d", res.Code)
	}
	var view aggregate.View
	if err := json.Unmarshal(res.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	if view.Stats.Products != 1 || len(view.Histories) != 1 || len(view.Ranking) != 1 {
		t.Fatalf("unexpected view: %+v", view)
	}
	if view.Histories[0].Entries[0].ShopName != "Rewe" {
		t.Fatalf("unexpected history: %+v", view.Histories[0])
	}
}

func TestDashboardAPIUpstreamFailure(t *testing.T) {
	f := newFixture()
	f.prices.err = &livingapps.APIError{Method: http.MethodGet, Path: "/apps/x/records", StatusCode: http.StatusInternalServerError, Body: "boom"}
	_, router := newTestRouter(t, f, nil)

	res := serve(router, httptest.NewRequest(http.MethodGet, "/api/dashboard", nil))
	if res.Code != http.StatusBadGateway {
		t.Fatalf("unexpected status code: %d", res.Code)
	}
	var payload map[string]any
	if err := json.Unmarshal(res.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if payload["upstream_status"] != float64(500) || payload["upstream_message"] != "boom" {
		t.Fatalf("unexpected error payload: %v", payload)
	}
}

func TestProductFormValidation(t *testing.T) {
	f := newFixture()
	_, router := newTestRouter(t, f, nil)

	res := serve(router, postForm("/products", url.Values{"produktname": {"   "}}))
	if res.Code != http.StatusSeeOther {
		t.Fatalf("unexpected status code: %d", res.Code)
	}
	loc, _ := url.Parse(res.Header().Get("Location"))
	if loc.Path != "/" || loc.Query().Get("error") != "Bitte geben Sie einen Produktnamen ein" {
		t.Fatalf("unexpected redirect: %s", loc)
	}
	if f.products.createdCount() != 0 {
		t.Fatal("invalid product was sent to the platform")
	}
}

func TestProductFormCreates(t *testing.T) {
	f := newFixture()
	_, router := newTestRouter(t, f, nil)

	res := serve(router, postForm("/products", url.Values{"produktname": {" Butter "}, "kategorie": {"Lebensmittel"}}))
	if res.Code != http.StatusSeeOther {
		t.Fatalf("unexpected status code: %d", res.Code)
	}
	loc, _ := url.Parse(res.Header().Get("Location"))
	if loc.Query().Get("notice") != productCreated {
		t.Fatalf("unexpected redirect: %s", loc)
	}
	if len(f.products.created) != 1 || f.products.created[0].Name != "Butter" {
		t.Fatalf("unexpected created products: %+v", f.products.created)
	}
}

func TestShopFormRequiresNameAndCity(t *testing.T) {
	f := newFixture()
	_, router := newTestRouter(t, f, nil)

	res := serve(router, postForm("/shops", url.Values{"geschaeftsname": {"Aldi"}}))
	loc, _ := url.Parse(res.Header().Get("Location"))
	if loc.Query().Get("error") != "Bitte füllen Sie mindestens Name und Stadt aus" {
		t.Fatalf("unexpected redirect: %s", loc)
	}
	if f.shops.createdCount() != 0 {
		t.Fatal("invalid shop was sent to the platform")
	}
}

func TestShopFormReportsUpstreamFailure(t *testing.T) {
	f := newFixture()
	f.shops.err = errors.New("connection refused")
	_, router := newTestRouter(t, f, nil)

	res := serve(router, postForm("/shops", url.Values{"geschaeftsname": {"Aldi"}, "stadt": {"Köln"}}))
	loc, _ := url.Parse(res.Header().Get("Location"))
	if loc.Query().Get("error") != shopFailed {
		t.Fatalf("unexpected redirect: %s", loc)
	}
}

func TestCreatePriceAPI(t *testing.T) {
	f := newFixture()
	_, router := newTestRouter(t, f, nil)

	body := fmt.Sprintf(`{"produkt":%q,"geschaeft":%q,"preis":"1,49","datum":"2024-03-02T10:00"}`, hexID(1), hexID(2))
	res := serve(router, postJSON("/api/prices", body))
	if res.Code != http.StatusCreated {
		t.Fatalf("unexpected status code: %d body=%s", res.Code, res.Body.String())
	}
	if len(f.prices.created) != 1 {
		t.Fatalf("expected one created observation, got %d", len(f.prices.created))
	}
	obs := f.prices.created[0]
	if obs.Product.ID() != hexID(1) || !strings.Contains(string(obs.Product), config.DefaultProductsAppID) {
		t.Fatalf("product reference not encoded: %s", obs.Product)
	}
	if obs.Shop.ID() != hexID(2) || obs.Price == nil || *obs.Price != 1.49 || obs.Date != "2024-03-02" {
		t.Fatalf("unexpected observation: %+v", obs)
	}
}

func TestCreatePriceAPIValidation(t *testing.T) {
	cases := map[string]string{
		"missing product": `{"geschaeft":"000000000000000000000002","preis":"1","datum":"2024-01-01"}`,
		"missing shop":    `{"produkt":"000000000000000000000001","preis":"1","datum":"2024-01-01"}`,
		"negative price":  `{"produkt":"000000000000000000000001","geschaeft":"000000000000000000000002","preis":"-1","datum":"2024-01-01"}`,
		"missing date":    `{"produkt":"000000000000000000000001","geschaeft":"000000000000000000000002","preis":"1"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture()
			_, router := newTestRouter(t, f, nil)
			res := serve(router, postJSON("/api/prices", body))
			if res.Code != http.StatusBadRequest {
				t.Fatalf("unexpected status code: %d", res.Code)
			}
			if f.prices.createdCount() != 0 {
				t.Fatal("invalid observation was sent to the platform")
			}
		})
	}
}

func TestCreateProductAPIRejectsBadJSON(t *testing.T) {
	f := newFixture()
	_, router := newTestRouter(t, f, nil)
	res := serve(router, postJSON("/api/products", `{"produktname":`))
	if res.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status code: %d", res.Code)
	}
}

func TestListEndpoints(t *testing.T) {
	f := newFixture()
	_, router := newTestRouter(t, f, nil)

	for path, key := range map[string]string{"/api/products": "products", "/api/shops": "shops", "/api/prices": "prices"} {
		res := serve(router, httptest.NewRequest(http.MethodGet, path, nil))
		if res.Code != http.StatusOK {
			t.Fatalf("%s: unexpected status code: %d", path, res.Code)
		}
		var payload map[string][]json.RawMessage
		if err := json.Unmarshal(res.Body.Bytes(), &payload); err != nil {
			t.Fatalf("%s: decode: %v", path, err)
		}
		if len(payload[key]) != 1 {
			t.Fatalf("%s: expected one record, got %d", path, len(payload[key]))
		}
	}

	res := serve(router, httptest.NewRequest(http.MethodGet, "/api/panels", nil))
	if res.Code != http.StatusNotFound {
		t.Fatalf("panels without collection: unexpected status code: %d", res.Code)
	}
}

func TestExportEndpoint(t *testing.T) {
	f := newFixture()
	_, router := newTestRouter(t, f, nil)
	if res := serve(router, httptest.NewRequest(http.MethodPost, "/api/export", nil)); res.Code != http.StatusServiceUnavailable {
		t.Fatalf("disabled export: unexpected status code: %d", res.Code)
	}

	exp := &fakeExporter{}
	_, router = newTestRouter(t, newFixture(), exp)
	res := serve(router, httptest.NewRequest(http.MethodPost, "/api/export", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("unexpected status code: %d", res.Code)
	}
	if len(exp.histories) != 1 || exp.histories[0].ProductName != "Milch" {
		t.Fatalf("unexpected exported histories: %+v", exp.histories)
	}
}

func TestRequestIDHeader(t *testing.T) {
	_, router := newTestRouter(t, newFixture(), nil)

	res := serve(router, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if res.Header().Get(requestIDHeader) == "" {
		t.Fatal("expected a generated request id")
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "abc")
	if got := serve(router, req).Header().Get(requestIDHeader); got != "abc" {
		t.Fatalf("request id = %q, want abc", got)
	}
}

func TestMetricsEndpoints(t *testing.T) {
	// a load with an unresolved product feeds the exclusion counter
	f := newFixture()
	f.prices.records[0].Fields.Product = "missing"
	_, router := newTestRouter(t, f, nil)
	serve(router, httptest.NewRequest(http.MethodGet, "/api/dashboard", nil))

	res := serve(router, httptest.NewRequest(http.MethodGet, "/api/metrics?component=aggregate", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("unexpected status code: %d", res.Code)
	}
	var payload struct {
		Metrics []map[string]any `json:"metrics"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode metrics: %v", err)
	}
	if len(payload.Metrics) == 0 || payload.Metrics[0]["name"] != "observations_excluded" {
		t.Fatalf("unexpected metrics: %v", payload.Metrics)
	}

	scrape := serve(router, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(scrape.Body.String(), "pricewatch_observations_excluded_total") {
		t.Fatal("prometheus scrape misses the exclusion counter")
	}

	if res := serve(router, httptest.NewRequest(http.MethodGet, "/api/logs?level=nope", nil)); res.Code != http.StatusBadRequest {
		t.Fatalf("unknown level: unexpected status code: %d", res.Code)
	}
}

func TestWebsocketReloadAfterCreate(t *testing.T) {
	f := newFixture()
	srv, router := newTestRouter(t, f, nil)
	ts := httptest.NewServer(router)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for srv.hub.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("websocket client was not registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	resp, err := http.Post(ts.URL+"/api/products", "application/json", strings.NewReader(`{"produktname":"Käse"}`))
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("unexpected status code: %d", resp.StatusCode)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read reload message: %v", err)
	}
	if string(msg) != `{"type":"reload"}` {
		t.Fatalf("unexpected message: %s", msg)
	}
}

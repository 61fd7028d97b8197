package dashboard

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"

	"pricewatch/internal/aggregate"
	"pricewatch/internal/livingapps"
	"pricewatch/internal/metrics"
	"pricewatch/logger"
	"pricewatch/models"
)

const (
	loadFailedMessage = "Fehler beim Laden der Daten"

	productCreated = "Produkt erfolgreich erstellt"
	shopCreated    = "Geschäft erfolgreich erstellt"
	priceCreated   = "Preis erfolgreich erfasst"

	productFailed = "Fehler beim Erstellen des Produkts"
	shopFailed    = "Fehler beim Erstellen des Geschäfts"
	priceFailed   = "Fehler beim Erfassen des Preises"
)

// pageData is rendered by index.tmpl.
type pageData struct {
	AppName           string
	RefreshIntervalMs int
	View              *aggregate.View
	Error             string
	ErrorDetail       string
	Notice            string
	FormError         string
	Categories        []string
	Today             string
	ExportEnabled     bool
}

// requestContext carries the browser cookies to the platform calls.
func requestContext(c *gin.Context) context.Context {
	return livingapps.WithCookies(c.Request.Context(), c.Request.Cookies())
}

// loadView fetches a fresh snapshot and derives the dashboard view from it.
func (s *Server) loadView(ctx context.Context) (*aggregate.View, error) {
	snap, err := s.repo.LoadSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	view := aggregate.Build(snap, s.cfg.TopSeries)
	metrics.EmitExclusionMetric(s.log, metrics.ExclusionUnresolvedProduct, view.Excluded.UnresolvedProduct)
	metrics.EmitExclusionMetric(s.log, metrics.ExclusionMissingPrice, view.Excluded.MissingPrice)
	return &view, nil
}

func (s *Server) handleIndex(c *gin.Context, appName string) {
	data := pageData{
		AppName:           appName,
		RefreshIntervalMs: s.refreshIntervalMs,
		Notice:            c.Query("notice"),
		FormError:         c.Query("error"),
		Categories:        models.ProductCategories,
		Today:             time.Now().Format(models.DateLayout),
		ExportEnabled:     s.exporter != nil,
	}

	view, err := s.loadView(requestContext(c))
	if err != nil {
		s.log.WithComponent("dashboard").WithError(err).Warn("dashboard load failed")
		data.Error = loadFailedMessage
		data.ErrorDetail = err.Error()
		c.HTML(http.StatusBadGateway, "index.tmpl", data)
		return
	}
	data.View = view
	c.HTML(http.StatusOK, "index.tmpl", data)
}

func (s *Server) handleDashboard(c *gin.Context) {
	view, err := s.loadView(requestContext(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) handleListProducts(c *gin.Context) {
	recs, err := s.repo.Products.List(requestContext(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": recs})
}

func (s *Server) handleListShops(c *gin.Context) {
	recs, err := s.repo.Shops.List(requestContext(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"shops": recs})
}

func (s *Server) handleListPrices(c *gin.Context) {
	recs, err := s.repo.Prices.List(requestContext(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"prices": recs})
}

func (s *Server) handleListPanels(c *gin.Context) {
	if s.repo.Panels == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "panels collection is not configured"})
		return
	}
	recs, err := s.repo.Panels.List(requestContext(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"panels": recs})
}

func (s *Server) handleCreateProduct(c *gin.Context) {
	var in models.Product
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	rec, err := s.createProduct(requestContext(c), in)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

func (s *Server) handleCreateShop(c *gin.Context) {
	var in models.Shop
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	rec, err := s.createShop(requestContext(c), in)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

func (s *Server) handleCreatePrice(c *gin.Context) {
	var in observationInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	rec, err := s.createPrice(requestContext(c), in)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

func (s *Server) handleProductForm(c *gin.Context) {
	in := models.Product{
		Name:        c.PostForm("produktname"),
		Category:    c.PostForm("kategorie"),
		Brand:       c.PostForm("marke"),
		Size:        c.PostForm("groesse"),
		Description: c.PostForm("beschreibung"),
	}
	_, err := s.createProduct(requestContext(c), in)
	s.redirectAfterCreate(c, err, productCreated, productFailed)
}

func (s *Server) handleShopForm(c *gin.Context) {
	in := models.Shop{
		Name:        c.PostForm("geschaeftsname"),
		Chain:       c.PostForm("kette"),
		Street:      c.PostForm("strasse"),
		HouseNumber: c.PostForm("hausnummer"),
		PostalCode:  c.PostForm("postleitzahl"),
		City:        c.PostForm("stadt"),
		Notes:       c.PostForm("notizen"),
	}
	_, err := s.createShop(requestContext(c), in)
	s.redirectAfterCreate(c, err, shopCreated, shopFailed)
}

func (s *Server) handlePriceForm(c *gin.Context) {
	var in observationInput
	if err := c.ShouldBind(&in); err != nil {
		s.redirectAfterCreate(c, err, priceCreated, priceFailed)
		return
	}
	_, err := s.createPrice(requestContext(c), in)
	s.redirectAfterCreate(c, err, priceCreated, priceFailed)
}

func (s *Server) handleExport(c *gin.Context) {
	if s.exporter == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "export is disabled"})
		return
	}
	view, err := s.loadView(requestContext(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	res, err := s.exporter.Export(c.Request.Context(), view.Histories)
	if err != nil {
		s.log.WithComponent("dashboard").WithError(err).Warn("export failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) createProduct(ctx context.Context, in models.Product) (*models.Record[models.Product], error) {
	in = trimProduct(in)
	if err := validateProduct(in); err != nil {
		return nil, err
	}
	rec, err := s.repo.Products.Create(ctx, in)
	if err != nil {
		return nil, err
	}
	s.created("products", rec.ID)
	return rec, nil
}

func (s *Server) createShop(ctx context.Context, in models.Shop) (*models.Record[models.Shop], error) {
	in = trimShop(in)
	if err := validateShop(in); err != nil {
		return nil, err
	}
	rec, err := s.repo.Shops.Create(ctx, in)
	if err != nil {
		return nil, err
	}
	s.created("shops", rec.ID)
	return rec, nil
}

func (s *Server) createPrice(ctx context.Context, in observationInput) (*models.Record[models.PriceObservation], error) {
	obs, err := in.validate()
	if err != nil {
		return nil, err
	}
	fields := s.repo.ObservationFields(obs.ProductID, obs.ShopID, obs.Price, obs.Date, obs.Remarks)
	rec, err := s.repo.Prices.Create(ctx, fields)
	if err != nil {
		return nil, err
	}
	s.created("prices", rec.ID)
	return rec, nil
}

// created records a successful create and tells open pages to reload.
func (s *Server) created(collection string, id models.ID) {
	metrics.IncrementCreated(collection)
	logger.RecordCreate()
	s.log.WithComponent("dashboard").WithFields(logger.Fields{
		"collection": collection,
		"record_id":  id,
	}).Info("record created")
	s.hub.broadcast(reloadMessage)
}

// redirectAfterCreate answers a form post with a redirect to the dashboard
// carrying the outcome as a flash message.
func (s *Server) redirectAfterCreate(c *gin.Context, err error, success, failure string) {
	q := url.Values{}
	var verr *ValidationError
	switch {
	case err == nil:
		q.Set("notice", success)
	case errors.As(err, &verr):
		q.Set("error", verr.Message)
	default:
		s.log.WithComponent("dashboard").WithError(err).Warn(failure)
		q.Set("error", failure)
	}
	c.Redirect(http.StatusSeeOther, "/?"+q.Encode())
}

// writeError maps a failure to a JSON error response. Validation problems are
// the caller's fault; everything else is a failed upstream call.
func (s *Server) writeError(c *gin.Context, err error) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Message, "field": verr.Field})
		return
	}

	s.log.WithComponent("dashboard").WithError(err).Warn("upstream request failed")

	var apiErr *livingapps.APIError
	if errors.As(err, &apiErr) {
		c.JSON(http.StatusBadGateway, gin.H{
			"error":            err.Error(),
			"upstream_status":  apiErr.StatusCode,
			"upstream_message": apiErr.Body,
		})
		return
	}
	c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
}

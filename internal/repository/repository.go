// Package repository exposes the price tracking collections as typed stores
// and loads them together for the dashboard.
package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"pricewatch/config"
	"pricewatch/internal/livingapps"
	"pricewatch/internal/metrics"
	"pricewatch/logger"
	"pricewatch/models"
)

// Store is the record API of one collection.
type Store[F any] interface {
	List(ctx context.Context) ([]models.Record[F], error)
	Get(ctx context.Context, id models.ID) (*models.Record[F], error)
	Create(ctx context.Context, fields F) (*models.Record[F], error)
	Update(ctx context.Context, id models.ID, fields map[string]any) (*models.Record[F], error)
	Delete(ctx context.Context, id models.ID) error
	Reference(id models.ID) models.Reference
}

// Repository groups the collection stores.
type Repository struct {
	Products Store[models.Product]
	Shops    Store[models.Shop]
	Prices   Store[models.PriceObservation]
	// Panels is nil unless the layout collection is configured.
	Panels Store[models.Panel]

	log *logger.Log
}

// New builds a repository backed by the Living Apps client.
func New(client *livingapps.Client, apps config.AppsConfig, log *logger.Log) *Repository {
	r := &Repository{
		Products: livingapps.NewCollection[models.Product](client, "products", apps.Products),
		Shops:    livingapps.NewCollection[models.Shop](client, "shops", apps.Shops),
		Prices:   livingapps.NewCollection[models.PriceObservation](client, "prices", apps.Prices),
		log:      log,
	}
	if apps.Panels != "" {
		r.Panels = livingapps.NewCollection[models.Panel](client, "panels", apps.Panels)
	}
	if r.log == nil {
		r.log = logger.GetLogger()
	}
	return r
}

// LoadSnapshot fetches every collection concurrently and waits for all of
// them. If any fetch fails the first error is returned and no data is.
func (r *Repository) LoadSnapshot(ctx context.Context) (*models.Snapshot, error) {
	log := r.logger().WithComponent("repository")
	start := time.Now()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
		snap     models.Snapshot
	)

	fail := func(name string, err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = fmt.Errorf("load %s: %w", name, err)
		}
		mu.Unlock()
	}

	wg.Add(3)
	go func() {
		defer wg.Done()
		recs, err := r.Products.List(ctx)
		if err != nil {
			fail("products", err)
			return
		}
		snap.Products = recs
	}()
	go func() {
		defer wg.Done()
		recs, err := r.Shops.List(ctx)
		if err != nil {
			fail("shops", err)
			return
		}
		snap.Shops = recs
	}()
	go func() {
		defer wg.Done()
		recs, err := r.Prices.List(ctx)
		if err != nil {
			fail("prices", err)
			return
		}
		snap.Prices = recs
	}()
	if r.Panels != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			recs, err := r.Panels.List(ctx)
			if err != nil {
				fail("panels", err)
				return
			}
			snap.Panels = recs
		}()
	}
	wg.Wait()

	logger.RecordSnapshotLoad(firstErr != nil)
	metrics.IncrementSnapshotLoad(firstErr == nil)
	if firstErr != nil {
		log.WithError(firstErr).Warn("snapshot load failed")
		return nil, firstErr
	}

	snap.LoadedAt = time.Now().UTC()
	logger.LogPerformanceEntry(log, "repository", "load_snapshot", time.Since(start), logger.Fields{
		"products": len(snap.Products),
		"shops":    len(snap.Shops),
		"prices":   len(snap.Prices),
		"panels":   len(snap.Panels),
	})
	return &snap, nil
}

func (r *Repository) logger() *logger.Log {
	if r.log == nil {
		return logger.GetLogger()
	}
	return r.log
}

// ObservationFields builds the fields of a price observation, encoding the
// product and shop identifiers as record locators.
func (r *Repository) ObservationFields(productID, shopID models.ID, price float64, date, remarks string) models.PriceObservation {
	p := price
	return models.PriceObservation{
		Product: r.Products.Reference(productID),
		Shop:    r.Shops.Reference(shopID),
		Price:   &p,
		Date:    date,
		Remarks: remarks,
	}
}

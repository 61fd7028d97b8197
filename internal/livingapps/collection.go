package livingapps

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/tidwall/gjson"

	"pricewatch/logger"
	"pricewatch/models"
)

// Collection is a typed view of one Living Apps app. F is the fields struct
// of its records.
type Collection[F any] struct {
	client *Client
	name   string
	id     string
}

// NewCollection binds a collection identifier to a client. name is used for
// logs and metrics only.
func NewCollection[F any](client *Client, name, id string) *Collection[F] {
	return &Collection[F]{client: client, name: name, id: id}
}

// Name returns the collection label.
func (c *Collection[F]) Name() string { return c.name }

// ID returns the app identifier.
func (c *Collection[F]) ID() string { return c.id }

// Reference builds the locator other records use to point at id.
func (c *Collection[F]) Reference(id models.ID) models.Reference {
	return models.MakeReference(c.client.BaseURL(), c.id, id)
}

func (c *Collection[F]) recordsPath() string {
	return "/apps/" + url.PathEscape(c.id) + "/records"
}

func (c *Collection[F]) recordPath(id models.ID) string {
	return c.recordsPath() + "/" + url.PathEscape(string(id))
}

type fieldsBody struct {
	Fields any `json:"fields"`
}

// List fetches every record. The platform answers with an object keyed by
// record id; records are returned in the order they appear in the document.
// Records that fail to decode are left out.
func (c *Collection[F]) List(ctx context.Context) ([]models.Record[F], error) {
	data, _, err := c.client.do(ctx, c.name, http.MethodGet, c.recordsPath(), nil, false)
	if err != nil {
		return nil, err
	}

	doc := gjson.ParseBytes(data)
	if !doc.IsObject() {
		return nil, fmt.Errorf("list %s: expected object, got %s", c.name, doc.Type)
	}

	log := c.client.log.WithComponent("livingapps_client")
	records := make([]models.Record[F], 0)
	skipped := 0
	doc.ForEach(func(key, value gjson.Result) bool {
		var rec models.Record[F]
		if err := json.Unmarshal([]byte(value.Raw), &rec); err != nil {
			skipped++
			log.WithFields(logger.Fields{"collection": c.name, "record_id": key.String()}).WithError(err).Debug("skipping undecodable record")
			return true
		}
		rec.ID = models.ID(key.String())
		records = append(records, rec)
		return true
	})

	if skipped > 0 {
		log.WithFields(logger.Fields{"collection": c.name, "skipped": skipped}).Warn("records skipped while decoding list")
	}
	logger.LogDataFlowEntry(log, "livingapps", c.name, len(records), "records")
	return records, nil
}

// Get fetches one record. A missing record yields nil and no error.
func (c *Collection[F]) Get(ctx context.Context, id models.ID) (*models.Record[F], error) {
	data, status, err := c.client.do(ctx, c.name, http.MethodGet, c.recordPath(id), nil, true)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	return decodeRecord[F](data, id)
}

// Create stores a new record and returns it as the platform reported it.
func (c *Collection[F]) Create(ctx context.Context, fields F) (*models.Record[F], error) {
	data, _, err := c.client.do(ctx, c.name, http.MethodPost, c.recordsPath(), fieldsBody{Fields: fields}, false)
	if err != nil {
		return nil, err
	}
	rec, err := decodeRecord[F](data, "")
	if err != nil {
		return nil, err
	}
	if !gjson.GetBytes(data, "fields").Exists() {
		rec.Fields = fields
	}
	return rec, nil
}

// Update patches the given fields of a record. Only the keys present in
// fields are sent.
func (c *Collection[F]) Update(ctx context.Context, id models.ID, fields map[string]any) (*models.Record[F], error) {
	data, _, err := c.client.do(ctx, c.name, http.MethodPatch, c.recordPath(id), fieldsBody{Fields: fields}, false)
	if err != nil {
		return nil, err
	}
	return decodeRecord[F](data, id)
}

// Delete removes a record.
func (c *Collection[F]) Delete(ctx context.Context, id models.ID) error {
	_, _, err := c.client.do(ctx, c.name, http.MethodDelete, c.recordPath(id), nil, false)
	return err
}

// decodeRecord reads a single record body. The identifier is taken from the
// body's id or record_id and falls back to id.
func decodeRecord[F any](data []byte, id models.ID) (*models.Record[F], error) {
	rec := &models.Record[F]{}
	if len(data) == 0 || !gjson.ValidBytes(data) {
		rec.ID = id
		return rec, nil
	}
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	if rec.ID == "" {
		if v := gjson.GetBytes(data, "id"); v.Exists() {
			rec.ID = models.DecodeReference(v.String())
		}
	}
	if rec.ID == "" {
		if v := gjson.GetBytes(data, "url"); v.Exists() {
			rec.ID = models.DecodeReference(v.String())
		}
	}
	if rec.ID == "" {
		rec.ID = id
	}
	return rec, nil
}

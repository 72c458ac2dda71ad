// Package stream provides DynamoDB Streams handlers that keep collection
// indexes consistent with the records table.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jacentio/hashdoc/kv/dynamokv"
	"github.com/jacentio/hashdoc/store"
)

// Handler processes records-table stream events.
type Handler struct {
	store  *store.Store
	logger *slog.Logger
}

// NewHandler creates a new stream handler. Collections must be registered
// on s before events arrive, or their keys are ignored.
func NewHandler(s *store.Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		store:  s,
		logger: logger,
	}
}

// HandleRecordRemoval removes records deleted outside the store (TTL expiry,
// manual deletes) from their collection index. Records deleted through
// Collection.DeleteByID leave a tombstone instead and are not seen here.
// This function is designed to be used as an AWS Lambda handler.
func (h *Handler) HandleRecordRemoval(ctx context.Context, event events.DynamoDBEvent) error {
	for _, record := range event.Records {
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.Error("failed to process record",
				"eventID", record.EventID,
				"error", err,
			)
			return err // Will retry, eventually DLQ
		}
	}
	return nil
}

func (h *Handler) processRecord(ctx context.Context, record events.DynamoDBEventRecord) error {
	if record.EventName != "REMOVE" {
		return nil
	}

	key := getStringAttr(record.Change.Keys, dynamokv.AttrPK)
	if key == "" {
		h.logger.Warn("remove event without record key", "eventID", record.EventID)
		return nil
	}

	// Index keys have items in the records table too; they belong to no collection.
	c, ok := h.store.CollectionForKey(key)
	if !ok {
		h.logger.Debug("no collection for removed key", "key", key)
		return nil
	}

	removed, err := c.PruneIndex(ctx, key)
	if err != nil {
		return fmt.Errorf("prune %s: %w", key, err)
	}

	h.logger.Info("record removed",
		"collection", c.Name(),
		"key", key,
		"version", getNumberAttr(record.Change.OldImage, dynamokv.AttrVersion),
		"fields", getMapSize(record.Change.OldImage, dynamokv.AttrFields),
		"unindexed", removed,
	)
	return nil
}

// getStringAttr extracts a string attribute from a DynamoDB stream image.
func getStringAttr(image map[string]events.DynamoDBAttributeValue, key string) string {
	if v, ok := image[key]; ok && v.DataType() == events.DataTypeString {
		return v.String()
	}
	return ""
}

// getNumberAttr extracts an integer attribute from a DynamoDB stream image.
func getNumberAttr(image map[string]events.DynamoDBAttributeValue, key string) int64 {
	if v, ok := image[key]; ok {
		if v.DataType() == events.DataTypeNumber {
			n, _ := strconv.ParseInt(v.Number(), 10, 64)
			return n
		}
	}
	return 0
}

// getMapSize returns the number of entries in a map attribute.
func getMapSize(image map[string]events.DynamoDBAttributeValue, key string) int {
	if v, ok := image[key]; ok && v.DataType() == events.DataTypeMap {
		return len(v.Map())
	}
	return 0
}

// Package remote is a resilient client for the remote scan document store.
//
// Every operation swallows its own failures: callers get false, nil or an
// empty result and the cause is logged. Insert retries with two schedules:
// timeouts back off linearly (base delay times the attempt number) while any
// other failure waits the base delay. Duplicate keys are never retried.
package remote

import (
	"context"
	"math"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"hostscan/internal/shared"
)

const (
	fieldScanID    = "identifiers.scan_id"
	fieldTimestamp = "identifiers.timestamp"
)

var errNotConnected = errors.New("remote store not connected")

type Options struct {
	URI        string
	Database   string
	Collection string

	MaxRetries int
	BaseDelay  time.Duration

	ServerSelectionTimeout time.Duration
	ConnectTimeout         time.Duration
	SocketTimeout          time.Duration
}

func OptionsFromConfig(cfg *shared.Config) Options {
	return Options{
		URI:                    cfg.MongoURI,
		Database:               cfg.Database,
		Collection:             cfg.Collection,
		MaxRetries:             cfg.MaxRetries,
		BaseDelay:              cfg.RetryDelay(),
		ServerSelectionTimeout: cfg.ServerSelectionTimeout(),
		ConnectTimeout:         cfg.ConnectTimeout(),
		SocketTimeout:          cfg.SocketTimeout(),
	}
}

type ConnectionInfo struct {
	Connected       bool   `json:"connected"`
	ServerInfo      bson.M `json:"server_info"`
	DatabaseStats   bson.M `json:"database_stats"`
	CollectionCount int64  `json:"collection_count"`
	Error           string `json:"error,omitempty"`
}

type Stats struct {
	TotalDocuments   int64   `json:"total_documents"`
	CollectionSizeMB float64 `json:"collection_size_mb"`
	AvgDocumentSize  float64 `json:"avg_document_size"`
	IndexCount       int64   `json:"indexes_count"`
	Error            string  `json:"error,omitempty"`
}

// Client owns a single connection. It is not safe for concurrent use; give
// each scan run or request its own Client.
type Client struct {
	opts    Options
	logger  logrus.FieldLogger
	dial    Dialer
	sleep   func(ctx context.Context, d time.Duration) error
	now     func() time.Time
	backend Backend
}

type ClientOption func(*Client)

func WithDialer(d Dialer) ClientOption {
	return func(c *Client) { c.dial = d }
}

func WithSleeper(s func(ctx context.Context, d time.Duration) error) ClientOption {
	return func(c *Client) { c.sleep = s }
}

func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) { c.now = now }
}

func New(opts Options, logger logrus.FieldLogger, copts ...ClientOption) *Client {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 2 * time.Second
	}
	c := &Client{
		opts: opts,
		logger: logger.WithFields(logrus.Fields{
			"component":  "remote",
			"database":   opts.Database,
			"collection": opts.Collection,
		}),
		dial:  DialMongo,
		sleep: sleepContext,
		now:   time.Now,
	}
	for _, o := range copts {
		o(c)
	}
	return c
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c *Client) Connected() bool {
	return c.backend != nil
}

// Connect opens the connection if needed. Failure is reported, not raised.
func (c *Client) Connect(ctx context.Context) bool {
	if c.backend != nil {
		return true
	}
	c.logger.Info("connecting to remote store")

	b, err := c.dial(ctx, c.opts)
	if err != nil {
		c.logger.WithError(err).WithField("op", "connect").Error("remote store unavailable")
		return false
	}
	c.backend = b

	if err := b.EnsureIndexes(ctx); err != nil {
		c.logger.WithError(err).Warn("could not ensure remote indexes")
	}
	c.logger.Info("connected to remote store")
	return true
}

// Close releases the connection. Calling it more than once is harmless.
func (c *Client) Close(ctx context.Context) {
	if c.backend == nil {
		return
	}
	b := c.backend
	c.backend = nil
	if err := b.Close(ctx); err != nil {
		c.logger.WithError(err).Error("closing remote store connection")
		return
	}
	c.logger.Debug("remote store connection closed")
}

// drop forgets a connection the driver reported as broken so the next
// operation dials again.
func (c *Client) drop(ctx context.Context, err error) {
	if c.backend == nil || !mongo.IsNetworkError(err) {
		return
	}
	c.logger.WithError(err).Warn("dropping broken remote connection")
	c.Close(ctx)
}

func (c *Client) TestConnection(ctx context.Context) ConnectionInfo {
	info := ConnectionInfo{}
	if !c.Connect(ctx) {
		info.Error = errNotConnected.Error()
		return info
	}

	server, err := c.backend.ServerInfo(ctx)
	if err != nil {
		info.Error = err.Error()
		c.logger.WithError(err).WithField("op", "test_connection").Error("server info failed")
		c.drop(ctx, err)
		return info
	}
	info.ServerInfo = server
	info.Connected = true

	if info.DatabaseStats, err = c.backend.DatabaseStats(ctx); err != nil {
		info.Error = err.Error()
		c.logger.WithError(err).WithField("op", "test_connection").Error("database stats failed")
		return info
	}
	if info.CollectionCount, err = c.backend.Count(ctx); err != nil {
		info.Error = err.Error()
		c.logger.WithError(err).WithField("op", "test_connection").Error("count failed")
		return info
	}

	c.logger.Info("remote connection test passed")
	return info
}

type failureKind string

const (
	failureDuplicateKey failureKind = "duplicate_key"
	failureTimeout      failureKind = "transient_timeout"
	failureOther        failureKind = "unclassified"
)

func classify(err error) failureKind {
	switch {
	case mongo.IsDuplicateKeyError(err):
		return failureDuplicateKey
	case mongo.IsTimeout(err):
		return failureTimeout
	default:
		return failureOther
	}
}

// retryDelay is the wait before the attempt following a failed attempt.
func (c *Client) retryDelay(kind failureKind, attempt int) time.Duration {
	if kind == failureTimeout {
		return c.opts.BaseDelay * time.Duration(attempt)
	}
	return c.opts.BaseDelay
}

// Insert stores doc and returns the store-assigned id. The bool is false
// when the document is a duplicate or every attempt failed.
func (c *Client) Insert(ctx context.Context, doc *shared.ScanDocument) (string, bool) {
	retries := c.opts.MaxRetries
	for attempt := 1; attempt <= retries; attempt++ {
		log := c.logger.WithFields(logrus.Fields{
			"op":      "insert",
			"attempt": attempt,
			"max":     retries,
			"scan_id": doc.Identifiers.ScanID,
		})

		id, err := c.insertOnce(ctx, doc, attempt)
		if err == nil {
			log.WithField("id", id).Info("scan inserted into remote store")
			return id, true
		}

		kind := classify(err)
		log = log.WithError(err).WithField("failure", kind)
		if kind == failureDuplicateKey {
			log.Warn("scan already present in remote store")
			return "", false
		}
		c.drop(ctx, err)

		if attempt == retries {
			log.Error("remote insert failed, retries exhausted")
			return "", false
		}
		delay := c.retryDelay(kind, attempt)
		log.WithField("retry_in", delay).Warn("remote insert attempt failed")
		if err := c.sleep(ctx, delay); err != nil {
			log.WithError(err).Error("remote insert abandoned")
			return "", false
		}
	}
	return "", false
}

func (c *Client) insertOnce(ctx context.Context, doc *shared.ScanDocument, attempt int) (string, error) {
	if !c.Connect(ctx) {
		return "", errNotConnected
	}

	doc.MongoDBInfo = &shared.MongoDBInfo{
		InsertedAt: c.now().Local().Format(shared.TimestampLayout),
		Database:   c.opts.Database,
		Collection: c.opts.Collection,
		Attempt:    attempt,
	}
	insertedID, err := c.backend.InsertOne(ctx, doc)
	if err != nil {
		return "", err
	}
	return idString(insertedID), nil
}

// FindByID looks a scan up by its scan_id. It returns nil when the scan is
// absent or the store cannot be reached.
func (c *Client) FindByID(ctx context.Context, scanID string) *shared.ScanDocument {
	log := c.logger.WithFields(logrus.Fields{"op": "find", "scan_id": scanID})
	if !c.Connect(ctx) {
		return nil
	}

	var raw bson.M
	err := c.backend.FindOne(ctx, bson.D{{Key: fieldScanID, Value: scanID}}, &raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		log.Info("scan not found in remote store")
		return nil
	}
	if err != nil {
		log.WithError(err).Error("remote lookup failed")
		c.drop(ctx, err)
		return nil
	}

	doc, err := decodeDocument(raw)
	if err != nil {
		log.WithError(err).Error("remote document does not decode")
		return nil
	}
	log.Info("scan found in remote store")
	return doc
}

// decodeDocument converts the store identifier to text before mapping the
// raw document onto ScanDocument.
func decodeDocument(raw bson.M) (*shared.ScanDocument, error) {
	if id, ok := raw["_id"]; ok {
		raw["_id"] = idString(id)
	}
	b, err := bson.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var doc shared.ScanDocument
	if err := bson.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Recent returns up to limit scan summaries, newest timestamp first.
func (c *Client) Recent(ctx context.Context, limit int) []Summary {
	out := []Summary{}
	if limit <= 0 {
		return out
	}
	if !c.Connect(ctx) {
		return out
	}

	docs, err := c.backend.FindSorted(ctx, bson.D{}, bson.D{{Key: fieldTimestamp, Value: -1}}, int64(limit))
	if err != nil {
		c.logger.WithError(err).WithField("op", "recent").Error("listing recent scans failed")
		c.drop(ctx, err)
		return out
	}
	for _, d := range docs {
		out = append(out, summarize(d))
	}
	c.logger.WithField("count", len(out)).Info("fetched recent scans")
	return out
}

func (c *Client) CollectionStats(ctx context.Context) Stats {
	stats := Stats{}
	if !c.Connect(ctx) {
		stats.Error = errNotConnected.Error()
		return stats
	}

	raw, err := c.backend.CollectionStats(ctx)
	if err != nil {
		stats.Error = err.Error()
		c.logger.WithError(err).WithField("op", "stats").Error("collection stats failed")
		c.drop(ctx, err)
		return stats
	}

	stats.TotalDocuments = int64(number(raw["count"]))
	stats.CollectionSizeMB = math.Round(number(raw["size"])/(1024*1024)*100) / 100
	stats.AvgDocumentSize = number(raw["avgObjSize"])
	stats.IndexCount = int64(number(raw["nindexes"]))
	return stats
}

package remote

import (
	"context"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"hostscan/internal/logging"
	"hostscan/internal/shared"
)

// fakeBackend keeps documents in memory and replays scripted insert errors.
type fakeBackend struct {
	insertErrs []error
	inserts    int
	docs       []bson.M
	closed     int
	collStats  bson.M
	statsErr   error
	indexErr   error
}

func (f *fakeBackend) InsertOne(ctx context.Context, doc any) (any, error) {
	f.inserts++
	if len(f.insertErrs) > 0 {
		err := f.insertErrs[0]
		f.insertErrs = f.insertErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	b, err := bson.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var m bson.M
	if err := bson.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	id := primitive.NewObjectID()
	m["_id"] = id
	f.docs = append(f.docs, m)
	return id, nil
}

func (f *fakeBackend) FindOne(ctx context.Context, filter bson.D, out any) error {
	for _, d := range f.docs {
		if matches(d, filter) {
			b, err := bson.Marshal(d)
			if err != nil {
				return err
			}
			return bson.Unmarshal(b, out)
		}
	}
	return mongo.ErrNoDocuments
}

func matches(d bson.M, filter bson.D) bool {
	for _, e := range filter {
		if stringAt(d, splitPath(e.Key)...) != e.Value {
			return false
		}
	}
	return true
}

func splitPath(key string) []string {
	var out []string
	start := 0
	for i := 0; i < len(key); i++ {
		if key[i] == '.' {
			out = append(out, key[start:i])
			start = i + 1
		}
	}
	return append(out, key[start:])
}

func (f *fakeBackend) FindSorted(ctx context.Context, filter, sortBy bson.D, limit int64) ([]bson.M, error) {
	out := append([]bson.M(nil), f.docs...)
	key := splitPath(sortBy[0].Key)
	desc := sortBy[0].Value == -1
	sort.SliceStable(out, func(i, j int) bool {
		a, b := stringAt(out[i], key...), stringAt(out[j], key...)
		if desc {
			return a > b
		}
		return a < b
	})
	if limit > 0 && int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeBackend) ServerInfo(ctx context.Context) (bson.M, error) {
	return bson.M{"version": "7.0.5"}, nil
}

func (f *fakeBackend) DatabaseStats(ctx context.Context) (bson.M, error) {
	return bson.M{"collections": int32(1)}, nil
}

func (f *fakeBackend) CollectionStats(ctx context.Context) (bson.M, error) {
	return f.collStats, f.statsErr
}

func (f *fakeBackend) Count(ctx context.Context) (int64, error) {
	return int64(len(f.docs)), nil
}

func (f *fakeBackend) EnsureIndexes(ctx context.Context) error {
	return f.indexErr
}

func (f *fakeBackend) Close(ctx context.Context) error {
	f.closed++
	return nil
}

// harness wires a Client to a fakeBackend and records every requested sleep.
type harness struct {
	backend *fakeBackend
	dials   int
	dialErr error
	sleeps  []time.Duration
	client  *Client
}

func newHarness(base time.Duration) *harness {
	h := &harness{backend: &fakeBackend{}}
	h.client = New(Options{
		Database:   "hostscan",
		Collection: "scans",
		MaxRetries: 3,
		BaseDelay:  base,
	}, logging.Discard(),
		WithDialer(func(ctx context.Context, opts Options) (Backend, error) {
			h.dials++
			if h.dialErr != nil {
				return nil, h.dialErr
			}
			return h.backend, nil
		}),
		WithSleeper(func(ctx context.Context, d time.Duration) error {
			h.sleeps = append(h.sleeps, d)
			return nil
		}),
	)
	return h
}

func testDocument(scanID, timestamp, hostname string) *shared.ScanDocument {
	doc := &shared.ScanDocument{
		Identifiers: shared.ScanIdentifiers{
			ScanID:    scanID,
			AccessPin: "AB12",
			Timestamp: timestamp,
		},
		ScanSettings: shared.ScanSettings{ScannerVersion: "1.0.0"},
	}
	if hostname != "" {
		doc.SystemInfo.OperatingSystem = shared.Record{"hostname": hostname, "name": "Windows 11 Pro"}
	}
	return doc
}

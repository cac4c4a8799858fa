package scanner

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/suite"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"hostscan/internal/localstore"
	"hostscan/internal/logging"
	"hostscan/internal/remote"
	"hostscan/internal/shared"
)

type fakeRemote struct {
	connectOK bool
	insertOK  bool
	connects  int
	inserts   int
	closed    int
}

func (f *fakeRemote) Connect(ctx context.Context) bool {
	f.connects++
	return f.connectOK
}

func (f *fakeRemote) Insert(ctx context.Context, doc *shared.ScanDocument) (string, bool) {
	f.inserts++
	doc.MongoDBInfo = &shared.MongoDBInfo{Database: "hostscan", Collection: "scans", Attempt: 1}
	if !f.insertOK {
		return "", false
	}
	return "665f1c2e9b1e8a0012345678", true
}

func (f *fakeRemote) Close(ctx context.Context) {
	f.closed++
}

// memoryBackend is a remote.Backend that keeps inserted documents in memory.
type memoryBackend struct {
	docs   []any
	closed int
}

func (m *memoryBackend) InsertOne(ctx context.Context, doc any) (any, error) {
	m.docs = append(m.docs, doc)
	return primitive.NewObjectID(), nil
}

func (m *memoryBackend) FindOne(ctx context.Context, filter bson.D, out any) error {
	return errors.New("not implemented")
}

func (m *memoryBackend) FindSorted(ctx context.Context, filter, sort bson.D, limit int64) ([]bson.M, error) {
	return nil, nil
}

func (m *memoryBackend) ServerInfo(ctx context.Context) (bson.M, error)      { return bson.M{}, nil }
func (m *memoryBackend) DatabaseStats(ctx context.Context) (bson.M, error)   { return bson.M{}, nil }
func (m *memoryBackend) CollectionStats(ctx context.Context) (bson.M, error) { return bson.M{}, nil }
func (m *memoryBackend) Count(ctx context.Context) (int64, error)            { return int64(len(m.docs)), nil }
func (m *memoryBackend) EnsureIndexes(ctx context.Context) error             { return nil }

func (m *memoryBackend) Close(ctx context.Context) error {
	m.closed++
	return nil
}

func fakeProviders(calls *[]string) Providers {
	track := func(name string) {
		if calls != nil {
			*calls = append(*calls, name)
		}
	}
	return Providers{
		Disks: func(ctx context.Context, opts Options) ([]shared.Record, error) {
			track("disks")
			return []shared.Record{{"device": "C:", "total_gb": 476.94}}, nil
		},
		GPU: func(ctx context.Context, opts Options) ([]shared.Record, error) {
			track("gpu")
			return []shared.Record{{"name": "NVIDIA GeForce RTX 3060"}}, nil
		},
		Memory: func(ctx context.Context, opts Options) (shared.Record, error) {
			track("memory")
			return shared.Record{"total_gb": 15.86}, nil
		},
		CPU: func(ctx context.Context, opts Options) (shared.Record, error) {
			track("cpu")
			return shared.Record{"processor_name": "AMD Ryzen 7 5800X"}, nil
		},
		OperatingSystem: func(ctx context.Context, opts Options) (shared.Record, error) {
			track("operating_system")
			return shared.Record{
				"name":        "Windows 11 Pro",
				"hostname":    "pc-01",
				"product_key": sensitive(opts, "XXXXX-XXXXX"),
			}, nil
		},
		Updates: func(ctx context.Context, opts Options) (shared.Record, error) {
			track("updates")
			return shared.Record{"total_installed": 12}, nil
		},
		Security: func(ctx context.Context, opts Options) (shared.Record, error) {
			track("security")
			return shared.Record{"open_ports": []shared.Record{}}, nil
		},
	}
}

type ScannerTestSuite struct {
	suite.Suite

	dir     string
	store   *localstore.Store
	remote  *fakeRemote
	scanner *Scanner
}

func (self *ScannerTestSuite) SetupTest() {
	self.dir = self.T().TempDir()

	var err error
	self.store, err = localstore.New(self.dir, logging.Discard())
	self.Require().NoError(err)

	self.remote = &fakeRemote{connectOK: true, insertOK: true}
	self.scanner = New(self.store, fakeProviders(nil), "1.0.0", logging.Discard())
	self.scanner.NewRemote = func() RemoteStore { return self.remote }
}

func (self *ScannerTestSuite) scanFiles() []string {
	matches, err := filepath.Glob(filepath.Join(self.dir, "scan_*.json"))
	self.Require().NoError(err)
	return matches
}

func (self *ScannerTestSuite) TestProvidersRunInFixedOrder() {
	var calls []string
	self.scanner.Providers = fakeProviders(&calls)

	_, err := self.scanner.Run(context.Background(), true, false)
	self.Require().NoError(err)
	self.Equal([]string{
		"disks", "gpu", "memory", "cpu", "operating_system", "updates", "security",
	}, calls)
}

func (self *ScannerTestSuite) TestRunSavesAssembledDocument() {
	res, err := self.scanner.RunWith(context.Background(), RunOptions{
		IncludeSensitive: true,
		OperationID:      "op-7",
	})
	self.Require().NoError(err)

	doc := res.Document
	self.True(shared.ValidPin(doc.Identifiers.AccessPin))
	self.Equal("pc-01", doc.Hostname())
	self.Len(doc.SystemInfo.Hardware.Disks, 1)
	self.Equal("AMD Ryzen 7 5800X", doc.SystemInfo.Hardware.CPU["processor_name"])
	self.Equal("XXXXX-XXXXX", doc.SystemInfo.OperatingSystem["product_key"])
	self.Empty(doc.SystemInfo.CollectionErrors)
	self.Equal(shared.ScanSettings{
		IncludeSensitive: true,
		ScannerVersion:   "1.0.0",
		OperationID:      "op-7",
	}, doc.ScanSettings)

	self.Require().NotNil(doc.FileInfo)
	self.Nil(doc.MongoDBInfo)
	self.False(res.Uploaded())
	self.Zero(self.remote.connects)

	loaded, err := self.store.Load(res.Path)
	self.Require().NoError(err)
	self.Equal(doc.Identifiers, loaded.Identifiers)
	self.Equal(doc.FileInfo, loaded.FileInfo)

	st, err := os.Stat(res.Path)
	self.Require().NoError(err)
	self.Equal(st.Size(), loaded.FileInfo.FileSizeBytes)
}

func (self *ScannerTestSuite) TestSensitiveValuesHidden() {
	doc, err := self.scanner.Run(context.Background(), false, false)
	self.Require().NoError(err)
	self.Equal(shared.Hidden, doc.SystemInfo.OperatingSystem["product_key"])
	self.False(doc.ScanSettings.IncludeSensitive)
}

func (self *ScannerTestSuite) TestFailingProviderLeavesPartialDocument() {
	self.scanner.Providers.Updates = func(ctx context.Context, opts Options) (shared.Record, error) {
		return nil, errors.New("Get-HotFix timed out")
	}

	res, err := self.scanner.RunWith(context.Background(), RunOptions{})
	self.Require().NoError(err)

	loaded, err := self.store.Load(res.Path)
	self.Require().NoError(err)
	info := loaded.SystemInfo
	self.Equal("Get-HotFix timed out", info.Updates["error"])
	self.Equal(map[string]string{"updates": "Get-HotFix timed out"}, info.CollectionErrors)

	// Everything else is still there.
	self.Equal("AMD Ryzen 7 5800X", info.Hardware.CPU["processor_name"])
	self.Equal("pc-01", loaded.Hostname())
	self.NotNil(info.Security["open_ports"])
	self.Len(info.Hardware.GPU, 1)
}

func (self *ScannerTestSuite) TestPartialRecordKeepsProviderData() {
	self.scanner.Providers.Security = func(ctx context.Context, opts Options) (shared.Record, error) {
		return shared.Record{"open_ports": []shared.Record{}}, errors.New("partial security data: firewall")
	}

	doc, err := self.scanner.Run(context.Background(), false, false)
	self.Require().NoError(err)
	self.NotNil(doc.SystemInfo.Security["open_ports"])
	self.Equal("partial security data: firewall", doc.SystemInfo.Security["error"])
}

func (self *ScannerTestSuite) TestExtraProvidersFillExtra() {
	var calls []string
	self.scanner.Providers = fakeProviders(&calls)
	self.scanner.Providers.Extra = []NamedProvider{
		{Name: "network", Fn: func(ctx context.Context, opts Options) (shared.Record, error) {
			calls = append(calls, "network")
			return shared.Record{"interfaces": []shared.Record{}}, nil
		}},
		{Name: "broken", Fn: func(ctx context.Context, opts Options) (shared.Record, error) {
			return nil, errors.New("not here")
		}},
	}

	res, err := self.scanner.RunWith(context.Background(), RunOptions{})
	self.Require().NoError(err)
	self.Equal("network", calls[len(calls)-1])

	loaded, err := self.store.Load(res.Path)
	self.Require().NoError(err)
	info := loaded.SystemInfo
	self.Contains(info.Extra, "network")
	self.Equal("not here", info.Extra["broken"]["error"])
	self.Equal(map[string]string{"extra.broken": "not here"}, info.CollectionErrors)
}

func (self *ScannerTestSuite) TestNonFiniteNumbersDoNotFailSave() {
	self.scanner.Providers.Memory = func(ctx context.Context, opts Options) (shared.Record, error) {
		return shared.Record{
			"total_gb":  15.86,
			"usage_pct": math.NaN(),
			"samples":   []any{1.5, math.Inf(1)},
		}, nil
	}
	self.scanner.Providers.Disks = func(ctx context.Context, opts Options) ([]shared.Record, error) {
		return []shared.Record{{"device": "C:", "free_gb": math.Inf(-1)}}, nil
	}

	res, err := self.scanner.RunWith(context.Background(), RunOptions{})
	self.Require().NoError(err)

	loaded, err := self.store.Load(res.Path)
	self.Require().NoError(err)
	info := loaded.SystemInfo
	self.Equal(15.86, info.Hardware.Memory["total_gb"])
	self.Nil(info.Hardware.Memory["usage_pct"])
	self.Equal([]any{1.5, nil}, info.Hardware.Memory["samples"])
	self.Equal("C:", info.Hardware.Disks[0]["device"])
	self.Nil(info.Hardware.Disks[0]["free_gb"])
	self.Equal(errNonFinite.Error(), info.CollectionErrors["hardware.memory"])
	self.Equal(errNonFinite.Error(), info.CollectionErrors["hardware.disks"])
}

func (self *ScannerTestSuite) TestUnencodableRecordIsDropped() {
	self.scanner.Providers.Security = func(ctx context.Context, opts Options) (shared.Record, error) {
		return shared.Record{"watcher": make(chan int)}, nil
	}

	res, err := self.scanner.RunWith(context.Background(), RunOptions{})
	self.Require().NoError(err)

	loaded, err := self.store.Load(res.Path)
	self.Require().NoError(err)
	info := loaded.SystemInfo
	self.NotContains(info.Security, "watcher")
	self.Contains(info.Security["error"], "provider data dropped")
	self.Contains(info.CollectionErrors["security"], "provider data dropped")
	self.Equal("pc-01", loaded.Hostname())
}

func (self *ScannerTestSuite) TestPanickingListProvider() {
	self.scanner.Providers.GPU = func(ctx context.Context, opts Options) ([]shared.Record, error) {
		panic("driver exploded")
	}
	self.scanner.Providers.Disks = nil

	doc, err := self.scanner.Run(context.Background(), false, false)
	self.Require().NoError(err)
	self.NotNil(doc.SystemInfo.Hardware.GPU)
	self.Empty(doc.SystemInfo.Hardware.GPU)
	self.Contains(doc.SystemInfo.CollectionErrors["hardware.gpu"], "driver exploded")
	self.Equal(errNoProvider.Error(), doc.SystemInfo.CollectionErrors["hardware.disks"])
	self.Len(self.scanFiles(), 1)
}

func (self *ScannerTestSuite) TestCancelledBetweenSteps() {
	ctx, cancel := context.WithCancel(context.Background())
	self.scanner.Providers.Memory = func(c context.Context, opts Options) (shared.Record, error) {
		cancel()
		return shared.Record{"total_gb": 8.0}, nil
	}
	var later bool
	self.scanner.Providers.CPU = func(c context.Context, opts Options) (shared.Record, error) {
		later = true
		return shared.Record{}, nil
	}

	_, err := self.scanner.Run(ctx, false, true)
	self.Require().Error(err)
	self.ErrorIs(err, context.Canceled)
	self.False(later)
	self.Empty(self.scanFiles())
	self.Zero(self.remote.connects)
}

func (self *ScannerTestSuite) TestUploadAnnotatesDocument() {
	res, err := self.scanner.RunWith(context.Background(), RunOptions{UploadRemote: true})
	self.Require().NoError(err)
	self.True(res.Uploaded())
	self.Equal("665f1c2e9b1e8a0012345678", res.RemoteID)
	self.Require().NotNil(res.Document.MongoDBInfo)
	self.Equal(1, self.remote.inserts)
	self.Equal(1, self.remote.closed)
}

func (self *ScannerTestSuite) TestRemoteFailureDoesNotFailRun() {
	self.remote.insertOK = false

	res, err := self.scanner.RunWith(context.Background(), RunOptions{UploadRemote: true})
	self.Require().NoError(err)
	self.False(res.Uploaded())
	self.Nil(res.Document.MongoDBInfo)
	self.Equal(1, self.remote.closed)
	self.Len(self.scanFiles(), 1)
}

func (self *ScannerTestSuite) TestUnreachableRemoteStillAttemptsInsert() {
	self.remote.connectOK = false
	self.remote.insertOK = false

	res, err := self.scanner.RunWith(context.Background(), RunOptions{UploadRemote: true})
	self.Require().NoError(err)
	self.False(res.Uploaded())
	self.Nil(res.Document.MongoDBInfo)
	self.Equal(1, self.remote.connects)
	self.Equal(1, self.remote.inserts)
	self.Equal(1, self.remote.closed)
	self.Len(self.scanFiles(), 1)
}

func (self *ScannerTestSuite) TestUploadRetriesAfterFailedConnect() {
	backend := &memoryBackend{}
	dials := 0
	var sleeps []time.Duration

	client := remote.New(remote.Options{
		Database:   "hostscan",
		Collection: "scans",
		MaxRetries: 3,
		BaseDelay:  time.Second,
	}, logging.Discard(),
		remote.WithDialer(func(ctx context.Context, opts remote.Options) (remote.Backend, error) {
			dials++
			if dials == 1 {
				return nil, errors.New("server selection error")
			}
			return backend, nil
		}),
		remote.WithSleeper(func(ctx context.Context, d time.Duration) error {
			sleeps = append(sleeps, d)
			return nil
		}))
	self.scanner.NewRemote = func() RemoteStore { return client }

	res, err := self.scanner.RunWith(context.Background(), RunOptions{UploadRemote: true})
	self.Require().NoError(err)
	self.True(res.Uploaded())
	self.Equal(2, dials)
	self.Len(backend.docs, 1)
	self.Empty(sleeps)
	self.Equal(1, backend.closed)
	self.Require().NotNil(res.Document.MongoDBInfo)
	self.Equal(1, res.Document.MongoDBInfo.Attempt)
}

func (self *ScannerTestSuite) TestSaveFailureAbortsRun() {
	self.Require().NoError(os.RemoveAll(self.dir))

	_, err := self.scanner.Run(context.Background(), false, true)
	self.Require().Error(err)
	self.ErrorIs(err, localstore.ErrIOFailure)
	self.Zero(self.remote.connects)
}

func TestScanner(t *testing.T) {
	suite.Run(t, &ScannerTestSuite{})
}

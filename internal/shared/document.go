package shared

// Record is an opaque provider payload. It is stored as-is.
type Record = map[string]any

const (
	Unknown = "unknown"
	Hidden  = "***HIDDEN***"
)

type ScanIdentifiers struct {
	ScanID    string `json:"scan_id" bson:"scan_id"`
	AccessPin string `json:"access_pin" bson:"access_pin"`
	Timestamp string `json:"timestamp" bson:"timestamp"`
	ScanDate  string `json:"scan_date" bson:"scan_date"`
	ScanTime  string `json:"scan_time" bson:"scan_time"`
}

type Hardware struct {
	Disks  []Record `json:"disks" bson:"disks"`
	GPU    []Record `json:"gpu" bson:"gpu"`
	Memory Record   `json:"memory" bson:"memory"`
	CPU    Record   `json:"cpu" bson:"cpu"`
}

type SystemInfo struct {
	Hardware        Hardware `json:"hardware" bson:"hardware"`
	OperatingSystem Record   `json:"operating_system" bson:"operating_system"`
	Updates         Record   `json:"updates" bson:"updates"`
	Security        Record   `json:"security" bson:"security"`

	// CollectionErrors maps a subtree path (e.g. "hardware.gpu") to the
	// provider failure that left it partial.
	CollectionErrors map[string]string `json:"collection_errors,omitempty" bson:"collection_errors,omitempty"`

	// Extra carries provider data that has no typed home yet.
	Extra map[string]Record `json:"extra,omitempty" bson:"extra,omitempty"`
}

type ScanSettings struct {
	IncludeSensitive bool   `json:"include_sensitive" bson:"include_sensitive"`
	ScannerVersion   string `json:"scanner_version" bson:"scanner_version"`
	OperationID      string `json:"operation_id,omitempty" bson:"operation_id,omitempty"`
}

type FileInfo struct {
	Filename      string `json:"filename" bson:"filename"`
	SavedAt       string `json:"saved_at" bson:"saved_at"`
	FileSizeBytes int64  `json:"file_size_bytes" bson:"file_size_bytes"`
}

type MongoDBInfo struct {
	InsertedAt string `json:"inserted_at" bson:"inserted_at"`
	Database   string `json:"database" bson:"database"`
	Collection string `json:"collection" bson:"collection"`
	Attempt    int    `json:"attempt" bson:"attempt"`
}

// ScanDocument is the unit persisted locally and remotely.
type ScanDocument struct {
	// ID is the store-assigned identifier, only set on documents read back
	// from the remote store.
	ID string `json:"_id,omitempty" bson:"_id,omitempty"`

	Identifiers  ScanIdentifiers `json:"identifiers" bson:"identifiers"`
	SystemInfo   SystemInfo      `json:"system_info" bson:"system_info"`
	ScanSettings ScanSettings    `json:"scan_settings" bson:"scan_settings"`
	FileInfo     *FileInfo       `json:"file_info,omitempty" bson:"file_info,omitempty"`
	MongoDBInfo  *MongoDBInfo    `json:"mongodb_info,omitempty" bson:"mongodb_info,omitempty"`
}

// Hostname returns the hostname reported by the OS provider, or Unknown.
func (d *ScanDocument) Hostname() string {
	return StringField(d.SystemInfo.OperatingSystem, "hostname")
}

// OSName returns the OS name reported by the OS provider, or Unknown.
func (d *ScanDocument) OSName() string {
	return StringField(d.SystemInfo.OperatingSystem, "name")
}

// StringField reads a string key from a record, defaulting to Unknown.
func StringField(r Record, key string) string {
	if r == nil {
		return Unknown
	}
	s, ok := r[key].(string)
	if !ok || s == "" {
		return Unknown
	}
	return s
}

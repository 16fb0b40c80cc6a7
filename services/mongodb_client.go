package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"cpls_refresh/errors"
	"cpls_refresh/logger"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// MongoDB collection names
const (
	MongoSnapshotCollection = "indicator_snapshots"
	MongoLatestSnapshotID   = "latest"
)

// MongoDBClient archives refresh payloads in MongoDB Atlas
type MongoDBClient struct {
	uri    string
	dbName string

	client      *mongo.Client
	database    *mongo.Database
	mu          sync.RWMutex
	isConnected bool
	lastError   string // Last connection error message
	log         *zap.SugaredLogger
}

// IndicatorSnapshot is the archived payload of one successful refresh
type IndicatorSnapshot struct {
	ID         string      `bson:"_id" json:"id"`
	RunID      string      `bson:"run_id" json:"run_id"`
	Trigger    string      `bson:"trigger" json:"trigger"`
	StatusCode int         `bson:"status_code" json:"status_code"`
	UpdatedAt  time.Time   `bson:"updated_at" json:"updated_at"`
	Payload    interface{} `bson:"payload,omitempty" json:"payload,omitempty"`
}

// NewIndicatorSnapshot builds the latest-snapshot document from a refresh
// payload. JSON objects and arrays are stored as native documents.
func NewIndicatorSnapshot(runID, trigger string, statusCode int, payload json.RawMessage) (*IndicatorSnapshot, error) {
	snap := &IndicatorSnapshot{
		ID:         MongoLatestSnapshotID,
		RunID:      runID,
		Trigger:    trigger,
		StatusCode: statusCode,
		UpdatedAt:  time.Now().UTC(),
	}
	if len(payload) == 0 {
		return snap, nil
	}

	var doc interface{}
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, errors.Wrap(err, "decode refresh payload")
	}
	snap.Payload = doc
	return snap, nil
}

// NewMongoDBClient creates an unconnected client. An empty uri disables the
// archive.
func NewMongoDBClient(uri, dbName string) *MongoDBClient {
	m := &MongoDBClient{
		uri:    uri,
		dbName: dbName,
		log:    logger.Named("mongo"),
	}
	if uri == "" {
		m.lastError = "MONGODB_URI environment variable not set"
	}
	return m
}

// Connect establishes connection to MongoDB Atlas
func (m *MongoDBClient) Connect(ctx context.Context) error {
	if m.uri == "" {
		return errors.Mark(errors.New(m.lastError), errors.ErrConfigurationMissing)
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	clientOptions := options.Client().
		ApplyURI(m.uri).
		SetServerAPIOptions(options.ServerAPI(options.ServerAPIVersion1)).
		SetMaxPoolSize(10).
		SetMinPoolSize(2).
		SetMaxConnIdleTime(30 * time.Second).
		SetConnectTimeout(30 * time.Second).
		SetRetryWrites(true).
		SetRetryReads(true)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		m.setError("failed to connect: " + err.Error())
		return errors.Wrap(err, "connect to MongoDB")
	}

	if err := client.Ping(ctx, nil); err != nil {
		m.setError("failed to ping: " + err.Error())
		client.Disconnect(ctx)
		return errors.Wrap(err, "ping MongoDB")
	}

	m.mu.Lock()
	m.client = client
	m.database = client.Database(m.dbName)
	m.isConnected = true
	m.lastError = ""
	m.mu.Unlock()

	m.log.Infow("MongoDB connected", "database", m.dbName)
	return nil
}

func (m *MongoDBClient) setError(msg string) {
	m.mu.Lock()
	m.lastError = msg
	m.mu.Unlock()
	m.log.Warnw("MongoDB unavailable", logger.FieldError, msg)
}

// IsConfigured returns whether MongoDB is configured and connected
func (m *MongoDBClient) IsConfigured() bool {
	if m == nil {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.isConnected
}

// GetConnectionStatus returns detailed connection status
func (m *MongoDBClient) GetConnectionStatus() map[string]interface{} {
	if m == nil {
		return map[string]interface{}{"uri_set": false, "connected": false}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := map[string]interface{}{
		"uri_set":   m.uri != "",
		"connected": m.isConnected,
	}
	if m.lastError != "" {
		status["error"] = m.lastError
	}
	return status
}

// SaveSnapshot upserts the latest refresh snapshot
func (m *MongoDBClient) SaveSnapshot(ctx context.Context, snap *IndicatorSnapshot) error {
	if !m.IsConfigured() {
		return errors.Mark(errors.New("MongoDB not configured"), errors.ErrConfigurationMissing)
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	collection := m.database.Collection(MongoSnapshotCollection)
	opts := options.Replace().SetUpsert(true)

	if _, err := collection.ReplaceOne(ctx, bson.M{"_id": snap.ID}, snap, opts); err != nil {
		return errors.Wrapf(err, "save snapshot for run %s", snap.RunID)
	}
	return nil
}

// LatestSnapshot loads the latest refresh snapshot. It returns nil, nil when
// nothing has been archived yet.
func (m *MongoDBClient) LatestSnapshot(ctx context.Context) (*IndicatorSnapshot, error) {
	if !m.IsConfigured() {
		return nil, errors.Mark(errors.New("MongoDB not configured"), errors.ErrConfigurationMissing)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var snap IndicatorSnapshot
	err := m.database.Collection(MongoSnapshotCollection).
		FindOne(ctx, bson.M{"_id": MongoLatestSnapshotID}).
		Decode(&snap)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "load latest snapshot")
	}
	return &snap, nil
}

// Close closes the MongoDB connection
func (m *MongoDBClient) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	err := m.client.Disconnect(ctx)
	m.client = nil
	m.isConnected = false
	return err
}

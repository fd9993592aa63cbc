package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// executionDoc is the MongoDB document shape. Maps are kept as JSON text so
// nested values decode back to plain Go maps rather than bson.D.
type executionDoc struct {
	ID          string     `bson:"_id"`
	Workflow    string     `bson:"workflow"`
	Status      string     `bson:"status"`
	StartedAt   time.Time  `bson:"started_at"`
	EndedAt     *time.Time `bson:"ended_at,omitempty"`
	CurrentStep int        `bson:"current_step"`
	TotalSteps  int        `bson:"total_steps"`
	FailedStep  int        `bson:"failed_step"`
	Results     string     `bson:"results"`
	Errors      string     `bson:"errors"`
	Context     string     `bson:"context"`
	UpdatedAt   time.Time  `bson:"updated_at"`
}

func toDoc(rec *ExecutionRecord) (*executionDoc, error) {
	row, err := toRow(rec)
	if err != nil {
		return nil, err
	}
	return &executionDoc{
		ID:          row.ID,
		Workflow:    row.Workflow,
		Status:      row.Status,
		StartedAt:   row.StartedAt,
		EndedAt:     row.EndedAt,
		CurrentStep: row.CurrentStep,
		TotalSteps:  row.TotalSteps,
		FailedStep:  row.FailedStep,
		Results:     row.Results,
		Errors:      row.Errors,
		Context:     row.Context,
		UpdatedAt:   row.UpdatedAt,
	}, nil
}

func fromDoc(doc *executionDoc) (*ExecutionRecord, error) {
	return fromRow(&executionRow{
		ID:          doc.ID,
		Workflow:    doc.Workflow,
		Status:      doc.Status,
		StartedAt:   doc.StartedAt,
		EndedAt:     doc.EndedAt,
		CurrentStep: doc.CurrentStep,
		TotalSteps:  doc.TotalSteps,
		FailedStep:  doc.FailedStep,
		Results:     doc.Results,
		Errors:      doc.Errors,
		Context:     doc.Context,
		UpdatedAt:   doc.UpdatedAt,
	})
}

// MongoExecutionStore is a MongoDB-based implementation of ExecutionStore.
type MongoExecutionStore struct {
	client     *mongo.Client
	collection *mongo.Collection
	ownClient  bool
}

// NewMongoExecutionStore connects to MongoDB and returns a store.
func NewMongoExecutionStore(ctx context.Context, config MongoStoreConfig) (*MongoExecutionStore, error) {
	if config.URI == "" {
		return nil, fmt.Errorf("%w: mongo uri is required", ErrInvalidInput)
	}
	timeout := config.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client, err := mongo.Connect(options.Client().ApplyURI(config.URI).SetConnectTimeout(timeout))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	store := NewMongoExecutionStoreWithClient(client, config.Database, config.Collection)
	store.ownClient = true
	if err := store.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return store, nil
}

// NewMongoExecutionStoreWithClient creates a store on an existing client.
func NewMongoExecutionStoreWithClient(client *mongo.Client, database, collection string) *MongoExecutionStore {
	if database == "" {
		database = "orchestra"
	}
	if collection == "" {
		collection = "workflow_executions"
	}
	return &MongoExecutionStore{
		client:     client,
		collection: client.Database(database).Collection(collection),
	}
}

// EnsureIndexes creates the indexes used by listing and cleanup.
func (s *MongoExecutionStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "started_at", Value: -1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "ended_at", Value: 1}}},
		{Keys: bson.D{{Key: "workflow", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

// Close disconnects the client if the store created it
func (s *MongoExecutionStore) Close() error {
	if !s.ownClient {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// Ping checks if the store is healthy
func (s *MongoExecutionStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// SaveExecution inserts or replaces a record
func (s *MongoExecutionStore) SaveExecution(ctx context.Context, rec *ExecutionRecord) error {
	if rec == nil || rec.ID == "" {
		return ErrInvalidInput
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}

	doc, err := toDoc(rec)
	if err != nil {
		return err
	}
	_, err = s.collection.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
	return err
}

// GetExecution retrieves a record by ID
func (s *MongoExecutionStore) GetExecution(ctx context.Context, id string) (*ExecutionRecord, error) {
	var doc executionDoc
	err := s.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return fromDoc(&doc)
}

// ListExecutions returns records matching the filter, newest first
func (s *MongoExecutionStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*ExecutionRecord, error) {
	query := bson.M{}
	if filter.Status != "" {
		query["status"] = filter.Status
	}
	if filter.Workflow != "" {
		query["workflow"] = filter.Workflow
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "started_at", Value: -1}}).
		SetLimit(int64(filter.limit()))
	cursor, err := s.collection.Find(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []executionDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	result := make([]*ExecutionRecord, 0, len(docs))
	for i := range docs {
		rec, err := fromDoc(&docs[i])
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, nil
}

// DeleteExecution removes a record
func (s *MongoExecutionStore) DeleteExecution(ctx context.Context, id string) error {
	res, err := s.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// Cleanup removes terminal records that ended before now-olderThan
func (s *MongoExecutionStore) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	res, err := s.collection.DeleteMany(ctx, bson.M{
		"status": bson.M{"$in": bson.A{ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled}},
		"ended_at": bson.M{"$lt": cutoff},
	})
	if err != nil {
		return 0, err
	}
	return int(res.DeletedCount), nil
}

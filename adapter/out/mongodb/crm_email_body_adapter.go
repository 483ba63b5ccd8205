// Package mongodb implements MongoDB adapters for the application.
package mongodb

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"crm_server/core/domain"
)

const (
	collectionEmailBodies = "email_bodies"

	// Only compress bodies larger than this.
	compressionThreshold = 1024 // 1KB
)

// EmailBodyAdapter implements domain.EmailBodyRepository using MongoDB.
// Postgres keeps email metadata and annotations; the full text and HTML
// bodies live here.
type EmailBodyAdapter struct {
	collection *mongo.Collection
}

func NewEmailBodyAdapter(db *mongo.Database) *EmailBodyAdapter {
	return &EmailBodyAdapter{collection: db.Collection(collectionEmailBodies)}
}

// EnsureIndexes creates required indexes for the collection.
func (a *EmailBodyAdapter) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "email_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "stored_at", Value: 1}},
		},
	}

	_, err := a.collection.Indexes().CreateMany(ctx, indexes)
	return err
}

type emailBodyDocument struct {
	EmailID int64 `bson:"email_id"`

	Text         []byte `bson:"text"`
	HTML         []byte `bson:"html"`
	IsCompressed bool   `bson:"is_compressed"`

	OriginalSize   int64 `bson:"original_size"`
	CompressedSize int64 `bson:"compressed_size"`

	StoredAt time.Time `bson:"stored_at"`
}

// Save upserts the body for an email.
func (a *EmailBodyAdapter) Save(ctx context.Context, body *domain.EmailBody) error {
	doc, err := toDocument(body)
	if err != nil {
		return fmt.Errorf("failed to convert body to document: %w", err)
	}

	opts := options.Replace().SetUpsert(true)
	filter := bson.M{"email_id": body.EmailID}

	if _, err := a.collection.ReplaceOne(ctx, filter, doc, opts); err != nil {
		return fmt.Errorf("failed to save email body: %w", err)
	}
	return nil
}

// Get returns nil when no body is stored for the email.
func (a *EmailBodyAdapter) Get(ctx context.Context, emailID int64) (*domain.EmailBody, error) {
	var doc emailBodyDocument
	filter := bson.M{"email_id": emailID}

	if err := a.collection.FindOne(ctx, filter).Decode(&doc); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get email body: %w", err)
	}
	return toEntity(&doc)
}

func (a *EmailBodyAdapter) Delete(ctx context.Context, emailID int64) error {
	filter := bson.M{"email_id": emailID}

	if _, err := a.collection.DeleteOne(ctx, filter); err != nil {
		return fmt.Errorf("failed to delete email body: %w", err)
	}
	return nil
}

func toDocument(body *domain.EmailBody) (*emailBodyDocument, error) {
	textBytes := []byte(body.Text)
	htmlBytes := []byte(body.HTML)
	originalSize := int64(len(textBytes) + len(htmlBytes))

	isCompressed := false
	compressedSize := originalSize

	if originalSize > compressionThreshold {
		compressedText, err := compress(textBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to compress text: %w", err)
		}
		compressedHTML, err := compress(htmlBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to compress HTML: %w", err)
		}

		textBytes = compressedText
		htmlBytes = compressedHTML
		isCompressed = true
		compressedSize = int64(len(textBytes) + len(htmlBytes))
	}

	return &emailBodyDocument{
		EmailID:        body.EmailID,
		Text:           textBytes,
		HTML:           htmlBytes,
		IsCompressed:   isCompressed,
		OriginalSize:   originalSize,
		CompressedSize: compressedSize,
		StoredAt:       time.Now(),
	}, nil
}

func toEntity(doc *emailBodyDocument) (*domain.EmailBody, error) {
	textBytes := doc.Text
	htmlBytes := doc.HTML

	if doc.IsCompressed {
		var err error
		textBytes, err = decompress(doc.Text)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress text: %w", err)
		}
		htmlBytes, err = decompress(doc.HTML)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress HTML: %w", err)
		}
	}

	return &domain.EmailBody{
		EmailID: doc.EmailID,
		Text:    string(textBytes),
		HTML:    string(htmlBytes),
	}, nil
}

func compress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}

	var buf bytes.Buffer
	writer := gzip.NewWriter(&buf)

	if _, err := writer.Write(data); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}

	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	return io.ReadAll(reader)
}

var _ domain.EmailBodyRepository = (*EmailBodyAdapter)(nil)

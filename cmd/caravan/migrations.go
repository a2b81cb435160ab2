package main

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/voyagecms/caravan/pkg/migrate"
)

// cmsMigrations is the VoyageCMS migration set. Versions are zero-padded
// sequence numbers; the registry sorts them, so declaration order here is
// cosmetic.
//
// Every up body must tolerate re-execution: a run that crashed between a
// successful up and its ledger write will re-invoke the body on the next run.
// Index creation with a fixed name is idempotent; backfills filter on the
// fields they set.
func cmsMigrations(db *mongo.Database) []migrate.Migration {
	return []migrate.Migration{
		{
			Version:     "0001",
			Description: "unique slug index on destinations",
			Up: func(ctx context.Context) error {
				_, err := db.Collection("destinations").Indexes().CreateOne(ctx, mongo.IndexModel{
					Keys:    bson.D{{Key: "slug", Value: 1}},
					Options: options.Index().SetUnique(true).SetName("slug_unique"),
				})
				return err
			},
			Down: func(ctx context.Context) error {
				_, err := db.Collection("destinations").Indexes().DropOne(ctx, "slug_unique")
				return err
			},
		},
		{
			Version:     "0002",
			Description: "unique reference index on quotes",
			Up: func(ctx context.Context) error {
				_, err := db.Collection("quotes").Indexes().CreateOne(ctx, mongo.IndexModel{
					Keys:    bson.D{{Key: "reference", Value: 1}},
					Options: options.Index().SetUnique(true).SetName("reference_unique"),
				})
				return err
			},
			Down: func(ctx context.Context) error {
				_, err := db.Collection("quotes").Indexes().DropOne(ctx, "reference_unique")
				return err
			},
		},
		{
			Version:     "0003",
			Description: "backfill status on enquiries",
			Up: func(ctx context.Context) error {
				// No down: once operators triage enquiries the synthetic
				// "new" marker is indistinguishable from a real one.
				_, err := db.Collection("enquiries").UpdateMany(ctx,
					bson.M{"status": bson.M{"$exists": false}},
					bson.M{"$set": bson.M{"status": "new"}})
				return err
			},
		},
		{
			Version:     "0004",
			Description: "expire stale quotes via TTL index",
			Up: func(ctx context.Context) error {
				_, err := db.Collection("quotes").Indexes().CreateOne(ctx, mongo.IndexModel{
					Keys:    bson.D{{Key: "expires_at", Value: 1}},
					Options: options.Index().SetExpireAfterSeconds(0).SetName("expires_at_ttl"),
				})
				return err
			},
			Down: func(ctx context.Context) error {
				_, err := db.Collection("quotes").Indexes().DropOne(ctx, "expires_at_ttl")
				return err
			},
		},
		{
			Version:     "0005",
			Description: "created_at index on enquiries",
			Up: func(ctx context.Context) error {
				_, err := db.Collection("enquiries").Indexes().CreateOne(ctx, mongo.IndexModel{
					Keys:    bson.D{{Key: "created_at", Value: -1}},
					Options: options.Index().SetName("created_at_desc"),
				})
				return err
			},
			Down: func(ctx context.Context) error {
				_, err := db.Collection("enquiries").Indexes().DropOne(ctx, "created_at_desc")
				return err
			},
		},
	}
}

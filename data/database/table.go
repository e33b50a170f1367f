package database

import "go.mongodb.org/mongo-driver/mongo"

// Table is implemented by every mongo-backed model: the collection name
// plus a handle to the live collection.
type Table interface {
	GetTableName() string
	Collection() *mongo.Collection
}

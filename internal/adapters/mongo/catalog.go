package mongo

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/smarthost-reservations/internal/domain"
	"github.com/robertarktes/smarthost-reservations/internal/observability"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const queryTimeout = 5 * time.Second

// CatalogRepository serves apartment metadata. It is the only source of
// capacity and nightly price for admission.
type CatalogRepository struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewCatalogRepository(db *mongo.Database, logger observability.Logger) *CatalogRepository {
	return &CatalogRepository{
		coll:   db.Collection("apartments"),
		logger: logger,
	}
}

type ApartmentDoc struct {
	ID        int64     `bson:"_id"`
	Name      string    `bson:"name"`
	MaxGuests int       `bson:"max_guests"`
	BasePrice string    `bson:"base_price"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func (d ApartmentDoc) toDomain() (domain.Apartment, error) {
	price, err := decimal.NewFromString(d.BasePrice)
	if err != nil {
		return domain.Apartment{}, errors.Wrapf(err, "apartment %d base price", d.ID)
	}
	return domain.Apartment{ID: d.ID, Name: d.Name, MaxGuests: d.MaxGuests, BasePrice: price}, nil
}

func (c *CatalogRepository) GetApartment(ctx context.Context, id int64) (*domain.Apartment, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var doc ApartmentDoc
	err := c.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errors.Wrapf(domain.ErrApartmentNotFound, "apartment %d", id)
	}
	if err != nil {
		c.logger.WithError(err).WithField("apartment_id", id).Error("failed to get apartment")
		return nil, domain.Persistence(err, "get apartment")
	}
	a, err := doc.toDomain()
	if err != nil {
		return nil, domain.Persistence(err, "decode apartment")
	}
	return &a, nil
}

// ListApartments returns apartments that fit at least minGuests, ordered by id.
func (c *CatalogRepository) ListApartments(ctx context.Context, minGuests int) ([]domain.Apartment, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	filter := bson.M{}
	if minGuests > 0 {
		filter["max_guests"] = bson.M{"$gte": minGuests}
	}
	cur, err := c.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		c.logger.WithError(err).Error("failed to list apartments")
		return nil, domain.Persistence(err, "list apartments")
	}
	defer cur.Close(ctx)

	var docs []ApartmentDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, domain.Persistence(err, "decode apartments")
	}
	out := make([]domain.Apartment, 0, len(docs))
	for _, d := range docs {
		a, err := d.toDomain()
		if err != nil {
			return nil, domain.Persistence(err, "decode apartment")
		}
		out = append(out, a)
	}
	return out, nil
}

func (c *CatalogRepository) UpsertApartment(ctx context.Context, a domain.Apartment) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	doc := ApartmentDoc{
		ID:        a.ID,
		Name:      a.Name,
		MaxGuests: a.MaxGuests,
		BasePrice: a.BasePrice.StringFixed(2),
		UpdatedAt: time.Now().UTC(),
	}
	_, err := c.coll.ReplaceOne(ctx, bson.M{"_id": a.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		c.logger.WithError(err).WithField("apartment_id", a.ID).Error("failed to upsert apartment")
		return domain.Persistence(err, "upsert apartment")
	}
	return nil
}

package mongo

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/departure-inventory/internal/domain"
	"github.com/robertarktes/departure-inventory/internal/observability"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// CatalogRepository reads departures and resources owned by catalog
// management. The engine never writes capacity facts outside of seeding.
type CatalogRepository struct {
	departures *mongo.Collection
	resources  *mongo.Collection
	logger     observability.Logger
}

func NewCatalogRepository(db *mongo.Database, logger observability.Logger) *CatalogRepository {
	return &CatalogRepository{
		departures: db.Collection("departures"),
		resources:  db.Collection("resources"),
		logger:     logger,
	}
}

type DepartureDoc struct {
	ID                   string               `bson:"_id"`
	ResourceID           string               `bson:"resource_id"`
	StartsAt             time.Time            `bson:"starts_at"`
	TotalCapacity        int                  `bson:"total_capacity"`
	BlockedSeats         int                  `bson:"blocked_seats"`
	OverbookingAllowance int                  `bson:"overbooking_allowance"`
	Status               string               `bson:"status"`
	Version              int64                `bson:"version"`
	UnitPrice            primitive.Decimal128 `bson:"unit_price"`
	UpdatedAt            time.Time            `bson:"updated_at"`
}

type ResourceDoc struct {
	ID        string               `bson:"_id"`
	Name      string               `bson:"name"`
	Capacity  int                  `bson:"capacity"`
	Active    bool                 `bson:"active"`
	UnitPrice primitive.Decimal128 `bson:"unit_price"`
	UpdatedAt time.Time            `bson:"updated_at"`
}

func (d DepartureDoc) toDomain() (domain.Departure, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return domain.Departure{}, errors.Wrapf(err, "departure id %q", d.ID)
	}
	var resourceID uuid.UUID
	if d.ResourceID != "" {
		if resourceID, err = uuid.Parse(d.ResourceID); err != nil {
			return domain.Departure{}, errors.Wrapf(err, "resource id %q", d.ResourceID)
		}
	}
	price, err := fromDecimal128(d.UnitPrice)
	if err != nil {
		return domain.Departure{}, err
	}
	return domain.Departure{
		ID:                   id,
		ResourceID:           resourceID,
		StartsAt:             d.StartsAt.UTC(),
		TotalCapacity:        d.TotalCapacity,
		BlockedSeats:         d.BlockedSeats,
		OverbookingAllowance: d.OverbookingAllowance,
		Status:               domain.DepartureStatus(d.Status),
		Version:              d.Version,
		UnitPrice:            price,
	}, nil
}

func (d ResourceDoc) toDomain() (domain.Resource, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return domain.Resource{}, errors.Wrapf(err, "resource id %q", d.ID)
	}
	price, err := fromDecimal128(d.UnitPrice)
	if err != nil {
		return domain.Resource{}, err
	}
	return domain.Resource{ID: id, Name: d.Name, Capacity: d.Capacity, Active: d.Active, UnitPrice: price}, nil
}

func fromDecimal128(v primitive.Decimal128) (decimal.Decimal, error) {
	if v.IsZero() {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(v.String())
	return d, errors.Wrap(err, "decode unit price")
}

func toDecimal128(d decimal.Decimal) (primitive.Decimal128, error) {
	v, err := primitive.ParseDecimal128(d.String())
	return v, errors.Wrap(err, "encode unit price")
}

func (c *CatalogRepository) GetDeparture(ctx context.Context, id uuid.UUID) (domain.Departure, error) {
	var doc DepartureDoc
	err := c.departures.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.Departure{}, errors.Wrapf(domain.ErrDepartureNotFound, "departure %s", id)
	}
	if err != nil {
		c.logger.WithField("departure_id", id).WithError(err).Error("failed to get departure")
		return domain.Departure{}, domain.Transient(errors.Wrap(err, "get departure"))
	}
	return doc.toDomain()
}

func (c *CatalogRepository) GetResource(ctx context.Context, id uuid.UUID) (domain.Resource, error) {
	var doc ResourceDoc
	err := c.resources.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.Resource{}, errors.Wrapf(domain.ErrResourceNotFound, "resource %s", id)
	}
	if err != nil {
		c.logger.WithField("resource_id", id).WithError(err).Error("failed to get resource")
		return domain.Resource{}, domain.Transient(errors.Wrap(err, "get resource"))
	}
	return doc.toDomain()
}

// PutDeparture upserts d and bumps its version so holds can tell which
// capacity facts they were admitted against.
func (c *CatalogRepository) PutDeparture(ctx context.Context, d domain.Departure) error {
	price, err := toDecimal128(d.UnitPrice)
	if err != nil {
		return err
	}
	_, err = c.departures.UpdateOne(ctx,
		bson.M{"_id": d.ID.String()},
		bson.M{
			"$set": bson.M{
				"resource_id":           d.ResourceID.String(),
				"starts_at":             d.StartsAt.UTC(),
				"total_capacity":        d.TotalCapacity,
				"blocked_seats":         d.BlockedSeats,
				"overbooking_allowance": d.OverbookingAllowance,
				"status":                string(d.Status),
				"unit_price":            price,
				"updated_at":            time.Now().UTC(),
			},
			"$inc": bson.M{"version": 1},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		c.logger.WithField("departure_id", d.ID).WithError(err).Error("failed to put departure")
		return errors.Wrap(err, "put departure")
	}
	return nil
}

func (c *CatalogRepository) PutResource(ctx context.Context, r domain.Resource) error {
	price, err := toDecimal128(r.UnitPrice)
	if err != nil {
		return err
	}
	_, err = c.resources.UpdateOne(ctx,
		bson.M{"_id": r.ID.String()},
		bson.M{"$set": bson.M{
			"name":       r.Name,
			"capacity":   r.Capacity,
			"active":     r.Active,
			"unit_price": price,
			"updated_at": time.Now().UTC(),
		}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		c.logger.WithField("resource_id", r.ID).WithError(err).Error("failed to put resource")
		return errors.Wrap(err, "put resource")
	}
	return nil
}

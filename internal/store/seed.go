package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aaronwang/bidding-app/internal/apperr"
	"github.com/aaronwang/bidding-app/internal/models"
)

// PasswordHasher turns a plain password into the stored hash
type PasswordHasher func(plain string) (string, error)

type seedUser struct {
	username, password string
	admin              bool
}

var seedUsers = []seedUser{
	{"user1", "pass1", false},
	{"user2", "pass2", false},
	{"admin", "admin", true},
}

func seedItems(now time.Time) []models.Item {
	hour := int64(time.Hour / time.Second)
	return []models.Item{
		{Name: "Antique Chair", Description: "Oak, 19th century", ListingType: models.ListingAuction, CurrentBid: decimal.NewFromInt(100), EndTime: now.Unix() + 24*hour},
		{Name: "Vintage Painting", Description: "Oil on canvas", ListingType: models.ListingAuction, CurrentBid: decimal.NewFromInt(500), EndTime: now.Unix() + 48*hour},
		{Name: "Rare Coin Collection", Description: "Twelve silver coins", ListingType: models.ListingAuction, CurrentBid: decimal.NewFromInt(1000), EndTime: now.Unix() + 72*hour},
		{Name: "Auction Catalogue", Description: "Printed season catalogue", ListingType: models.ListingFixed, FixedPrice: decimal.NewFromInt(20), Inventory: 50},
		{Name: "Display Stand", Description: "Walnut stand", ListingType: models.ListingFixed, FixedPrice: decimal.NewFromInt(45), Inventory: 10},
	}
}

// Seed inserts the demo users and listings into empty tables
func (s *Store) Seed(ctx context.Context, hash PasswordHasher, now time.Time) error {
	var users, items int
	if err := s.queryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&users); err != nil {
		return apperr.Persistence("count users", err)
	}
	if err := s.queryRow(ctx, `SELECT COUNT(*) FROM items`).Scan(&items); err != nil {
		return apperr.Persistence("count items", err)
	}

	return s.WithTx(ctx, func(tx *Tx) error {
		if users == 0 {
			for _, u := range seedUsers {
				h, err := hash(u.password)
				if err != nil {
					return err
				}
				if _, err := tx.CreateUser(ctx, u.username, h, u.admin); err != nil {
					return err
				}
			}
		}
		if items == 0 {
			for _, it := range seedItems(now) {
				if err := tx.CreateItem(ctx, &it); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

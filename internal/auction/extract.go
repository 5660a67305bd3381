package auction

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"auctionetl/internal/normalize"
)

// ErrMissingField marks a record that lacks a required field.
var ErrMissingField = errors.New("missing required field")

// MissingFieldError names the required field an item record lacks.
type MissingFieldError struct {
	ItemID string
	Field  string
}

func (e *MissingFieldError) Error() string {
	if e.ItemID == "" {
		return fmt.Sprintf("item: %s: %s", ErrMissingField, e.Field)
	}
	return fmt.Sprintf("item %s: %s: %s", e.ItemID, ErrMissingField, e.Field)
}

func (e *MissingFieldError) Unwrap() error { return ErrMissingField }

// Sink receives the rows produced for one record. Rows are aligned with the
// column lists declared in this package (ItemColumns, UserColumns, ...).
type Sink interface {
	Emit(ctx context.Context, table string, row []any) error
}

// Extractor turns records into rows. Values in emitted rows are nil, string
// or int64.
type Extractor struct {
	Format normalize.TimestampFormat
	// PlainDescriptions flattens HTML markup in item descriptions to text.
	PlainDescriptions bool
	Log               *zap.Logger
}

func NewExtractor(format normalize.TimestampFormat, log *zap.Logger) *Extractor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Extractor{Format: format, Log: log}
}

// Extract runs the four extractors in their fixed order: Item, Category,
// User, Bids.
func (e *Extractor) Extract(ctx context.Context, rec *Record, sink Sink) error {
	if err := e.ParseItem(ctx, rec, sink); err != nil {
		return err
	}
	if err := e.ParseCategory(ctx, rec, sink); err != nil {
		return err
	}
	if err := e.ParseUser(ctx, rec, sink); err != nil {
		return err
	}
	return e.ParseBids(ctx, rec, sink)
}

// ParseItem emits exactly one item row. Every field but Buy_Price must be
// present; Name, Description, Location and Country may be null.
func (e *Extractor) ParseItem(ctx context.Context, rec *Record, sink Sink) error {
	id, err := itemID(rec)
	if err != nil {
		return err
	}
	missing := func(field string) error { return &MissingFieldError{ItemID: id, Field: field} }

	for _, f := range []struct {
		name string
		v    Text
	}{
		{"Name", rec.Name}, {"Description", rec.Description},
		{"Location", rec.Location}, {"Country", rec.Country},
	} {
		if !f.v.Set {
			return missing(f.name)
		}
	}
	if !rec.NumberOfBids.Valid() {
		return missing("Number_of_Bids")
	}
	if rec.Seller == nil || !rec.Seller.UserID.Valid() {
		return missing("Seller.UserID")
	}

	buyPrice, err := e.money(id, "Buy_Price", rec.BuyPrice, false)
	if err != nil {
		return err
	}
	firstBid, err := e.money(id, "First_Bid", rec.FirstBid, true)
	if err != nil {
		return err
	}
	currently, err := e.money(id, "Currently", rec.Currently, true)
	if err != nil {
		return err
	}
	started, err := e.timestamp(id, "Started", rec.Started)
	if err != nil {
		return err
	}
	ends, err := e.timestamp(id, "Ends", rec.Ends)
	if err != nil {
		return err
	}
	if after(started, ends) {
		e.logger().Warn("item ends before it starts",
			zap.String("item", id), zap.Any("started", started), zap.Any("ends", ends))
	}

	description := rec.Description.Any()
	if e.PlainDescriptions && rec.Description.Valid() {
		description = normalize.PlainText(rec.Description.Value)
	}

	return sink.Emit(ctx, TableItem, []any{
		id,
		rec.Name.Any(),
		description,
		rec.Location.Any(),
		rec.Country.Any(),
		buyPrice,
		firstBid,
		currently,
		rec.NumberOfBids.Value,
		started,
		ends,
		rec.Seller.UserID.Value,
	})
}

// ParseUser emits one user row per bidder, in bid order, then one for the
// seller. The seller's location and country are the item's.
func (e *Extractor) ParseUser(ctx context.Context, rec *Record, sink Sink) error {
	id, err := itemID(rec)
	if err != nil {
		return err
	}

	for i, entry := range rec.Bids {
		b := entry.Bid.Bidder
		if !b.UserID.Valid() {
			return &MissingFieldError{ItemID: id, Field: fmt.Sprintf("Bids[%d].Bid.Bidder.UserID", i)}
		}
		if !b.Rating.Valid() {
			return &MissingFieldError{ItemID: id, Field: fmt.Sprintf("Bids[%d].Bid.Bidder.Rating", i)}
		}
		if err := sink.Emit(ctx, TableUser, []any{b.UserID.Value, b.Rating.Value, b.Location.Any(), b.Country.Any()}); err != nil {
			return err
		}
	}

	if rec.Seller == nil || !rec.Seller.UserID.Valid() {
		return &MissingFieldError{ItemID: id, Field: "Seller.UserID"}
	}
	if !rec.Seller.Rating.Valid() {
		return &MissingFieldError{ItemID: id, Field: "Seller.Rating"}
	}
	return sink.Emit(ctx, TableUser, []any{rec.Seller.UserID.Value, rec.Seller.Rating.Value, rec.Location.Any(), rec.Country.Any()})
}

// ParseCategory emits a category row and a membership row per listed
// category. Blank names are skipped.
func (e *Extractor) ParseCategory(ctx context.Context, rec *Record, sink Sink) error {
	id, err := itemID(rec)
	if err != nil {
		return err
	}
	for _, c := range rec.Category {
		name := normalize.CanonicalName(c)
		if name == "" {
			e.logger().Debug("skipping blank category", zap.String("item", id))
			continue
		}
		if err := sink.Emit(ctx, TableCategory, []any{name}); err != nil {
			return err
		}
		if err := sink.Emit(ctx, TableItemCategory, []any{id, name}); err != nil {
			return err
		}
	}
	return nil
}

// ParseBids emits one bid row per bid entry. An absent bid list emits nothing.
func (e *Extractor) ParseBids(ctx context.Context, rec *Record, sink Sink) error {
	id, err := itemID(rec)
	if err != nil {
		return err
	}
	for i, entry := range rec.Bids {
		b := entry.Bid
		prefix := fmt.Sprintf("Bids[%d].Bid.", i)
		if !b.Bidder.UserID.Valid() {
			return &MissingFieldError{ItemID: id, Field: prefix + "Bidder.UserID"}
		}
		at, err := e.timestamp(id, prefix+"Time", b.Time)
		if err != nil {
			return err
		}
		amount, err := e.money(id, prefix+"Amount", b.Amount, true)
		if err != nil {
			return err
		}
		if err := sink.Emit(ctx, TableBid, []any{id, b.Bidder.UserID.Value, at, amount}); err != nil {
			return err
		}
	}
	return nil
}

func (e *Extractor) logger() *zap.Logger {
	if e.Log == nil {
		return zap.NewNop()
	}
	return e.Log
}

func itemID(rec *Record) (string, error) {
	if !rec.ItemID.Valid() || rec.ItemID.Value == "" {
		return "", &MissingFieldError{Field: "ItemID"}
	}
	return rec.ItemID.Value, nil
}

// money returns nil for the missing marker and int64 minor units otherwise.
func (e *Extractor) money(id, field string, v Text, required bool) (any, error) {
	if !v.Valid() {
		if required {
			return nil, &MissingFieldError{ItemID: id, Field: field}
		}
		return nil, nil
	}
	n, err := normalize.Dollars(v.Value)
	if err != nil {
		return nil, fmt.Errorf("item %s: %s: %w", id, field, err)
	}
	if !n.Valid {
		if required {
			return nil, &MissingFieldError{ItemID: id, Field: field}
		}
		return nil, nil
	}
	return n.Int64, nil
}

func (e *Extractor) timestamp(id, field string, v Text) (any, error) {
	if !v.Valid() {
		return nil, &MissingFieldError{ItemID: id, Field: field}
	}
	out, err := e.Format.Normalize(v.Value, e.logger())
	if err != nil {
		return nil, fmt.Errorf("item %s: %s: %w", id, field, err)
	}
	return out, nil
}

func after(a, b any) bool {
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av > bv
	case int64:
		bv, ok := b.(int64)
		return ok && av > bv
	}
	return false
}

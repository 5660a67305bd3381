package auction

import (
	"auctionetl/internal/normalize"
	"auctionetl/internal/storage"
)

const (
	TableUser         = "user"
	TableCategory     = "category"
	TableItem         = "item"
	TableItemCategory = "item_category"
	TableBid          = "bid"
	TableNowTime      = "now_time"

	NowColumn = "now"
)

// Column order of the rows emitted by the extractors.
var (
	ItemColumns         = []string{"item_id", "name", "description", "location", "country", "buy_price", "first_bid", "currently", "number_of_bids", "started", "ends", "seller_id"}
	UserColumns         = []string{"user_id", "rating", "location", "country"}
	CategoryColumns     = []string{"name"}
	ItemCategoryColumns = []string{"item_id", "category"}
	BidColumns          = []string{"item_id", "user_id", "time", "amount"}
)

// NowSentinel is the reference "current time" of the dataset, one second
// after its export: Dec-20-01 00:00:02 UTC.
const NowSentinel int64 = 1008806402

// Tables returns the destination schema in referential order: every table
// comes after the tables it references. Timestamp columns are text for
// FormatISO and integers for FormatEpoch.
func Tables(format normalize.TimestampFormat) []storage.TableSpec {
	timeType := storage.TypeKey
	if format == normalize.FormatEpoch {
		timeType = storage.TypeInt
	}
	userRef := &storage.ForeignKey{Table: TableUser, Column: "user_id"}
	itemRef := &storage.ForeignKey{Table: TableItem, Column: "item_id"}

	return []storage.TableSpec{
		{
			Name: TableUser,
			Columns: []storage.ColumnSpec{
				{Name: "user_id", Type: storage.TypeKey},
				{Name: "rating", Type: storage.TypeInt},
				{Name: "location", Type: storage.TypeText, Nullable: true},
				{Name: "country", Type: storage.TypeText, Nullable: true},
			},
			Constraints: []storage.ConstraintSpec{{Kind: "primary_key", Columns: []string{"user_id"}}},
			Identity:    []string{"user_id"},
			DataFile:    "users.dat",
		},
		{
			Name:        TableCategory,
			Columns:     []storage.ColumnSpec{{Name: "name", Type: storage.TypeKey}},
			Constraints: []storage.ConstraintSpec{{Kind: "primary_key", Columns: []string{"name"}}},
			Identity:    []string{"name"},
			DataFile:    "category.dat",
		},
		{
			Name: TableItem,
			Columns: []storage.ColumnSpec{
				{Name: "item_id", Type: storage.TypeKey},
				{Name: "name", Type: storage.TypeText, Nullable: true},
				{Name: "description", Type: storage.TypeText, Nullable: true},
				{Name: "location", Type: storage.TypeText, Nullable: true},
				{Name: "country", Type: storage.TypeText, Nullable: true},
				{Name: "buy_price", Type: storage.TypeInt, Nullable: true},
				{Name: "first_bid", Type: storage.TypeInt},
				{Name: "currently", Type: storage.TypeInt},
				{Name: "number_of_bids", Type: storage.TypeInt},
				{Name: "started", Type: timeType},
				{Name: "ends", Type: timeType},
				{Name: "seller_id", Type: storage.TypeKey, References: userRef},
			},
			Constraints: []storage.ConstraintSpec{{Kind: "primary_key", Columns: []string{"item_id"}}},
			Identity:    []string{"item_id"},
			DataFile:    "items.dat",
		},
		{
			Name: TableItemCategory,
			Columns: []storage.ColumnSpec{
				{Name: "item_id", Type: storage.TypeKey, References: itemRef},
				{Name: "category", Type: storage.TypeKey, References: &storage.ForeignKey{Table: TableCategory, Column: "name"}},
			},
			Constraints: []storage.ConstraintSpec{{Kind: "unique", Columns: []string{"item_id", "category"}}},
			Identity:    []string{"item_id", "category"},
			DataFile:    "item_category.dat",
		},
		{
			Name: TableBid,
			Columns: []storage.ColumnSpec{
				{Name: "item_id", Type: storage.TypeKey, References: itemRef},
				{Name: "user_id", Type: storage.TypeKey, References: userRef},
				{Name: "time", Type: timeType},
				{Name: "amount", Type: storage.TypeInt},
			},
			DataFile: "bids.dat",
		},
		{
			Name:     TableNowTime,
			Columns:  []storage.ColumnSpec{{Name: NowColumn, Type: timeType}},
			DataFile: "now_time.dat",
		},
	}
}

package auction

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"auctionetl/internal/normalize"
	"auctionetl/internal/storage"
)

type emitted struct {
	table string
	row   []any
}

type recordingSink struct {
	rows []emitted
	fail error
}

func (s *recordingSink) Emit(_ context.Context, table string, row []any) error {
	if s.fail != nil {
		return s.fail
	}
	s.rows = append(s.rows, emitted{table: table, row: row})
	return nil
}

func (s *recordingSink) count(table string) int {
	n := 0
	for _, r := range s.rows {
		if r.table == table {
			n++
		}
	}
	return n
}

func (s *recordingSink) of(table string) [][]any {
	var out [][]any
	for _, r := range s.rows {
		if r.table == table {
			out = append(out, r.row)
		}
	}
	return out
}

const twoBidItem = `{
	"ItemID": "1043374545",
	"Name": "christopher radko | fritz n_ frosty sledding",
	"Category": ["Collectibles", "Decorative & Holiday", "Christmas"],
	"Currently": "$30.00",
	"First_Bid": "$30.00",
	"Buy_Price": "$1,000.50",
	"Number_of_Bids": "2",
	"Bids": [
		{"Bid": {"Bidder": {"UserID": "wgcollector", "Rating": "27", "Location": "Norwalk, CT", "Country": "USA"}, "Time": "Dec-10-01 09:49:00", "Amount": "$30.00"}},
		{"Bid": {"Bidder": {"UserID": "dvd1016", "Rating": "0"}, "Time": "Dec-11-01 01:10:25", "Amount": "$35.50"}}
	],
	"Location": "Lancaster, PA",
	"Country": "USA",
	"Started": "Dec-03-01 18:10:40",
	"Ends": "Dec-13-01 18:10:40",
	"Seller": {"Rating": "1026", "UserID": "rulabula"},
	"Description": "Fritz & Frosty Sledding"
}`

func decode(t *testing.T, s string) *Record {
	t.Helper()
	var rec Record
	require.NoError(t, json.Unmarshal([]byte(s), &rec))
	return &rec
}

func mutate(t *testing.T, fn func(m map[string]any)) *Record {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(twoBidItem), &m))
	fn(m)
	b, err := json.Marshal(m)
	require.NoError(t, err)
	return decode(t, string(b))
}

func TestExtract_OneItemTwoBidders(t *testing.T) {
	ctx := context.Background()
	sink := &recordingSink{}
	ex := NewExtractor(normalize.FormatISO, zap.NewNop())

	require.NoError(t, ex.Extract(ctx, decode(t, twoBidItem), sink))

	require.Equal(t, 1, sink.count(TableItem))
	require.Equal(t, 3, sink.count(TableUser))
	require.Equal(t, 2, sink.count(TableBid))
	require.Equal(t, 3, sink.count(TableCategory))
	require.Equal(t, 3, sink.count(TableItemCategory))

	// Fixed order: item, categories, users, bids.
	require.Equal(t, TableItem, sink.rows[0].table)
	require.Equal(t, TableCategory, sink.rows[1].table)
	require.Equal(t, TableItemCategory, sink.rows[2].table)
	require.Equal(t, TableUser, sink.rows[7].table)
	require.Equal(t, TableBid, sink.rows[len(sink.rows)-1].table)

	item := sink.of(TableItem)[0]
	require.Len(t, item, len(ItemColumns))
	require.Equal(t, []any{
		"1043374545",
		"christopher radko | fritz n_ frosty sledding",
		"Fritz & Frosty Sledding",
		"Lancaster, PA",
		"USA",
		int64(100050),
		int64(3000),
		int64(3000),
		int64(2),
		"2001-12-03 18:10:40",
		"2001-12-13 18:10:40",
		"rulabula",
	}, item)

	users := sink.of(TableUser)
	require.Equal(t, []any{"wgcollector", int64(27), "Norwalk, CT", "USA"}, users[0])
	require.Equal(t, []any{"dvd1016", int64(0), nil, nil}, users[1])
	require.Equal(t, []any{"rulabula", int64(1026), "Lancaster, PA", "USA"}, users[2], "seller carries the item location")

	bids := sink.of(TableBid)
	require.Equal(t, []any{"1043374545", "dvd1016", "2001-12-11 01:10:25", int64(3550)}, bids[1])
}

func TestExtract_EpochFormat(t *testing.T) {
	sink := &recordingSink{}
	ex := NewExtractor(normalize.FormatEpoch, nil)

	require.NoError(t, ex.ParseItem(context.Background(), decode(t, twoBidItem), sink))
	item := sink.of(TableItem)[0]
	require.IsType(t, int64(0), item[9])
	require.Less(t, item[9].(int64), item[10].(int64))
}

func TestParseCategory_ZeroCategories(t *testing.T) {
	for _, fn := range []func(m map[string]any){
		func(m map[string]any) { m["Category"] = []any{} },
		func(m map[string]any) { delete(m, "Category") },
	} {
		sink := &recordingSink{}
		require.NoError(t, NewExtractor(normalize.FormatISO, nil).ParseCategory(context.Background(), mutate(t, fn), sink))
		require.Empty(t, sink.rows)
	}
}

func TestExtract_NoBidHistory(t *testing.T) {
	for _, fn := range []func(m map[string]any){
		func(m map[string]any) { delete(m, "Bids") },
		func(m map[string]any) { m["Bids"] = nil },
	} {
		sink := &recordingSink{}
		require.NoError(t, NewExtractor(normalize.FormatISO, nil).Extract(context.Background(), mutate(t, fn), sink))
		require.Equal(t, 0, sink.count(TableBid))
		require.Equal(t, 1, sink.count(TableItem))
		require.Equal(t, 1, sink.count(TableUser))
	}
}

func TestParseItem_BuyPriceOptional(t *testing.T) {
	for _, fn := range []func(m map[string]any){
		func(m map[string]any) { delete(m, "Buy_Price") },
		func(m map[string]any) { m["Buy_Price"] = "NULL" },
		func(m map[string]any) { m["Buy_Price"] = nil },
	} {
		sink := &recordingSink{}
		require.NoError(t, NewExtractor(normalize.FormatISO, nil).ParseItem(context.Background(), mutate(t, fn), sink))
		require.Nil(t, sink.of(TableItem)[0][5], "missing marker, never zero")
	}
}

func TestParseItem_NullableTextLoadsAsNil(t *testing.T) {
	sink := &recordingSink{}
	rec := mutate(t, func(m map[string]any) { m["Description"] = nil })
	require.NoError(t, NewExtractor(normalize.FormatISO, nil).ParseItem(context.Background(), rec, sink))
	require.Nil(t, sink.of(TableItem)[0][2])
}

func TestParseItem_MissingRequiredFields(t *testing.T) {
	fields := []string{"Name", "Description", "Location", "Country", "First_Bid", "Currently", "Number_of_Bids", "Started", "Ends"}
	for _, f := range fields {
		t.Run(f, func(t *testing.T) {
			sink := &recordingSink{}
			rec := mutate(t, func(m map[string]any) { delete(m, f) })

			err := NewExtractor(normalize.FormatISO, nil).ParseItem(context.Background(), rec, sink)
			require.True(t, errors.Is(err, ErrMissingField), err)

			var mf *MissingFieldError
			require.ErrorAs(t, err, &mf)
			require.Equal(t, f, mf.Field)
			require.Equal(t, "1043374545", mf.ItemID)
			require.Empty(t, sink.rows, "no partial row")
		})
	}

	t.Run("ItemID", func(t *testing.T) {
		rec := mutate(t, func(m map[string]any) { delete(m, "ItemID") })
		err := NewExtractor(normalize.FormatISO, nil).ParseItem(context.Background(), rec, &recordingSink{})
		require.ErrorIs(t, err, ErrMissingField)
	})

	t.Run("Seller.UserID", func(t *testing.T) {
		rec := mutate(t, func(m map[string]any) { m["Seller"] = map[string]any{"Rating": "5"} })
		err := NewExtractor(normalize.FormatISO, nil).ParseItem(context.Background(), rec, &recordingSink{})
		var mf *MissingFieldError
		require.ErrorAs(t, err, &mf)
		require.Equal(t, "Seller.UserID", mf.Field)
	})
}

func TestParseItem_MalformedCurrencyAndTimestamp(t *testing.T) {
	rec := mutate(t, func(m map[string]any) { m["Currently"] = "$1.2.3" })
	err := NewExtractor(normalize.FormatISO, nil).ParseItem(context.Background(), rec, &recordingSink{})
	require.ErrorIs(t, err, normalize.ErrMalformedCurrency)
	require.ErrorContains(t, err, "item 1043374545: Currently")

	rec = mutate(t, func(m map[string]any) { m["Ends"] = "yesterday" })
	err = NewExtractor(normalize.FormatISO, nil).ParseItem(context.Background(), rec, &recordingSink{})
	require.ErrorIs(t, err, normalize.ErrMalformedTimestamp)
}

func TestParseItem_EndsBeforeStartIsOnlyAWarning(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	rec := mutate(t, func(m map[string]any) { m["Ends"] = "Dec-01-01 00:00:00" })

	sink := &recordingSink{}
	require.NoError(t, NewExtractor(normalize.FormatISO, zap.New(core)).ParseItem(context.Background(), rec, sink))
	require.Equal(t, 1, sink.count(TableItem))
	require.Equal(t, 1, logs.FilterMessage("item ends before it starts").Len())
}

func TestParseBids_MissingBidderID(t *testing.T) {
	rec := mutate(t, func(m map[string]any) {
		m["Bids"] = []any{map[string]any{"Bid": map[string]any{"Bidder": map[string]any{"Rating": "1"}, "Time": "Dec-10-01 09:49:00", "Amount": "$1.00"}}}
	})
	err := NewExtractor(normalize.FormatISO, nil).ParseBids(context.Background(), rec, &recordingSink{})
	var mf *MissingFieldError
	require.ErrorAs(t, err, &mf)
	require.Equal(t, "Bids[0].Bid.Bidder.UserID", mf.Field)
}

func TestParseCategory_CanonicalNames(t *testing.T) {
	rec := mutate(t, func(m map[string]any) { m["Category"] = []any{"  Books ", "", "Café"} })
	sink := &recordingSink{}
	require.NoError(t, NewExtractor(normalize.FormatISO, nil).ParseCategory(context.Background(), rec, sink))
	require.Equal(t, [][]any{{"Books"}, {"Café"}}, sink.of(TableCategory))
	require.Equal(t, []any{"1043374545", "Books"}, sink.of(TableItemCategory)[0])
}

func TestExtract_SinkErrorPropagates(t *testing.T) {
	boom := errors.New("boom")
	err := NewExtractor(normalize.FormatISO, nil).Extract(context.Background(), decode(t, twoBidItem), &recordingSink{fail: boom})
	require.ErrorIs(t, err, boom)
}

func TestRecord_NumbersAcceptStringsAndNumbers(t *testing.T) {
	rec := decode(t, `{"ItemID": 17, "Number_of_Bids": 4, "Seller": {"UserID": "x", "Rating": " 12 "}}`)
	require.Equal(t, "17", rec.ItemID.Value)
	require.Equal(t, int64(4), rec.NumberOfBids.Value)
	require.Equal(t, int64(12), rec.Seller.Rating.Value)

	var bad Record
	require.Error(t, json.Unmarshal([]byte(`{"Number_of_Bids": "many"}`), &bad))
}

func TestTables_ReferentialOrderAndShapes(t *testing.T) {
	tables := Tables(normalize.FormatISO)
	pos := map[string]int{}
	for i, tb := range tables {
		pos[tb.Name] = i
	}
	for _, tb := range tables {
		for _, c := range tb.Columns {
			if c.References != nil {
				require.Less(t, pos[c.References.Table], pos[tb.Name], "%s.%s", tb.Name, c.Name)
			}
		}
	}

	byName := func(name string) storage.TableSpec { return tables[pos[name]] }
	require.Equal(t, ItemColumns, byName(TableItem).ColumnNames())
	require.Equal(t, UserColumns, byName(TableUser).ColumnNames())
	require.Equal(t, CategoryColumns, byName(TableCategory).ColumnNames())
	require.Equal(t, ItemCategoryColumns, byName(TableItemCategory).ColumnNames())
	require.Equal(t, BidColumns, byName(TableBid).ColumnNames())
	require.Empty(t, byName(TableBid).Identity, "bids are append-only")

	epoch := Tables(normalize.FormatEpoch)
	require.Equal(t, storage.TypeInt, epoch[pos[TableBid]].Columns[2].Type)
	require.Equal(t, storage.TypeKey, byName(TableBid).Columns[2].Type)
}

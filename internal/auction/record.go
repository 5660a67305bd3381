// Package auction holds the source record shape of the auction dataset, the
// fixed destination schema, and the extractors that turn one record into rows.
package auction

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Record is one element of a document's Items array.
type Record struct {
	ItemID       Text       `json:"ItemID"`
	Name         Text       `json:"Name"`
	Description  Text       `json:"Description"`
	Location     Text       `json:"Location"`
	Country      Text       `json:"Country"`
	Category     []string   `json:"Category"`
	BuyPrice     Text       `json:"Buy_Price"`
	FirstBid     Text       `json:"First_Bid"`
	Currently    Text       `json:"Currently"`
	NumberOfBids Number     `json:"Number_of_Bids"`
	Started      Text       `json:"Started"`
	Ends         Text       `json:"Ends"`
	Seller       *Seller    `json:"Seller"`
	Bids         []BidEntry `json:"Bids"`
}

type Seller struct {
	UserID Text   `json:"UserID"`
	Rating Number `json:"Rating"`
}

// BidEntry mirrors the {"Bid": {...}} wrapper used by the dataset.
type BidEntry struct {
	Bid Bid `json:"Bid"`
}

type Bid struct {
	Bidder Bidder `json:"Bidder"`
	Time   Text   `json:"Time"`
	Amount Text   `json:"Amount"`
}

type Bidder struct {
	UserID   Text   `json:"UserID"`
	Rating   Number `json:"Rating"`
	Location Text   `json:"Location"`
	Country  Text   `json:"Country"`
}

// Text is a string field that remembers whether it was present in the
// document and whether it was null. JSON numbers are kept as their literal
// text.
type Text struct {
	Value string
	Set   bool
	Null  bool
}

func (t *Text) UnmarshalJSON(b []byte) error {
	t.Set = true
	b = bytes.TrimSpace(b)
	if string(b) == "null" {
		t.Null = true
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		return json.Unmarshal(b, &t.Value)
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("want string, got %s", b)
	}
	t.Value = n.String()
	return nil
}

// Valid reports whether the field holds a value.
func (t Text) Valid() bool { return t.Set && !t.Null }

// Ptr returns nil for an absent or null field.
func (t Text) Ptr() *string {
	if !t.Valid() {
		return nil
	}
	v := t.Value
	return &v
}

// Any returns nil for an absent or null field and the string otherwise.
func (t Text) Any() any {
	if !t.Valid() {
		return nil
	}
	return t.Value
}

// Number is an integer field. The dataset writes counts and ratings as
// strings ("Rating": "1026"), so both encodings are accepted.
type Number struct {
	Value int64
	Set   bool
	Null  bool
}

func (n *Number) UnmarshalJSON(b []byte) error {
	n.Set = true
	b = bytes.TrimSpace(b)
	if string(b) == "null" {
		n.Null = true
		return nil
	}
	raw := string(b)
	if len(b) > 0 && b[0] == '"' {
		if err := json.Unmarshal(b, &raw); err != nil {
			return err
		}
		raw = strings.TrimSpace(raw)
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("want integer, got %s", b)
	}
	n.Value = v
	return nil
}

// Valid reports whether the field holds a value.
func (n Number) Valid() bool { return n.Set && !n.Null }

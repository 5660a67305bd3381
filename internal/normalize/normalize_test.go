package normalize

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestDollars(t *testing.T) {
	tests := []struct {
		in    string
		want  int64
		valid bool
	}{
		{in: "$1,234.56", want: 123456, valid: true},
		{in: "123456", want: 123456, valid: true},
		{in: "$0.00", want: 0, valid: true},
		{in: "$5.1", want: 510, valid: true},
		{in: "$5.", want: 500, valid: true},
		{in: "$7", want: 700, valid: true},
		{in: "$7.", want: 700, valid: true},
		{in: "$7.0", want: 700, valid: true},
		{in: "$1,250", want: 125000, valid: true},
		{in: "700", want: 700, valid: true},
		{in: " $1,000,000.01 ", want: 100000001, valid: true},
		{in: "", valid: false},
		{in: "NULL", valid: false},
	}
	for _, tc := range tests {
		got, err := Dollars(tc.in)
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.valid, got.Valid, tc.in)
		if tc.valid {
			require.Equal(t, tc.want, got.Int64, tc.in)
		}
	}
}

func TestDollars_IdempotentOnOwnOutput(t *testing.T) {
	first, err := Dollars("$3,453.23")
	require.NoError(t, err)

	again, err := Dollars("345323")
	require.NoError(t, err)
	require.Equal(t, first, again)
}

func TestDollars_Malformed(t *testing.T) {
	for _, in := range []string{"$1.2.3", "$1.234", "abc", "$", "-5.00", "$1,2a4.00", "99999999999999999999"} {
		_, err := Dollars(in)
		require.True(t, errors.Is(err, ErrMalformedCurrency), "%q: %v", in, err)
	}
}

func TestISOTimestamp(t *testing.T) {
	got, err := ISOTimestamp("Dec-20-01 00:00:01", zap.NewNop())
	require.NoError(t, err)
	require.Equal(t, "2001-12-20 00:00:01", got)

	got, err = ISOTimestamp("Jan-05-02 17:03:44", nil)
	require.NoError(t, err)
	require.Equal(t, "2002-01-05 17:03:44", got)
}

func TestISOTimestamp_UnknownMonthPassesThroughWithWarning(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)

	got, err := ISOTimestamp("Foo-01-01 00:00:00", zap.New(core))
	require.NoError(t, err)
	require.Equal(t, "2001-Foo-01 00:00:00", got)
	require.Equal(t, 1, logs.FilterMessage("unrecognized month abbreviation").Len())
}

func TestISOTimestamp_Malformed(t *testing.T) {
	for _, in := range []string{
		"", "Dec-20-01", "Dec-20 00:00:00",
		"Dec-xx-01 garbage",
		"Dec-20-2001 00:00:00",
		"Dec-2-01 00:00:00",
		"Dec-32-01 00:00:00",
		"Dec-20-01 24:00:00",
		"Dec-20-01 9:00:00",
		"Dec-20-01 09:00",
		"Foo-xx-01 00:00:00",
	} {
		got, err := ISOTimestamp(in, nil)
		require.Empty(t, got, in)
		require.ErrorIs(t, err, ErrMalformedTimestamp, in)
	}
}

func TestISOTimestamp_AlwaysTwentyFirstCentury(t *testing.T) {
	got, err := FormatISO.Normalize("Dec-25-97 12:00:00", nil)
	require.NoError(t, err)
	require.Equal(t, "2097-12-25 12:00:00", got)

	epoch, err := FormatEpoch.Normalize("Dec-25-97 12:00:00", nil)
	require.NoError(t, err)
	require.Equal(t, time.Date(1997, 12, 25, 12, 0, 0, 0, time.UTC).Unix(), epoch)
}

func TestEpochTimestamp_YearPivot(t *testing.T) {
	got, err := EpochTimestamp("Dec-25-97 12:00:00")
	require.NoError(t, err)
	require.Equal(t, time.Date(1997, 12, 25, 12, 0, 0, 0, time.UTC).Unix(), got)

	got, err = EpochTimestamp("Dec-20-01 00:00:02")
	require.NoError(t, err)
	require.Equal(t, int64(1008806402), got)

	_, err = EpochTimestamp("Foo-01-01 00:00:00")
	require.ErrorIs(t, err, ErrMalformedTimestamp)
}

func TestTimestamps_PreserveChronologicalOrder(t *testing.T) {
	ordered := []string{
		"Dec-31-00 23:59:59",
		"Jan-01-01 00:00:00",
		"Feb-09-01 08:15:00",
		"Feb-10-01 08:14:59",
		"Oct-02-01 10:00:00",
		"Dec-20-01 00:00:01",
	}
	for _, f := range []TimestampFormat{FormatISO, FormatEpoch} {
		var prev any
		for _, in := range ordered {
			cur, err := f.Normalize(in, zap.NewNop())
			require.NoError(t, err)
			if prev != nil {
				switch p := prev.(type) {
				case string:
					require.Less(t, p, cur.(string), "%s: %s", f, in)
				case int64:
					require.Less(t, p, cur.(int64), "%s: %s", f, in)
				}
			}
			prev = cur
		}
	}
}

func TestTimestampFormat_ParseAndRender(t *testing.T) {
	f, err := ParseTimestampFormat("")
	require.NoError(t, err)
	require.Equal(t, FormatISO, f)

	f, err = ParseTimestampFormat("EPOCH")
	require.NoError(t, err)
	require.Equal(t, FormatEpoch, f)

	_, err = ParseTimestampFormat("rfc3339")
	require.Error(t, err)

	require.Equal(t, "2001-12-20 00:00:02", FormatISO.Render(1008806402))
	require.Equal(t, int64(1008806402), FormatEpoch.Render(1008806402))
}

func TestEscapeQuote(t *testing.T) {
	require.Nil(t, EscapeQuote(nil))

	s := `12" vinyl`
	require.Equal(t, `"12"" vinyl"`, *EscapeQuote(&s))

	empty := ""
	require.Equal(t, `""`, *EscapeQuote(&empty))
}

func TestPlainText(t *testing.T) {
	require.Equal(t, "no markup here", PlainText("no markup here"))
	require.Equal(t, "Great condition! Ships fast.", PlainText("<p>Great <b>condition</b>!</p>\n<p>Ships   fast.</p>"))
}

func TestCanonicalName(t *testing.T) {
	decomposed := "Cafe\u0301"
	require.Equal(t, "Caf\u00e9", CanonicalName("  "+decomposed+" "))
	require.Equal(t, CanonicalName("Caf\u00e9"), CanonicalName(decomposed))
}

package types

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/quarry/pkg/errors"
)

func TestMappingRoundTrip(t *testing.T) {
	for _, m := range []*Mapping{FrameMapping, ArrowMapping} {
		t.Run(m.Backend(), func(t *testing.T) {
			seen := make(map[string]DataType)
			for _, dt := range All {
				name := m.Name(dt)
				if prev, ok := seen[name]; ok {
					t.Fatalf("%q names both %s and %s", name, prev, dt)
				}
				seen[name] = dt

				back, err := m.Parse(name)
				require.NoError(t, err)
				assert.Equal(t, dt, back)
			}
		})
	}
}

func TestMappingNullableRoundTrip(t *testing.T) {
	nullable := DataType{Kind: KindU64, Nullable: true}
	back, err := FrameMapping.Parse(FrameMapping.Name(nullable))
	require.NoError(t, err)
	assert.True(t, back.Nullable)
	assert.Equal(t, KindU64, back.Kind)
}

func TestMappingParseUnknown(t *testing.T) {
	_, err := FrameMapping.Parse("datetime64[ns]")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeUnknownType))
}

func TestNewMappingRejectsDuplicates(t *testing.T) {
	assert.Panics(t, func() {
		NewMapping("bad", map[DataType]string{
			U64: "x", NullU64: "x", F64: "a", NullF64: "b",
			Bool: "c", NullBool: "d", String: "e", NullString: "f",
		})
	})
}

func TestDialectParse(t *testing.T) {
	tests := []struct {
		dialect *Dialect
		name    string
		want    Kind
	}{
		{Postgres, "int8", KindU64},
		{Postgres, "character varying(20)", KindString},
		{Postgres, "NUMERIC(10,2)", KindF64},
		{Postgres, "timestamp(3) with time zone", KindString},
		{MySQL, "UNSIGNED BIGINT", KindU64},
		{MySQL, "DECIMAL", KindF64},
		{SQLite, "INTEGER", KindU64},
		{SQLite, "VARCHAR(64)", KindString},
		{Snowflake, "FIXED", KindU64},
		{BigQuery, "FLOAT", KindF64},
		{BigQuery, "BOOLEAN", KindBool},
	}
	for _, tt := range tests {
		t.Run(tt.dialect.Name()+"/"+tt.name, func(t *testing.T) {
			got, err := tt.dialect.Parse(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := Postgres.Parse("tsvector")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeUnknownType))

	dt, err := MySQL.ParseExternalType("double", true)
	require.NoError(t, err)
	assert.Equal(t, NullF64, dt)
}

func TestCoerce(t *testing.T) {
	stamp := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		dt   DataType
		raw  any
		want Value
	}{
		{"int64 to u64", U64, int64(7), U64Value(7)},
		{"text to u64", U64, []byte("42"), U64Value(42)},
		{"fixed text to u64", U64, "42.000", U64Value(42)},
		{"int to f64", F64, int32(3), F64Value(3)},
		{"rat to f64", F64, big.NewRat(1, 4), F64Value(0.25)},
		{"int to bool", Bool, int64(1), BoolValue(true)},
		{"text to bool", Bool, "f", BoolValue(false)},
		{"bit to bool", Bool, []byte{1}, BoolValue(true)},
		{"time to string", String, stamp, StringValue("2024-05-01T12:00:00Z")},
		{"null", NullU64, nil, Null(KindU64)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Coerce(tt.dt, tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCoerceErrors(t *testing.T) {
	_, err := Coerce(U64, int64(-1))
	assert.True(t, errors.IsType(err, errors.ErrorTypeData))

	_, err = Coerce(U64, nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeData))

	_, err = Coerce(F64, "abc")
	assert.True(t, errors.IsType(err, errors.ErrorTypeData))

	_, err = Coerce(Bool, "maybe")
	assert.True(t, errors.IsType(err, errors.ErrorTypeData))
}

func TestSchema(t *testing.T) {
	s, err := NewSchema([]string{"id", "name"}, []DataType{U64, NullString})
	require.NoError(t, err)
	assert.Equal(t, 1, s.Index("name"))
	assert.Equal(t, -1, s.Index("missing"))
	assert.Equal(t, []DataType{U64, NullString}, s.Types())
	assert.Equal(t, "[id u64, name string?]", s.String())

	_, err = NewSchema([]string{"id"}, nil)
	assert.Error(t, err)
}

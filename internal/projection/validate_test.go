package projection

import (
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elasticmodels/elastic/internal/schema"
)

func fieldErrors(t *testing.T, err error) *schema.FieldErrors {
	t.Helper()
	fe, ok := schema.AsFieldErrors(err)
	require.True(t, ok, "expected *FieldErrors, got %v", err)
	return fe
}

func TestValidate_Aquarium(t *testing.T) {
	ds := BuildDescriptors(aquarium())

	got, err := ds.Validate(validAquarium())
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"volume":            int64(200),
		"temperature":       int64(24),
		"water":             "saltwater",
		"origin":            "Lake Malawi",
		"next_water_change": Date{2018, 5, 1},
	}, got)
}

func TestValidate_DecodedJSONNumbers(t *testing.T) {
	ds := BuildDescriptors(aquarium())

	dec := json.NewDecoder(strings.NewReader(`{"volume":200,"water":"freshwater","origin":"x","next_water_change":"2018-5-1"}`))
	dec.UseNumber()
	var payload map[string]any
	require.NoError(t, dec.Decode(&payload))

	got, err := ds.Validate(payload)
	require.NoError(t, err)
	assert.Equal(t, int64(200), got["volume"])
	assert.Nil(t, got["temperature"])
	assert.Equal(t, Date{2018, 5, 1}, got["next_water_change"])
}

func TestValidate_BlankNumberAcceptsNullAndEmpty(t *testing.T) {
	ds := BuildDescriptors(aquarium())

	for _, v := range []any{nil, ""} {
		p := validAquarium()
		p["temperature"] = v
		got, err := ds.Validate(p)
		require.NoError(t, err)
		assert.Nil(t, got["temperature"])
	}

	p := validAquarium()
	delete(p, "temperature")
	got, err := ds.Validate(p)
	require.NoError(t, err)
	assert.Contains(t, got, "temperature")
	assert.Nil(t, got["temperature"])
}

func TestValidate_Integer(t *testing.T) {
	ds := BuildDescriptors(aquarium())

	tests := []struct {
		in   any
		want int64
		ok   bool
	}{
		{float64(3), 3, true},
		{3, 3, true},
		{int64(-7), -7, true},
		{"42", 42, true},
		{" 42 ", 42, true},
		{"42.0", 42, true},
		{json.Number("12"), 12, true},
		{float64(3.5), 0, false},
		{"3.5", 0, false},
		{"abc", 0, false},
		{true, 0, false},
		{[]any{1}, 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		p := validAquarium()
		p["volume"] = tt.in
		got, err := ds.Validate(p)
		if !tt.ok {
			fe := fieldErrors(t, err)
			assert.Equal(t, []string{"A valid integer is required."}, fe.Messages("volume"), "input %#v", tt.in)
			assert.ErrorIs(t, err, ErrInvalidInteger)
			continue
		}
		require.NoError(t, err, "input %#v", tt.in)
		assert.Equal(t, tt.want, got["volume"])
	}
}

func TestValidate_RequiredMissing(t *testing.T) {
	ds := BuildDescriptors(aquarium())

	for _, name := range []string{"volume", "water", "origin", "next_water_change"} {
		p := validAquarium()
		delete(p, name)
		_, err := ds.Validate(p)
		fe := fieldErrors(t, err)
		assert.Equal(t, []string{"This field is required."}, fe.Messages(name))
		assert.ErrorIs(t, err, ErrRequired)

		p[name] = nil
		_, err = ds.Validate(p)
		assert.ErrorIs(t, err, ErrRequired)
	}
}

func TestValidate_Enum(t *testing.T) {
	ds := BuildDescriptors(aquarium())

	p := validAquarium()
	p["water"] = "brackish"
	_, err := ds.Validate(p)
	fe := fieldErrors(t, err)
	assert.Equal(t, []string{`"brackish" is not a valid choice.`}, fe.Messages("water"))
	assert.ErrorIs(t, err, ErrInvalidChoice)

	p["water"] = ""
	_, err = ds.Validate(p)
	assert.ErrorIs(t, err, ErrBlank)
}

func TestValidate_BlankEnum(t *testing.T) {
	s := &schema.Schema{ID: 9, Name: "tank"}
	s.Fields = []*schema.FieldSpec{{Name: "kind", Type: schema.TypeEnum, Blank: true, Choices: []string{"a"}}}
	ds := BuildDescriptors(s)

	got, err := ds.Validate(map[string]any{"kind": ""})
	require.NoError(t, err)
	assert.Equal(t, "", got["kind"])

	// blank enums are not nullable
	_, err = ds.Validate(map[string]any{})
	fe := fieldErrors(t, err)
	assert.Equal(t, []string{"This field may not be null."}, fe.Messages("kind"))
	assert.ErrorIs(t, err, ErrNotNull)
}

func TestValidate_Text(t *testing.T) {
	ds := BuildDescriptors(car())
	base := func() map[string]any {
		return map[string]any{"make": "Fiat", "mileage": 10, "first_registration_date": "2010-10-10"}
	}

	p := base()
	p["features"] = "  sunroof  "
	got, err := ds.Validate(p)
	require.NoError(t, err)
	assert.Equal(t, "sunroof", got["features"])

	p["features"] = float64(5)
	got, err = ds.Validate(p)
	require.NoError(t, err)
	assert.Equal(t, "5", got["features"])

	p["features"] = ""
	got, err = ds.Validate(p)
	require.NoError(t, err)
	assert.Equal(t, "", got["features"])

	p["features"] = true
	_, err = ds.Validate(p)
	assert.ErrorIs(t, err, ErrInvalidString)

	// blank text rejects null
	_, err = ds.Validate(base())
	assert.ErrorIs(t, err, ErrNotNull)
}

func TestValidate_RequiredTextRejectsEmpty(t *testing.T) {
	ds := BuildDescriptors(aquarium())
	p := validAquarium()
	p["origin"] = "   "
	_, err := ds.Validate(p)
	fe := fieldErrors(t, err)
	assert.Equal(t, []string{"This field may not be blank."}, fe.Messages("origin"))
}

func TestValidate_Date(t *testing.T) {
	ds := BuildDescriptors(aquarium())

	for _, in := range []any{"2018-13-01", "2018-02-30", "01-05-2018", "2018/05/01", "2018-05-01T00:00:00Z", float64(20180501)} {
		p := validAquarium()
		p["next_water_change"] = in
		_, err := ds.Validate(p)
		fe := fieldErrors(t, err)
		assert.Equal(t, []string{"Date has wrong format. Use YYYY-MM-DD."}, fe.Messages("next_water_change"), "input %v", in)
		assert.ErrorIs(t, err, ErrInvalidDate)
	}
}

func TestValidate_UnknownAndReservedKeys(t *testing.T) {
	ds := BuildDescriptors(aquarium())

	p := validAquarium()
	p["id"] = 99
	p["created_at"] = "whenever"
	_, err := ds.Validate(p)
	require.NoError(t, err)

	p["colour"] = "blue"
	p["bubbles"] = true
	_, err = ds.Validate(p)
	fe := fieldErrors(t, err)
	assert.Equal(t, []string{"bubbles", "colour"}, fe.Fields())
	assert.ErrorIs(t, err, ErrUnknownField)
}

func TestValidate_CollectsAllFailures(t *testing.T) {
	ds := BuildDescriptors(aquarium())

	_, err := ds.Validate(map[string]any{"volume": "lots", "water": "tap"})
	fe := fieldErrors(t, err)
	assert.Equal(t, []string{"volume", "water", "origin", "next_water_change"}, fe.Fields())
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	ds := BuildDescriptors(aquarium())

	values, err := ds.Validate(validAquarium())
	require.NoError(t, err)

	wire := ds.Encode(values)
	assert.Equal(t, "2018-05-01", wire["next_water_change"])

	// simulate the JSON column: integers come back as float64
	data, err := json.Marshal(wire)
	require.NoError(t, err)
	var stored map[string]any
	require.NoError(t, json.Unmarshal(data, &stored))

	decoded, err := ds.Decode(stored)
	require.NoError(t, err)
	assert.Equal(t, values, decoded)
}

func TestDecode_DropsStaleKeysAndFillsMissing(t *testing.T) {
	ds := BuildDescriptors(aquarium())

	got, err := ds.Decode(map[string]any{"volume": int64(1), "gone": "x"})
	require.NoError(t, err)
	assert.NotContains(t, got, "gone")
	assert.Len(t, got, 5)
	assert.Nil(t, got["origin"])
}

func TestDecode_CorruptValue(t *testing.T) {
	ds := BuildDescriptors(aquarium())
	_, err := ds.Decode(map[string]any{"volume": "many"})
	assert.ErrorIs(t, err, ErrInvalidInteger)
}

func TestConforms(t *testing.T) {
	ds := BuildDescriptors(aquarium())

	stored := ds.Encode(mustValidate(t, ds, validAquarium()))
	assert.True(t, ds.Conforms(stored))

	stored["stale"] = "ignored"
	assert.True(t, ds.Conforms(stored))

	delete(stored, "origin")
	assert.False(t, ds.Conforms(stored))
}

func mustValidate(t *testing.T, ds *DescriptorSet, p map[string]any) map[string]any {
	t.Helper()
	v, err := ds.Validate(p)
	require.NoError(t, err)
	return v
}
